package datasets

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// Moments computes the per-channel mean and standard deviation over the first
// maxExamples images of ds, or over the whole dataset if maxExamples <= 0.
//
// Samples are materialized one channel at a time, so memory grows with
// maxExamples * ImageSize^2; cap maxExamples when scanning large datasets.
func Moments(ds Dataset, maxExamples int) (mean, stddev []float32, err error) {
	numExamples := ds.Len()
	if maxExamples > 0 && maxExamples < numExamples {
		numExamples = maxExamples
	}
	if numExamples == 0 {
		return nil, nil, errors.Errorf("cannot compute moments of empty dataset %q", ds.Name())
	}
	first, _, err := ds.Sample(0)
	if err != nil {
		return nil, nil, err
	}
	channels := first.Channels
	plane := first.Height * first.Width
	mean = make([]float32, channels)
	stddev = make([]float32, channels)
	samples := make([]float64, numExamples*plane)
	for c := range channels {
		for e := range numExamples {
			img := first
			if e > 0 {
				img, _, err = ds.Sample(e)
				if err != nil {
					return nil, nil, err
				}
			}
			for p := range plane {
				samples[e*plane+p] = float64(img.Pixels[p*channels+c])
			}
		}
		m, s := stat.MeanStdDev(samples, nil)
		mean[c], stddev[c] = float32(m), float32(s)
	}
	klog.V(1).Infof("Moments of %s over %d examples: mean=%v stddev=%v",
		ds.Name(), numExamples, mean, stddev)
	return mean, stddev, nil
}
