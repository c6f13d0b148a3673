package transforms

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
)

// knownMoments holds per-channel pixel statistics of the supported datasets, measured
// over their training splits.
var knownMoments = map[string]struct{ mean, stddev []float32 }{
	"cifar10":  {mean: []float32{0.491, 0.482, 0.447}, stddev: []float32{0.247, 0.243, 0.262}},
	"cifar100": {mean: []float32{0.507, 0.487, 0.441}, stddev: []float32{0.267, 0.256, 0.276}},
}

// momentsSampleSize caps the scan used to measure moments of unknown datasets.
const momentsSampleSize = 2048

// ForDataset returns the training augmentation pipeline for ds: random resized crop,
// horizontal flip, color jitter, occasional grayscale, then normalization.
func ForDataset(ds datasets.Dataset) (Transform, error) {
	normalize, err := normalizeFor(ds)
	if err != nil {
		return nil, err
	}
	return Compose{
		RandomResizedCrop{Size: ds.ImageSize(), MinScale: 0.08, MaxScale: 1.0},
		RandomHorizontalFlip{P: 0.5},
		RandomApply{
			Transform: ColorJitter{Brightness: 0.8, Contrast: 0.8, Saturation: 0.8, Hue: 0.2},
			P:         0.8,
		},
		RandomGrayscale{P: 0.2},
		normalize,
	}, nil
}

// Eval returns the deterministic pipeline used to serve evaluation images:
// normalization only.
func Eval(ds datasets.Dataset) (Transform, error) {
	return normalizeFor(ds)
}

func normalizeFor(ds datasets.Dataset) (Transform, error) {
	if m, found := knownMoments[ds.Name()]; found {
		return Normalize{Mean: m.mean, Stddev: m.stddev}, nil
	}
	klog.V(1).Infof("No precomputed moments for dataset %q, measuring them on up to %d examples",
		ds.Name(), momentsSampleSize)
	mean, stddev, err := datasets.Moments(ds, momentsSampleSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot build normalization for dataset %q", ds.Name())
	}
	for c, s := range stddev {
		if s == 0 {
			stddev[c] = 1 // Constant channels are only shifted.
		}
	}
	return Normalize{Mean: mean, Stddev: stddev}, nil
}
