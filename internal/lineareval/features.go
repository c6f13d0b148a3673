package lineareval

import (
	"context"
	"math/rand/v2"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/multiview"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/transforms"
)

// featureSet holds the frozen-backbone features of one dataset split, one row per
// example, in dataset order.
type featureSet struct {
	features []float32
	labels   []int32
	width    int
}

func (fs *featureSet) len() int { return len(fs.labels) }

func (fs *featureSet) row(i int) []float32 {
	return fs.features[i*fs.width : (i+1)*fs.width]
}

// extractFeatures runs every example of ds through the frozen backbone, in batches
// of batchSize, after the deterministic evaluation transform. No example is
// skipped: the last batch may be short.
func extractFeatures(ctx context.Context, learner *relation.Learner, ds datasets.Dataset, batchSize int) (*featureSet, error) {
	normalize, err := transforms.Eval(ds)
	if err != nil {
		return nil, err
	}
	// The evaluation transform is deterministic; the generator is never drawn from.
	rng := rand.New(rand.NewPCG(0, 0))

	fs := &featureSet{width: learner.FeatureSize()}
	fs.labels = make([]int32, 0, ds.Len())
	fs.features = make([]float32, 0, ds.Len()*fs.width)
	for start := 0; start < ds.Len(); start += batchSize {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		end := min(start+batchSize, ds.Len())
		batch := &multiview.Batch{
			Index:    start / batchSize,
			Size:     end - start,
			NumViews: 1,
		}
		for i := start; i < end; i++ {
			img, label, err := ds.Sample(i)
			if err != nil {
				return nil, errors.WithMessagef(err, "failed to read example %d of %s", i, ds.Name())
			}
			img = normalize.Apply(rng, img)
			if batch.Pixels == nil {
				batch.Height, batch.Width, batch.Channels = img.Height, img.Width, img.Channels
				batch.Pixels = make([]float32, batch.Size*len(img.Pixels))
			}
			copy(batch.Pixels[(i-start)*len(img.Pixels):], img.Pixels)
			fs.labels = append(fs.labels, label)
		}
		featuresT, err := learner.Features(batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "feature extraction failed on examples [%d, %d) of %s",
				start, end, ds.Name())
		}
		fs.features = append(fs.features, tensors.CopyFlatData[float32](featuresT)...)
	}
	klog.V(1).Infof("Extracted %d feature rows of width %d from %s", fs.len(), fs.width, ds.Name())
	return fs, nil
}
