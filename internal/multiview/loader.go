package multiview

import (
	"context"
	"math/rand/v2"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
)

// Batch is one view-major mini-batch: NumViews blocks of Size images each, where
// block v holds the v-th view of every example, in the same example order across
// blocks.
//
// Pixels is the flattened [NumViews*Size, Height, Width, Channels] tensor; the image
// of block v, example e starts at (v*Size+e)*Height*Width*Channels.
type Batch struct {
	Epoch, Index            int
	Size, NumViews          int
	Height, Width, Channels int
	Pixels                  []float32
	Labels                  []int32
}

// Rows returns NumViews*Size, the leading dimension of the stacked tensor.
func (b *Batch) Rows() int { return b.NumViews * b.Size }

// prefetchDepth bounds how many assembled batches may wait ahead of the consumer.
const prefetchDepth = 2

// Loader iterates a dataset in shuffled order, augmenting examples with a pool of
// workers and emitting fixed-size batches. The final short batch of an epoch, if
// any, is dropped, so every emitted batch splits cleanly into NumViews blocks of
// Size examples.
type Loader struct {
	sampler   *Sampler
	batchSize int
	workers   int
}

// NewLoader returns a loader emitting batches of batchSize examples. workers bounds
// the parallel augmentation goroutines, defaulting to runtime.NumCPU() when <= 0.
func NewLoader(sampler *Sampler, batchSize, workers int) (*Loader, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := &Loader{sampler: sampler, batchSize: batchSize, workers: workers}
	if l.BatchesPerEpoch() == 0 {
		return nil, errors.Errorf("dataset %q has %d examples, not enough for one batch of %d",
			sampler.Dataset().Name(), sampler.Dataset().Len(), batchSize)
	}
	return l, nil
}

// Sampler returns the wrapped sampler.
func (l *Loader) Sampler() *Sampler { return l.sampler }

// BatchSize returns the number of examples per batch.
func (l *Loader) BatchSize() int { return l.batchSize }

// BatchesPerEpoch returns the number of full batches emitted per epoch.
func (l *Loader) BatchesPerEpoch() int { return l.sampler.Dataset().Len() / l.batchSize }

// Epoch starts assembling the shuffled batches of one epoch, at most prefetchDepth
// ahead of the consumer. It returns the channel of batches, closed when the epoch
// ends, and a wait function reporting the first error. Callers must drain the
// channel before calling wait.
//
// The shuffle order is a pure function of the sampler seed and the epoch number.
func (l *Loader) Epoch(ctx context.Context, epoch int) (<-chan *Batch, func() error) {
	out := make(chan *Batch, prefetchDepth)
	var wg errgroup.Group
	wg.Go(func() error {
		defer close(out)
		numExamples := l.sampler.Dataset().Len()
		if dropped := numExamples % l.batchSize; dropped != 0 {
			klog.V(1).Infof("Epoch %d: dropping %d examples that don't fill a batch of %d",
				epoch, dropped, l.batchSize)
		}
		rng := rand.New(rand.NewPCG(l.sampler.Seed(), mix(uint64(epoch))))
		indices := rng.Perm(numExamples)
		for b := range l.BatchesPerEpoch() {
			batch, err := l.assemble(ctx, epoch, b, indices[b*l.batchSize:(b+1)*l.batchSize])
			if err != nil {
				return err
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return out, wg.Wait
}

// assemble draws the views of every example of one batch in parallel and stacks them
// into the view-major layout.
func (l *Loader) assemble(ctx context.Context, epoch, batchIdx int, indices []int) (*Batch, error) {
	size := len(indices)
	views := make([][]datasets.Image, size)
	labels := make([]int32, size)
	var wg errgroup.Group
	wg.SetLimit(l.workers)
	for pos, index := range indices {
		wg.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var err error
			views[pos], labels[pos], err = l.sampler.Sample(epoch, index)
			return err
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "failed to assemble batch %d of epoch %d", batchIdx, epoch)
	}

	numViews := len(views[0])
	first := views[0][0]
	pixelsPerImage := len(first.Pixels)
	batch := &Batch{
		Epoch:    epoch,
		Index:    batchIdx,
		Size:     size,
		NumViews: numViews,
		Height:   first.Height,
		Width:    first.Width,
		Channels: first.Channels,
		Pixels:   make([]float32, numViews*size*pixelsPerImage),
		Labels:   labels,
	}
	for e, exampleViews := range views {
		for v, img := range exampleViews {
			if len(img.Pixels) != pixelsPerImage {
				return nil, errors.Errorf(
					"augmented views disagree on image shape: example %d view %d has %d values, want %d",
					indices[e], v, len(img.Pixels), pixelsPerImage)
			}
			copy(batch.Pixels[(v*size+e)*pixelsPerImage:], img.Pixels)
		}
	}
	return batch, nil
}
