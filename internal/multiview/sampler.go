// Package multiview draws independently augmented views of unlabeled examples and
// assembles them into the view-major batches consumed by the relation learner.
package multiview

import (
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/transforms"
)

// Sampler wraps a dataset and draws a fixed number of augmented views per example.
//
// Randomness is fully explicit: the generator of each view is derived from the
// sampler seed and the (epoch, index, view) tuple, so re-sampling the same tuple
// reproduces the same pixels, from any goroutine, in any order.
type Sampler struct {
	ds        datasets.Dataset
	transform transforms.Transform
	numViews  int
	seed      uint64
}

// NewSampler returns a sampler drawing numViews views of each example of ds.
//
// A nil transform puts the sampler in raw passthrough mode: Sample returns the
// single unaugmented image regardless of numViews. This degenerate mode serves
// feature extraction and debugging, not pretraining.
func NewSampler(ds datasets.Dataset, transform transforms.Transform, numViews int, seed uint64) (*Sampler, error) {
	if numViews < 1 {
		return nil, errors.Errorf("sampler needs at least 1 view per example, got %d", numViews)
	}
	return &Sampler{ds: ds, transform: transform, numViews: numViews, seed: seed}, nil
}

// Dataset returns the wrapped dataset.
func (s *Sampler) Dataset() datasets.Dataset { return s.ds }

// NumViews returns the number of views drawn per example: 1 in passthrough mode.
func (s *Sampler) NumViews() int {
	if s.transform == nil {
		return 1
	}
	return s.numViews
}

// Seed returns the sampler seed.
func (s *Sampler) Seed() uint64 { return s.seed }

// Sample returns the augmented views of the example at index, plus its label. The
// label is reported for downstream evaluation only; pretraining never reads it.
func (s *Sampler) Sample(epoch, index int) ([]datasets.Image, int32, error) {
	img, label, err := s.ds.Sample(index)
	if err != nil {
		return nil, 0, err
	}
	if s.transform == nil {
		return []datasets.Image{img}, label, nil
	}
	views := make([]datasets.Image, s.numViews)
	for v := range s.numViews {
		views[v] = s.transform.Apply(s.rngFor(epoch, index, v), img.Clone())
	}
	return views, label, nil
}

// rngFor derives the independent generator of one (epoch, index, view) draw.
func (s *Sampler) rngFor(epoch, index, view int) *rand.Rand {
	stream := mix(mix(mix(uint64(epoch))+uint64(index)) + uint64(view))
	return rand.New(rand.NewPCG(s.seed, stream))
}

// mix is one splitmix64 step, used to decorrelate consecutive seed values.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
