package multiview

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
)

func collectEpoch(t *testing.T, l *Loader, epoch int) []*Batch {
	t.Helper()
	batches, wait := l.Epoch(context.Background(), epoch)
	var out []*Batch
	for batch := range batches {
		out = append(out, batch)
	}
	require.NoError(t, wait())
	return out
}

func TestLoaderViewMajorLayout(t *testing.T) {
	const n, side, numViews, batchSize = 6, 2, 3, 2
	ds := constDataset(n, side)
	s, err := NewSampler(ds, identityTransform{}, numViews, 3)
	require.NoError(t, err)
	l, err := NewLoader(s, batchSize, 3)
	require.NoError(t, err)
	require.Equal(t, 3, l.BatchesPerEpoch())

	seen := make(map[int32]bool)
	for _, batch := range collectEpoch(t, l, 0) {
		require.Equal(t, batchSize, batch.Size)
		require.Equal(t, numViews, batch.NumViews)
		require.Equal(t, numViews*batchSize, batch.Rows())
		require.Equal(t, side, batch.Height)
		require.Equal(t, side, batch.Width)
		require.Equal(t, 1, batch.Channels)
		require.Len(t, batch.Labels, batchSize)
		require.Len(t, batch.Pixels, batch.Rows()*side*side)

		pixelsPerImage := side * side
		for v := range numViews {
			for e := range batchSize {
				// With the identity transform every pixel of the view equals the
				// example id, which equals its label.
				row := batch.Pixels[(v*batchSize+e)*pixelsPerImage : (v*batchSize+e+1)*pixelsPerImage]
				for _, value := range row {
					require.Equal(t, float32(batch.Labels[e]), value,
						"block %d example %d must hold that example's view", v, e)
				}
			}
		}
		for _, label := range batch.Labels {
			seen[label] = true
		}
	}
	assert.Len(t, seen, n, "one epoch must visit every example exactly once")
}

func TestLoaderShuffleIsSeededPerEpoch(t *testing.T) {
	ds := constDataset(100, 2)
	s, err := NewSampler(ds, identityTransform{}, 2, 7)
	require.NoError(t, err)
	l, err := NewLoader(s, 10, 4)
	require.NoError(t, err)

	labelsOf := func(epoch int) []int32 {
		var labels []int32
		for _, batch := range collectEpoch(t, l, epoch) {
			labels = append(labels, batch.Labels...)
		}
		return labels
	}

	epoch0 := labelsOf(0)
	require.Len(t, epoch0, 100)
	assert.Equal(t, epoch0, labelsOf(0), "same epoch must replay the same order")
	assert.NotEqual(t, epoch0, labelsOf(1), "different epochs must reshuffle")
}

func TestLoaderDropsShortTail(t *testing.T) {
	ds := constDataset(5, 2)
	s, err := NewSampler(ds, identityTransform{}, 2, 1)
	require.NoError(t, err)
	l, err := NewLoader(s, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 2, l.BatchesPerEpoch())

	batches := collectEpoch(t, l, 0)
	require.Len(t, batches, 2)
	for _, batch := range batches {
		assert.Equal(t, 2, batch.Size)
	}
}

func TestLoaderValidation(t *testing.T) {
	ds := constDataset(1, 2)
	s, err := NewSampler(ds, identityTransform{}, 2, 1)
	require.NoError(t, err)

	_, err = NewLoader(s, 0, 1)
	require.ErrorContains(t, err, "batch size")

	_, err = NewLoader(s, 2, 1)
	require.ErrorContains(t, err, "not enough")
}

// failingDataset fails to decode one specific example.
type failingDataset struct {
	*datasets.Slice
	failAt int
}

func (f *failingDataset) Sample(index int) (datasets.Image, int32, error) {
	if index == f.failAt {
		return datasets.Image{}, 0, errors.New("corrupted record")
	}
	return f.Slice.Sample(index)
}

func TestLoaderPropagatesSampleErrors(t *testing.T) {
	ds := &failingDataset{Slice: constDataset(4, 2), failAt: 3}
	s, err := NewSampler(ds, identityTransform{}, 2, 1)
	require.NoError(t, err)
	l, err := NewLoader(s, 2, 2)
	require.NoError(t, err)

	batches, wait := l.Epoch(context.Background(), 0)
	for range batches {
	}
	err = wait()
	require.ErrorContains(t, err, "corrupted record")
	require.ErrorContains(t, err, "failed to assemble")
}

func TestLoaderHonorsCancellation(t *testing.T) {
	ds := constDataset(20, 2)
	s, err := NewSampler(ds, identityTransform{}, 2, 1)
	require.NoError(t, err)
	l, err := NewLoader(s, 2, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batches, wait := l.Epoch(ctx, 0)
	for range batches {
	}
	require.ErrorIs(t, wait(), context.Canceled)
}
