package train

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/multiview"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/transforms"
)

// testDataset builds an in-memory dataset of n pseudo-random 8x8 RGB images.
func testDataset(n int) *datasets.Slice {
	rng := rand.New(rand.NewPCG(17, 19))
	ds := &datasets.Slice{DatasetName: "synthetic", Side: 8, Classes: 2}
	for i := range n {
		img := datasets.NewImage(8, 8, 3)
		for p := range img.Pixels {
			img.Pixels[p] = rng.Float32()
		}
		ds.Images = append(ds.Images, img)
		ds.Labels = append(ds.Labels, int32(i%2))
	}
	return ds
}

func testLearner(t *testing.T, numViews int) *relation.Learner {
	learner, err := relation.NewLearner(relation.Config{
		NumViews: numViews,
		Seed:     42,
		Params:   parameters.NewFromConfigString("conv4_channels=2,hidden_nodes=8"),
	})
	require.NoError(t, err)
	return learner
}

func testLoader(t *testing.T, ds datasets.Dataset, numViews, batchSize int) *multiview.Loader {
	sampler, err := multiview.NewSampler(ds,
		transforms.Compose{transforms.RandomHorizontalFlip{P: 0.5}}, numViews, 7)
	require.NoError(t, err)
	loader, err := multiview.NewLoader(sampler, batchSize, 2)
	require.NoError(t, err)
	return loader
}

func TestConfig_Validate(t *testing.T) {
	ds := testDataset(8)
	learner := testLearner(t, 2)
	loader := testLoader(t, ds, 2, 4)

	require.NoError(t, Config{Epochs: 1}.Validate(learner, loader))
	require.ErrorContains(t, Config{Epochs: 0}.Validate(learner, loader), "at least 1 epoch")

	tiny := testLoader(t, ds, 2, 1)
	require.ErrorContains(t, Config{Epochs: 1}.Validate(learner, tiny), "at least 2 examples")

	mismatched := testLoader(t, ds, 3, 4)
	require.ErrorContains(t, Config{Epochs: 1}.Validate(learner, mismatched), "views")
}

func TestRun_OneUpdatePerBatch(t *testing.T) {
	ds := testDataset(8)
	learner := testLearner(t, 2)
	loader := testLoader(t, ds, 2, 4)
	require.Equal(t, 2, loader.BatchesPerEpoch())

	err := Run(context.Background(), Config{Epochs: 2}, learner, loader)
	require.NoError(t, err)
	assert.EqualValues(t, 4, learner.GlobalStep())

	// A further run keeps counting from where it stopped.
	err = Run(context.Background(), Config{Epochs: 1}, learner, loader)
	require.NoError(t, err)
	assert.EqualValues(t, 6, learner.GlobalStep())
}

func TestRun_Cancellation(t *testing.T) {
	ds := testDataset(8)
	learner := testLearner(t, 2)
	loader := testLoader(t, ds, 2, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, Config{Epochs: 100}, learner, loader)
	require.Error(t, err)
	assert.Zero(t, learner.GlobalStep())
}

// brokenDataset fails on one specific example.
type brokenDataset struct {
	*datasets.Slice
	failAt int
}

func (b *brokenDataset) Sample(index int) (datasets.Image, int32, error) {
	if index == b.failAt {
		return datasets.Image{}, 0, errors.New("broken example")
	}
	return b.Slice.Sample(index)
}

func TestRun_AbortsOnDataError(t *testing.T) {
	failing := &brokenDataset{Slice: testDataset(8), failAt: 3}
	learner := testLearner(t, 2)
	loader := testLoader(t, failing, 2, 4)

	err := Run(context.Background(), Config{Epochs: 1}, learner, loader)
	require.ErrorContains(t, err, "broken example")
}
