package lineareval

import (
	"context"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
)

func testLearner(t *testing.T) *relation.Learner {
	learner, err := relation.NewLearner(relation.Config{
		NumViews: 2,
		Seed:     42,
		Params:   parameters.NewFromConfigString("conv4_channels=2,hidden_nodes=8"),
	})
	require.NoError(t, err)
	return learner
}

// twoToneDataset builds n examples of two trivially separable classes: class 0
// images are uniformly dark, class 1 images uniformly bright.
func twoToneDataset(n int) *datasets.Slice {
	ds := &datasets.Slice{DatasetName: "twotone", Side: 8, Classes: 2}
	for i := range n {
		img := datasets.NewImage(8, 8, 3)
		value, label := float32(0.1), int32(0)
		if i%2 == 1 {
			value, label = 0.9, 1
		}
		for p := range img.Pixels {
			img.Pixels[p] = value
		}
		ds.Images = append(ds.Images, img)
		ds.Labels = append(ds.Labels, label)
	}
	return ds
}

func TestNewEvaluator_Validation(t *testing.T) {
	learner := testLearner(t)

	_, err := NewEvaluator(Config{BatchSize: 0, Epochs: 1}, learner, 2)
	require.ErrorContains(t, err, "batch size")

	_, err = NewEvaluator(Config{BatchSize: 4, Epochs: 0}, learner, 2)
	require.ErrorContains(t, err, "at least 1 epoch")

	_, err = NewEvaluator(Config{BatchSize: 4, Epochs: 1}, learner, 1)
	require.ErrorContains(t, err, "at least 2 classes")

	cfg := Config{BatchSize: 4, Epochs: 1, Params: parameters.NewFromConfigString("bogus=1")}
	_, err = NewEvaluator(cfg, learner, 2)
	require.ErrorContains(t, err, "unknown configuration parameters")
}

func TestEvaluator_ClassMismatch(t *testing.T) {
	learner := testLearner(t)
	eval, err := NewEvaluator(Config{BatchSize: 4, Epochs: 1}, learner, 5)
	require.NoError(t, err)
	_, err = eval.Run(context.Background(), twoToneDataset(8), twoToneDataset(8))
	require.ErrorContains(t, err, "classes")
}

func TestEvaluator_SeparatesTrivialClasses(t *testing.T) {
	learner := testLearner(t)
	trainDS := twoToneDataset(16)
	testDS := twoToneDataset(8)

	eval, err := NewEvaluator(Config{
		BatchSize: 4,
		Epochs:    50,
		Seed:      3,
		Params:    parameters.NewFromConfigString("learning_rate=0.05"),
	}, learner, 2)
	require.NoError(t, err)

	res, err := eval.Run(context.Background(), trainDS, testDS)
	require.NoError(t, err)
	assert.False(t, math32.IsNaN(res.FinalLoss) || math32.IsInf(res.FinalLoss, 0))
	// Even an untrained backbone maps the two tones to distinct features; the probe
	// must separate them.
	assert.GreaterOrEqual(t, res.TrainAccuracy, float32(0.9))
	assert.GreaterOrEqual(t, res.TestAccuracy, float32(0.9))
}

func TestEvaluator_Cancellation(t *testing.T) {
	learner := testLearner(t)
	eval, err := NewEvaluator(Config{BatchSize: 4, Epochs: 1000}, learner, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eval.Run(ctx, twoToneDataset(8), twoToneDataset(8))
	require.ErrorIs(t, err, context.Canceled)
}
