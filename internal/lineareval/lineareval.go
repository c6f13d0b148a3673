// Package lineareval benchmarks a pretrained backbone the standard way: the
// backbone parameters stay frozen while a single linear classifier is trained on
// its features with the true labels, and accuracy on held-out examples is reported.
package lineareval

import (
	"sync"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
)

// muNewExec serializes probe graph compilations.
var muNewExec sync.Mutex

// Config of one linear evaluation run.
type Config struct {
	// BatchSize for probe training and feature extraction, at least 1.
	BatchSize int

	// Epochs of probe training over the train split, at least 1.
	Epochs int

	// Seed drives probe initialization and the training shuffle.
	Seed int64

	// Params overwrite the probe hyperparameters, e.g. "learning_rate=0.1".
	Params parameters.Params
}

// Result of a linear evaluation run.
type Result struct {
	// TrainAccuracy and TestAccuracy are the fractions of correctly classified
	// examples per split, in [0, 1].
	TrainAccuracy, TestAccuracy float32

	// FinalLoss is the mean probe loss over the last training epoch.
	FinalLoss float32
}

// Evaluator trains and scores the linear probe of one pretrained backbone.
//
// It owns a fresh context, separate from the learner's, so evaluation cannot touch
// the backbone parameters: the probe only ever sees materialized feature tensors,
// produced with inference-mode normalization statistics.
type Evaluator struct {
	learner *relation.Learner
	cfg     Config

	ctx        *context.Context
	numClasses int

	// Executors.
	trainStepExec, predictExec *context.Exec

	// optimizer updates the probe parameters only.
	optimizer optimizers.Interface

	// NumCompilations of computation graphs.
	NumCompilations int
}

// NewEvaluator builds the probe context and executors for a numClasses-way linear
// classifier over the learner's features.
func NewEvaluator(cfg Config, learner *relation.Learner, numClasses int) (*Evaluator, error) {
	if cfg.BatchSize < 1 {
		return nil, errors.Errorf("linear evaluation needs a batch size of at least 1, got %d", cfg.BatchSize)
	}
	if cfg.Epochs < 1 {
		return nil, errors.Errorf("linear evaluation needs at least 1 epoch, got %d", cfg.Epochs)
	}
	if numClasses < 2 {
		return nil, errors.Errorf("linear evaluation needs at least 2 classes, got %d", numClasses)
	}
	e := &Evaluator{learner: learner, cfg: cfg, numClasses: numClasses}
	e.ctx = context.New()
	e.ctx.RngStateFromSeed(cfg.Seed)
	e.ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.01,
		optimizers.ParamAdamEpsilon:  1e-7,
		optimizers.ParamAdamDType:    "",
	})
	e.ctx = e.ctx.Checked(false)
	if err := relation.ExtractParams(cfg.Params, e.ctx); err != nil {
		return nil, err
	}
	if err := cfg.Params.AssertConsumed(); err != nil {
		return nil, err
	}
	e.optimizer = optimizers.FromContext(e.ctx)
	e.createExecutors()
	return e, nil
}

func (e *Evaluator) createExecutors() {
	muNewExec.Lock()
	defer muNewExec.Unlock()
	e.trainStepExec = context.NewExec(relation.Backend(), e.ctx,
		func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			e.NumCompilations++
			features, labels := inputs[0], inputs[1]
			g := features.Graph()
			ctx.SetTraining(g, true)
			logits := e.logitsGraph(ctx, features)
			loss := losses.SparseCategoricalCrossEntropyLogits([]*graph.Node{labels}, []*graph.Node{logits})
			if !loss.IsScalar() {
				loss = graph.ReduceAllMean(loss)
			}
			e.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return loss
		})
	e.trainStepExec.SetMaxCache(16)
	e.predictExec = context.NewExec(relation.Backend(), e.ctx,
		func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			e.NumCompilations++
			logits := e.logitsGraph(ctx, inputs[0])
			return graph.ArgMax(logits, -1, dtypes.Int32)
		})
	e.predictExec.SetMaxCache(16)
}

// logitsGraph is the probe itself: one dense layer from features to class logits.
func (e *Evaluator) logitsGraph(ctx *context.Context, features *graph.Node) *graph.Node {
	logits := fnnLayer.New(ctx.In("probe"), features, e.numClasses).NumHiddenLayers(0, 0).Done()
	logits.AssertDims(features.Shape().Dim(0), e.numClasses)
	return logits
}

// createInputs assembles the feature and label tensors of the given example rows.
func (e *Evaluator) createInputs(fs *featureSet, indices []int) (features, labels *tensors.Tensor) {
	features = tensors.FromShape(shapes.Make(dtypes.Float32, len(indices), fs.width))
	tensors.MutableFlatData(features, func(flat []float32) {
		for pos, idx := range indices {
			copy(flat[pos*fs.width:], fs.row(idx))
		}
	})
	labels = tensors.FromShape(shapes.Make(dtypes.Int32, len(indices)))
	tensors.MutableFlatData(labels, func(flat []int32) {
		for pos, idx := range indices {
			flat[pos] = fs.labels[idx]
		}
	})
	return
}

// Finalize frees the probe executors and variables, leaving the evaluator unusable.
func (e *Evaluator) Finalize() {
	e.trainStepExec.Finalize()
	e.predictExec.Finalize()
	e.ctx.Finalize()
}
