package relation

import (
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/multiview"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
)

// Scopes holding the two trained parameter sets.
const (
	backboneScope = "backbone"
	headScope     = "head"
)

// Config configures a Learner.
type Config struct {
	// Backbone architecture name. Defaults to "conv4".
	Backbone string

	// NumViews is the number of augmented views drawn per example, at least 2.
	NumViews int

	// CheckpointDir persists (and restores) the model variables. Empty disables
	// persistence.
	CheckpointDir string

	// CheckpointsToKeep is the number of older checkpoint copies kept, default 10.
	CheckpointsToKeep int

	// Seed drives variable initialization, so runs are reproducible.
	Seed int64

	// Params overwrite the model context hyperparameters, e.g.
	// "learning_rate=0.0005,conv4_channels=16". Unknown keys are an error.
	Params parameters.Params
}

// Learner owns everything of one pretraining run: the backbone and head variables,
// their shared optimizer, the compiled executors and the checkpoint handler.
//
// The backbone and head live in two scopes of one context, and the single optimizer
// updates both parameter sets jointly; no other component mutates them. TrainStep
// takes the write lock, scoring paths take the read lock, so parameters never
// change mid-forward.
type Learner struct {
	backboneName string
	backbone     Backbone
	head         Head

	ctx *context.Context

	// Executors.
	trainStepExec, lossExec, featuresExec *context.Exec

	// checkpoint handler, if the model is being saved/loaded to/from disk.
	checkpoint *checkpoints.Handler

	numViews int

	// muLearning: "write" for learning, "read" for scoring.
	muLearning sync.RWMutex

	// muSave makes saving sequential.
	muSave sync.Mutex

	// optimizer used when training the model.
	optimizer optimizers.Interface

	// NumCompilations of computation graphs.
	NumCompilations int
}

// newModelContext returns a fresh context holding the default hyperparameters
// recognized by this package.
func newModelContext(seed int64) *context.Context {
	ctx := context.New()
	ctx.RngStateFromSeed(seed)
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:       "adam",
		optimizers.ParamLearningRate:    0.001,
		optimizers.ParamAdamEpsilon:     1e-7,
		optimizers.ParamAdamDType:       "",
		cosineschedule.ParamPeriodSteps: 0,
		layers.ParamDropoutRate:         0.0,
		regularizers.ParamL2:            0.0,
		regularizers.ParamL1:            0.0,

		ParamConv4Channels: 8,
		ParamHiddenNodes:   256,
	})
	return ctx.Checked(false)
}

// NewLearner builds the model context, backbone, head, optimizer and executors for
// cfg, loading previously saved variables when cfg.CheckpointDir holds a checkpoint.
func NewLearner(cfg Config) (*Learner, error) {
	if cfg.NumViews < 2 {
		return nil, errors.Errorf(
			"relational pretraining needs at least 2 views per example to form pairs, got %d",
			cfg.NumViews)
	}
	l := &Learner{
		ctx:      newModelContext(cfg.Seed),
		numViews: cfg.NumViews,
	}

	// Create checkpoint, and load it if it exists: saved hyperparameters and
	// variables come back before anything reads them.
	var err error
	if cfg.CheckpointDir != "" {
		keep := cfg.CheckpointsToKeep
		if keep <= 0 {
			keep = 10
		}
		l.checkpoint, err = checkpoints.Build(l.ctx).
			Dir(cfg.CheckpointDir).
			Keep(keep).
			Immediate().
			Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build checkpoint for model in path %q",
				cfg.CheckpointDir)
		}
	}

	// Create the backend.
	_ = backend()

	// Overwrite hyperparameters from given params, and reject leftovers.
	if err := ExtractParams(cfg.Params, l.ctx); err != nil {
		return nil, err
	}
	if err := cfg.Params.AssertConsumed(); err != nil {
		return nil, err
	}

	l.backbone, err = NewBackbone(cfg.Backbone, l.ctx)
	if err != nil {
		return nil, err
	}
	l.backboneName = cfg.Backbone
	if l.backboneName == "" {
		l.backboneName = "conv4"
	}
	l.head, err = NewPairHead(context.GetParamOr(l.ctx, ParamHiddenNodes, 256))
	if err != nil {
		return nil, err
	}

	// Create optimizer to be used in training.
	l.optimizer = optimizers.FromContext(l.ctx)
	l.createExecutors()
	return l, nil
}

func (l *Learner) createExecutors() {
	muNewExec.Lock()
	defer muNewExec.Unlock()
	l.featuresExec = context.NewExec(backend(), l.ctx,
		func(ctx *context.Context, inputs []*graph.Node) *graph.Node {
			l.NumCompilations++
			return l.backbone.FeaturesGraph(ctx.In(backboneScope), inputs[0])
		})
	l.featuresExec.SetMaxCache(16)
	l.lossExec = context.NewExec(backend(), l.ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			l.NumCompilations++
			loss, accuracy := l.relationGraph(ctx, inputs[0])
			return []*graph.Node{loss, accuracy}
		})
	l.lossExec.SetMaxCache(16)
	l.trainStepExec = context.NewExec(backend(), l.ctx,
		func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			l.NumCompilations++
			images := inputs[0]
			g := images.Graph()
			ctx.SetTraining(g, true)
			loss, accuracy := l.relationGraph(ctx, images)
			l.optimizer.UpdateGraph(ctx, g, loss)
			train.ExecPerStepUpdateGraphFn(ctx, g)
			return []*graph.Node{loss, accuracy}
		})
	l.trainStepExec.SetMaxCache(16)
}

// relationGraph is the full forward pass over one view-major image batch: backbone
// features, pair aggregation, head logits, then the mean binary cross-entropy and
// the fraction of pairs classified correctly.
//
// The backbone runs once over the whole NumViews*Size batch, never per block:
// normalization statistics are meant to mix across examples and views.
func (l *Learner) relationGraph(ctx *context.Context, images *graph.Node) (loss, accuracy *graph.Node) {
	features := l.backbone.FeaturesGraph(ctx.In(backboneScope), images)
	pairs, targets := AggregateGraph(features, l.numViews)
	logits := l.head.LogitsGraph(ctx.In(headScope), pairs)

	loss = losses.BinaryCrossentropyLogits([]*graph.Node{targets}, []*graph.Node{logits})
	if !loss.IsScalar() {
		loss = graph.ReduceAllMean(loss)
	}
	predictions := graph.Round(graph.Sigmoid(logits))
	matches := graph.ConvertDType(graph.Equal(predictions, targets), dtypes.Float32)
	accuracy = graph.ReduceAllMean(matches)
	return
}

// createInputs assembles the stacked image tensor of a batch, preserving its
// view-major row order.
func createInputs(batch *multiview.Batch) *tensors.Tensor {
	images := tensors.FromShape(shapes.Make(dtypes.Float32,
		batch.Rows(), batch.Height, batch.Width, batch.Channels))
	tensors.MutableFlatData(images, func(flat []float32) {
		copy(flat, batch.Pixels)
	})
	return images
}

func (l *Learner) validatePixels(batch *multiview.Batch) error {
	want := batch.Rows() * batch.Height * batch.Width * batch.Channels
	if want == 0 || len(batch.Pixels) != want {
		return errors.Errorf("malformed batch: %d pixel values, want %d", len(batch.Pixels), want)
	}
	return nil
}

func (l *Learner) validateBatch(batch *multiview.Batch) error {
	if batch.NumViews != l.numViews {
		return errors.Errorf("batch carries %d views per example, learner is configured for %d",
			batch.NumViews, l.numViews)
	}
	if batch.Size < 2 {
		return errors.Errorf("relation pairs need at least 2 examples per batch, got %d", batch.Size)
	}
	return l.validatePixels(batch)
}

// TrainStep runs one optimization step on one view-major batch, applying exactly one
// joint update to the backbone and head parameters. It returns the batch loss and
// the pair classification accuracy.
//
// A non-finite loss, a shape mismatch or a backend failure is returned as an error;
// the step is never retried.
func (l *Learner) TrainStep(batch *multiview.Batch) (loss, accuracy float32, err error) {
	if err = l.validateBatch(batch); err != nil {
		return
	}
	images := createInputs(batch)
	l.muLearning.Lock()
	defer l.muLearning.Unlock()
	err = exceptions.TryCatch[error](func() {
		results := l.trainStepExec.Call(graph.DonateTensorBuffer(images, backend()))
		loss = tensors.ToScalar[float32](results[0])
		accuracy = tensors.ToScalar[float32](results[1])
	})
	if err != nil {
		return 0, 0, errors.WithMessagef(err, "train step failed on epoch %d batch %d",
			batch.Epoch, batch.Index)
	}
	if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
		return loss, accuracy, errors.Errorf("non-finite loss %f on epoch %d batch %d, aborting training",
			loss, batch.Epoch, batch.Index)
	}
	return
}

// Loss evaluates the relation loss and accuracy of one batch without updating any
// parameter, using inference-mode normalization statistics.
func (l *Learner) Loss(batch *multiview.Batch) (loss, accuracy float32, err error) {
	if err = l.validateBatch(batch); err != nil {
		return
	}
	images := createInputs(batch)
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	err = exceptions.TryCatch[error](func() {
		results := l.lossExec.Call(graph.DonateTensorBuffer(images, backend()))
		loss = tensors.ToScalar[float32](results[0])
		accuracy = tensors.ToScalar[float32](results[1])
	})
	return
}

// Features runs the frozen-parameter backbone on the images of a batch and returns
// one feature vector per row. The batch may carry any number of views, including
// the single raw view of passthrough sampling.
func (l *Learner) Features(batch *multiview.Batch) (*tensors.Tensor, error) {
	if err := l.validatePixels(batch); err != nil {
		return nil, err
	}
	images := createInputs(batch)
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	var features *tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		features = l.featuresExec.Call(graph.DonateTensorBuffer(images, backend()))[0]
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "feature extraction failed on batch of %d images", batch.Rows())
	}
	return features, nil
}

// GlobalStep returns the number of optimizer updates applied to this model so far,
// including updates restored from a checkpoint.
func (l *Learner) GlobalStep() int64 {
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	return tensors.ToScalar[int64](optimizers.GetGlobalStepVar(l.ctx).Value())
}

// FeatureSize returns the backbone output dimensionality.
func (l *Learner) FeatureSize() int { return l.backbone.FeatureSize() }

// NumViews returns the number of views per example the learner was configured for.
func (l *Learner) NumViews() int { return l.numViews }

// Context returns the model context holding all trained variables.
func (l *Learner) Context() *context.Context { return l.ctx }

// Dir returns the checkpoint directory, or "" if the learner is not persisted.
func (l *Learner) Dir() string {
	if l.checkpoint == nil {
		return ""
	}
	return l.checkpoint.Dir()
}

// Save writes the current variables to the checkpoint directory.
func (l *Learner) Save() error {
	if l.checkpoint == nil {
		klog.Warningf("Model %s is not associated to a checkpoint directory, not saving", l)
		return nil
	}
	l.muSave.Lock()
	defer l.muSave.Unlock()
	l.muLearning.RLock()
	defer l.muLearning.RUnlock()
	return l.checkpoint.Save()
}

// String implements fmt.Stringer.
func (l *Learner) String() string {
	if l == nil {
		return "<nil>[GoMLX]"
	}
	name := fmt.Sprintf("%s[GoMLX/%s]", l.backboneName, backend().Name())
	if l.checkpoint == nil || l.checkpoint.Dir() == "" {
		return name
	}
	return fmt.Sprintf("%s@%s", name, l.checkpoint.Dir())
}

// Finalize frees the executors and the model variables, leaving the learner in an
// unusable state.
func (l *Learner) Finalize() {
	l.trainStepExec.Finalize()
	l.lossExec.Finalize()
	l.featuresExec.Finalize()
	l.ctx.Finalize()
}

// ExtractParams overwrites context hyperparameters with user-provided params. Only
// keys already present in the context root scope are recognized; anything else is
// left in params for the caller to reject or route elsewhere.
func ExtractParams(params parameters.Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil {
			// If error happened skip the rest.
			return
		}
		if scope != context.RootScope {
			return
		}
		switch defaultValue := valueAny.(type) {
		case string:
			value, _ := parameters.PopParamOr(params, key, defaultValue)
			ctx.SetParam(key, value)
		case int:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (int)", key)
				return
			}
			ctx.SetParam(key, value)
		case float64:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float64)", key)
				return
			}
			ctx.SetParam(key, value)
		case float32:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (float32)", key)
				return
			}
			ctx.SetParam(key, value)
		case bool:
			value, newErr := parameters.PopParamOr(params, key, defaultValue)
			if newErr != nil {
				err = errors.WithMessagef(newErr, "parsing %q (bool)", key)
				return
			}
			ctx.SetParam(key, value)
		default:
			err = errors.Errorf("hyperparameter %q is of unknown type %T", key, defaultValue)
		}
	})
	return err
}
