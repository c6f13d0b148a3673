package lineareval

import (
	"context"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/generics"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
)

// Run executes the whole benchmark: features of both splits through the frozen
// backbone, cfg.Epochs of probe training on the train split, then accuracy on both.
// Cancelling ctx stops the run between batches.
func (e *Evaluator) Run(ctx context.Context, trainDS, testDS datasets.Dataset) (Result, error) {
	var res Result
	if got := trainDS.NumClasses(); got != e.numClasses {
		return res, errors.Errorf("train split %q has %d classes, probe was built for %d",
			trainDS.Name(), got, e.numClasses)
	}
	if got := testDS.NumClasses(); got != e.numClasses {
		return res, errors.Errorf("test split %q has %d classes, probe was built for %d",
			testDS.Name(), got, e.numClasses)
	}
	trainSet, err := extractFeatures(ctx, e.learner, trainDS, e.cfg.BatchSize)
	if err != nil {
		return res, err
	}
	if trainSet.len() == 0 {
		return res, errors.Errorf("train split %q is empty", trainDS.Name())
	}
	testSet, err := extractFeatures(ctx, e.learner, testDS, e.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	rng := rand.New(rand.NewPCG(uint64(e.cfg.Seed), 1))
	for epoch := range e.cfg.Epochs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		perm := rng.Perm(trainSet.len())
		losses := make([]float32, 0, (len(perm)+e.cfg.BatchSize-1)/e.cfg.BatchSize)
		for start := 0; start < len(perm); start += e.cfg.BatchSize {
			end := min(start+e.cfg.BatchSize, len(perm))
			loss, err := e.trainStep(trainSet, perm[start:end])
			if err != nil {
				return res, errors.WithMessagef(err, "probe training failed on epoch %d", epoch)
			}
			losses = append(losses, loss)
		}
		res.FinalLoss = generics.Mean(losses)
		klog.V(1).Infof("Probe epoch %d: ~loss=%.4f", epoch, res.FinalLoss)
	}

	res.TrainAccuracy, err = e.accuracy(trainSet)
	if err != nil {
		return res, err
	}
	res.TestAccuracy, err = e.accuracy(testSet)
	if err != nil {
		return res, err
	}
	klog.Infof("Linear evaluation of %s: train accuracy %.2f%%, test accuracy %.2f%%",
		e.learner, 100*res.TrainAccuracy, 100*res.TestAccuracy)
	return res, nil
}

// trainStep applies one probe update on the given example rows and returns the loss.
func (e *Evaluator) trainStep(fs *featureSet, indices []int) (loss float32, err error) {
	featuresT, labelsT := e.createInputs(fs, indices)
	err = exceptions.TryCatch[error](func() {
		lossT := e.trainStepExec.Call(
			graph.DonateTensorBuffer(featuresT, relation.Backend()),
			graph.DonateTensorBuffer(labelsT, relation.Backend()))[0]
		loss = tensors.ToScalar[float32](lossT)
	})
	if err != nil {
		return 0, err
	}
	if math32.IsNaN(loss) || math32.IsInf(loss, 0) {
		return loss, errors.Errorf("non-finite probe loss %f", loss)
	}
	return loss, nil
}

// accuracy classifies every row of fs and returns the fraction matching the labels.
func (e *Evaluator) accuracy(fs *featureSet) (float32, error) {
	if fs.len() == 0 {
		return 0, errors.New("cannot score an empty split")
	}
	var hits int
	for start := 0; start < fs.len(); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, fs.len())
		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		featuresT, _ := e.createInputs(fs, indices)
		var predictions []int32
		err := exceptions.TryCatch[error](func() {
			predictionsT := e.predictExec.Call(graph.DonateTensorBuffer(featuresT, relation.Backend()))[0]
			predictions = tensors.CopyFlatData[int32](predictionsT)
		})
		if err != nil {
			return 0, err
		}
		for i, prediction := range predictions {
			if prediction == fs.labels[start+i] {
				hits++
			}
		}
	}
	return float32(hits) / float32(fs.len()), nil
}
