// Package train drives relational pretraining: shuffled multi-view epochs consumed
// strictly in order, one optimizer update per batch, a decayed-average progress
// line, and a checkpoint save after every epoch.
package train

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/multiview"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
)

// Config of one pretraining run.
type Config struct {
	// Epochs over the dataset, at least 1.
	Epochs int

	// LogEvery throttles the in-place progress line to every n-th batch; <= 0
	// disables progress output entirely.
	LogEvery int
}

// Validate checks the config against the learner and loader it will drive. All
// configuration problems surface here, before the first batch is assembled.
func (cfg Config) Validate(learner *relation.Learner, loader *multiview.Loader) error {
	if cfg.Epochs < 1 {
		return errors.Errorf("training needs at least 1 epoch, got %d", cfg.Epochs)
	}
	if loader.BatchSize() < 2 {
		return errors.Errorf("relation pairs need batches of at least 2 examples, got %d", loader.BatchSize())
	}
	if got, want := loader.Sampler().NumViews(), learner.NumViews(); got != want {
		return errors.Errorf("loader draws %d views per example, learner is configured for %d", got, want)
	}
	return nil
}

// Run executes the whole pretraining loop: cfg.Epochs passes over the loader, each
// batch applied with exactly one learner.TrainStep. The first failure of any kind
// (data, shape, non-finite loss) aborts the run; there is no retry and no early
// stopping. Cancelling ctx stops the run between steps.
func Run(ctx context.Context, cfg Config, learner *relation.Learner, loader *multiview.Loader) error {
	if err := cfg.Validate(learner, loader); err != nil {
		return err
	}
	klog.Infof("Training %s: %d epochs of %d batches, %d examples x %d views each",
		learner, cfg.Epochs, loader.BatchesPerEpoch(), loader.BatchSize(), learner.NumViews())
	start := time.Now()
	var stats RunningStats
	for epoch := range cfg.Epochs {
		if err := runEpoch(ctx, cfg, learner, loader, epoch, &stats); err != nil {
			return err
		}
		if learner.Dir() != "" {
			if err := learner.Save(); err != nil {
				return errors.WithMessagef(err, "failed to save checkpoint after epoch %d", epoch)
			}
			klog.V(1).Infof("Epoch %d: checkpoint saved to %s", epoch, learner.Dir())
		}
	}
	klog.Infof("Training done: %d steps in %s, ~loss=%.4f, ~accuracy=%.2f%%",
		learner.GlobalStep(), time.Since(start).Round(time.Second), stats.Loss(), 100*stats.Accuracy())
	return nil
}

// runEpoch consumes one epoch of batches sequentially. On a step failure it cancels
// the loader and drains the channel, so the assembly workers always exit before it
// returns.
func runEpoch(ctx context.Context, cfg Config, learner *relation.Learner, loader *multiview.Loader, epoch int, stats *RunningStats) error {
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, wait := loader.Epoch(epochCtx, epoch)
	totalBatches := loader.BatchesPerEpoch()

	var stepErr error
	for batch := range batches {
		if stepErr != nil {
			continue
		}
		loss, accuracy, err := learner.TrainStep(batch)
		if err != nil {
			stepErr = err
			cancel()
			continue
		}
		stats.Update(loss, accuracy)
		if cfg.LogEvery > 0 && (batch.Index%cfg.LogEvery == 0 || batch.Index == totalBatches-1) {
			fmt.Printf("\rEpoch [%d][%d/%d] loss=%.4f; accuracy=%.2f%%\x1b[0K",
				epoch, batch.Index+1, totalBatches, stats.Loss(), 100*stats.Accuracy())
		}
	}
	if cfg.LogEvery > 0 && stats.Count() > 0 {
		fmt.Println()
	}
	waitErr := wait()
	if stepErr != nil {
		return stepErr
	}
	return waitErr
}
