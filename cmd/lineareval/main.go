// lineareval measures the quality of a pretrained backbone with the standard
// linear evaluation protocol: the backbone is restored from its checkpoint and
// kept frozen, a single linear classifier is trained on its features over the
// labeled train split, and accuracy is reported on the test split.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/lineareval"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/profilers"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/ui/cli"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/ui/spinning"
)

// Flags
var (
	flagDataset = flag.String("dataset", "cifar10", "Labeled dataset to evaluate on: cifar10 or cifar100.")
	flagDataDir = flag.String("data_dir", "~/work/relational-reasoning", "Directory datasets are downloaded to and cached in.")

	flagCheckpoint = flag.String("checkpoint", "", "Directory holding the pretrained model. Required.")
	flagBackbone   = flag.String("backbone", "conv4", "Backbone architecture stored in the checkpoint.")

	flagEpochs    = flag.Int("epochs", 100, "Epochs of linear classifier training.")
	flagBatchSize = flag.Int("batch_size", 128, "Examples per batch for feature extraction and classifier training.")
	flagSeed      = flag.Int64("seed", 42, "Seed driving classifier initialization and shuffling.")
	flagParams = flag.String("params", "", "Comma-separated classifier hyperparameters, e.g. "+
		"\"learning_rate=0.1\". Unknown keys are rejected.")
)

// globalCtx is cancelled when the program is interrupted (Ctrl+C).
var globalCtx = context.Background()

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagCheckpoint == "" {
		klog.Fatalf("A pretrained model is required, set -checkpoint to its directory.")
	}

	// Capture Control+C.
	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(globalCancel, 5*time.Second)
	defer globalCancel()

	// Profilers: HTTP profiler server and CPU profile.
	profilers.Setup(globalCtx)
	defer profilers.OnQuit()

	trainDS := must.M1(loadSplit(datasets.Train))
	testDS := must.M1(loadSplit(datasets.Test))

	// The relation head and the pair count the learner was pretrained with are
	// irrelevant here, only the backbone features are read.
	learner := must.M1(relation.NewLearner(relation.Config{
		Backbone:      *flagBackbone,
		NumViews:      2,
		CheckpointDir: *flagCheckpoint,
		Seed:          *flagSeed,
	}))
	klog.V(1).Infof("Restored %s at step %d", learner, learner.GlobalStep())

	evaluator := must.M1(lineareval.NewEvaluator(lineareval.Config{
		BatchSize: *flagBatchSize,
		Epochs:    *flagEpochs,
		Seed:      *flagSeed,
		Params:    parameters.NewFromConfigString(*flagParams),
	}, learner, trainDS.NumClasses()))

	result, err := evaluator.Run(globalCtx, trainDS, testDS)
	if globalCtx.Err() != nil {
		klog.Warningf("Interrupted, no accuracy to report.")
		return
	}
	must.M(err)

	fmt.Println(cli.Summary("Linear evaluation", [][2]string{
		{"dataset", fmt.Sprintf("%s (%d classes)", trainDS.Name(), trainDS.NumClasses())},
		{"model", learner.String()},
		{"train accuracy", fmt.Sprintf("%.2f%%", 100*result.TrainAccuracy)},
		{"test accuracy", fmt.Sprintf("%.2f%%", 100*result.TestAccuracy)},
	}))
}

// loadSplit downloads (first run only, with a spinner) and decodes one
// partition of the configured dataset.
func loadSplit(part datasets.Partition) (datasets.Dataset, error) {
	spin := spinning.New(globalCtx)
	defer spin.Done()
	return datasets.New(*flagDataset, *flagDataDir, part)
}
