// pretrain runs self-supervised relational-reasoning pretraining on an unlabeled
// image dataset: K augmented views per example, a shared backbone and a pairwise
// relation head trained to tell same-source pairs from different-source pairs.
// The resulting backbone checkpoint is consumed by the lineareval binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/trungpx/self-supervised-relational-reasoning/internal/datasets"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/multiview"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/parameters"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/profilers"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/relation"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/train"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/transforms"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/ui/cli"
	"github.com/trungpx/self-supervised-relational-reasoning/internal/ui/spinning"
)

// Flags
var (
	flagDataset = flag.String("dataset", "cifar10", "Dataset to pretrain on: cifar10 or cifar100.")
	flagDataDir = flag.String("data_dir", "~/work/relational-reasoning", "Directory datasets are downloaded to and cached in.")

	flagBackbone = flag.String("backbone", "conv4", "Backbone architecture to pretrain.")
	flagParams = flag.String("params", "", "Comma-separated model hyperparameters, e.g. "+
		"\"learning_rate=0.0005,conv4_channels=16,hidden_nodes=512\". Unknown keys are rejected.")
	flagViews     = flag.Int("views", 2, "Number of augmented views (K) drawn per example.")
	flagBatchSize = flag.Int("batch_size", 64, "Examples (B) per mini-batch; each step stacks K*B images.")
	flagEpochs    = flag.Int("epochs", 10, "Epochs over the training split.")

	flagCheckpoint = flag.String("checkpoint", "", "Directory to save the model to, and resume it from. "+
		"Empty trains without persisting anything.")
	flagKeep = flag.Int("keep", 10, "Number of older checkpoint copies to keep around.")

	flagSeed     = flag.Int64("seed", 42, "Seed driving initialization, shuffling and augmentation.")
	flagWorkers  = flag.Int("workers", 0, "Concurrent augmentation workers; <= 0 uses all CPUs.")
	flagLogEvery = flag.Int("log_every", 10, "Update the progress line every n batches; 0 disables it.")
	flagPreview = flag.Int("preview", 0, "Render this many examples with their augmented views and exit, "+
		"to sanity-check the augmentation pipeline.")
)

// globalCtx is cancelled when the program is interrupted (Ctrl+C).
var globalCtx = context.Background()

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C.
	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(globalCancel, 5*time.Second)
	defer globalCancel()

	// Profilers: HTTP profiler server and CPU profile.
	profilers.Setup(globalCtx)
	defer profilers.OnQuit()

	ds := must.M1(loadDataset())
	transform := must.M1(transforms.ForDataset(ds))
	sampler := must.M1(multiview.NewSampler(ds, transform, *flagViews, uint64(*flagSeed)))

	if *flagPreview > 0 {
		must.M(preview(sampler, *flagPreview))
		return
	}

	loader := must.M1(multiview.NewLoader(sampler, *flagBatchSize, *flagWorkers))
	learner := must.M1(relation.NewLearner(relation.Config{
		Backbone:          *flagBackbone,
		NumViews:          *flagViews,
		CheckpointDir:     *flagCheckpoint,
		CheckpointsToKeep: *flagKeep,
		Seed:              *flagSeed,
		Params:            parameters.NewFromConfigString(*flagParams),
	}))

	err := train.Run(globalCtx, train.Config{Epochs: *flagEpochs, LogEvery: *flagLogEvery}, learner, loader)
	if globalCtx.Err() != nil {
		klog.Warningf("Interrupted after %d steps.", learner.GlobalStep())
		return
	}
	must.M(err)

	fmt.Println(cli.Summary("Pretraining finished", [][2]string{
		{"dataset", fmt.Sprintf("%s (%d examples)", ds.Name(), ds.Len())},
		{"steps", fmt.Sprintf("%d", learner.GlobalStep())},
		{"model", learner.String()},
	}))
}

// loadDataset downloads (first run only, with a spinner) and decodes the training
// split of the configured dataset.
func loadDataset() (datasets.Dataset, error) {
	spin := spinning.New(globalCtx)
	defer spin.Done()
	return datasets.New(*flagDataset, *flagDataDir, datasets.Train)
}

// preview renders the first count examples alongside their augmented views.
func preview(sampler *multiview.Sampler, count int) error {
	count = min(count, sampler.Dataset().Len())
	cli.PrintCentered(cli.Banner(fmt.Sprintf("%s: %d augmented views per example",
		sampler.Dataset().Name(), sampler.NumViews())))
	examples := make([][]datasets.Image, 0, count)
	captions := make([]string, 0, count)
	for i := range count {
		raw, label, err := sampler.Dataset().Sample(i)
		if err != nil {
			return err
		}
		views, _, err := sampler.Sample(0, i)
		if err != nil {
			return err
		}
		examples = append(examples, append([]datasets.Image{raw}, views...))
		captions = append(captions, fmt.Sprintf("example %d (label=%d): raw image and %d views",
			i, label, len(views)))
	}
	cli.PrintCentered(cli.ViewGrid(examples, captions))
	return nil
}
