package relation

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	"github.com/pkg/errors"
)

// Conv4 is the lightweight convolutional backbone commonly used for this kind of
// pretraining: 4 blocks of 3x3 convolution, batch normalization, ReLU and 2x2 mean
// pooling, with channel counts doubling per block, closed by a global mean pooling
// over the remaining spatial grid.
//
// With the default 8 base channels it maps 32x32 images to 64-dimensional features.
type Conv4 struct {
	baseChannels int
}

var _ Backbone = (*Conv4)(nil)

// NewConv4 returns a Conv4 with the given first-block channel count.
func NewConv4(baseChannels int) (*Conv4, error) {
	if baseChannels < 1 {
		return nil, errors.Errorf("conv4 needs at least 1 base channel, got %d", baseChannels)
	}
	return &Conv4{baseChannels: baseChannels}, nil
}

// FeatureSize implements Backbone: the channel count of the last block.
func (c *Conv4) FeatureSize() int {
	return c.baseChannels * 8
}

// FeaturesGraph implements Backbone.
func (c *Conv4) FeaturesGraph(ctx *context.Context, images *Node) *Node {
	images.AssertRank(4) // [batch, height, width, channels]
	batchSize := images.Shape().Dim(0)
	x := images
	channels := c.baseChannels
	for blockIdx := range 4 {
		blockCtx := ctx.Inf("%03d_block", blockIdx)
		x = layers.Convolution(blockCtx, x).Filters(channels).KernelSize(3).PadSame().Done()
		x = batchnorm.New(blockCtx.In("norm"), x, -1).Done()
		x = activations.Relu(x)
		if x.Shape().Dim(1) > 1 && x.Shape().Dim(2) > 1 {
			x = MeanPool(x).Window(2).Done()
		}
		channels *= 2
	}
	x = ReduceMean(x, 1, 2)
	x.AssertDims(batchSize, c.FeatureSize())
	return x
}
