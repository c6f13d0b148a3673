package relation

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/batchnorm"
	fnnLayer "github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/pkg/errors"
)

// PairHead is the relation head: a two-layer classifier mapping concatenated pair
// features to a single same-example logit, with batch normalization and a leaky
// ReLU between the layers.
type PairHead struct {
	hiddenNodes int
}

var _ Head = (*PairHead)(nil)

// NewPairHead returns a PairHead with the given hidden layer width.
func NewPairHead(hiddenNodes int) (*PairHead, error) {
	if hiddenNodes < 1 {
		return nil, errors.Errorf("relation head needs at least 1 hidden node, got %d", hiddenNodes)
	}
	return &PairHead{hiddenNodes: hiddenNodes}, nil
}

// LogitsGraph implements Head.
func (h *PairHead) LogitsGraph(ctx *context.Context, pairs *Node) *Node {
	pairs.AssertRank(2)
	numPairs := pairs.Shape().Dim(0)
	x := fnnLayer.New(ctx.In("hidden"), pairs, h.hiddenNodes).NumHiddenLayers(0, 0).Done()
	x = batchnorm.New(ctx.In("norm"), x, -1).Done()
	x = activations.LeakyRelu(x)
	logits := fnnLayer.New(ctx.In("output"), x, 1).NumHiddenLayers(0, 0).Done()
	logits.AssertDims(numPairs, 1)
	return logits
}
