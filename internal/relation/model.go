package relation

import (
	"strings"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/pkg/errors"
)

// Backbone is a differentiable feature extractor: it maps a batch of images to one
// fixed-size feature vector per image. Its trainable variables live in the context
// scope it is called with, so the same backbone definition can be trained, reloaded
// and frozen by different owners.
type Backbone interface {
	// FeaturesGraph maps images, shaped [batch, height, width, channels], to
	// features shaped [batch, FeatureSize()]. It must be invoked once on the whole
	// batch: normalization layers are expected to mix statistics across all rows.
	FeaturesGraph(ctx *context.Context, images *Node) *Node

	// FeatureSize is the dimensionality of the feature vectors.
	FeatureSize() int
}

// Head is a differentiable pairwise classifier scoring relation pairs.
type Head interface {
	// LogitsGraph maps concatenated pair features, shaped [numPairs, 2*featureSize],
	// to one same-example logit per pair, shaped [numPairs, 1].
	LogitsGraph(ctx *context.Context, pairs *Node) *Node
}

// Context hyperparameter keys recognized by the models in this package, settable
// through the learner's configuration parameters.
const (
	// ParamConv4Channels is the channel count of the first Conv4 block; each later
	// block doubles it.
	ParamConv4Channels = "conv4_channels"

	// ParamHiddenNodes is the width of the relation head's hidden layer.
	ParamHiddenNodes = "hidden_nodes"
)

// NewBackbone builds the named backbone architecture, reading its hyperparameters
// from ctx. Currently only "conv4" is implemented.
func NewBackbone(name string, ctx *context.Context) (Backbone, error) {
	switch strings.ToLower(name) {
	case "conv4", "":
		return NewConv4(context.GetParamOr(ctx, ParamConv4Channels, 8))
	}
	return nil, errors.Errorf("unknown backbone %q, available: conv4", name)
}
