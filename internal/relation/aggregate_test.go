package relation

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func matrixTensor(flat []float32, rows, cols int) *tensors.Tensor {
	matrix := tensors.FromShape(shapes.Make(dtypes.Float32, rows, cols))
	tensors.MutableFlatData(matrix, func(data []float32) {
		copy(data, flat)
	})
	return matrix
}

// runAggregate executes AggregateGraph on a view-major [rows, cols] feature matrix
// and returns the flattened pairs, the pairs dimensions and the flattened targets.
func runAggregate(t *testing.T, flat []float32, rows, cols, numViews int) (pairs []float32, pairsDims [2]int, targets []float32) {
	backend := graphtest.BuildTestBackend()
	featuresT := matrixTensor(flat, rows, cols)
	outputs := context.ExecOnceN(backend, context.New(), func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		pairsN, targetsN := AggregateGraph(inputs[0], numViews)
		return []*graph.Node{pairsN, targetsN}
	}, featuresT)
	pairsT, targetsT := outputs[0], outputs[1]
	require.Equal(t, 2, pairsT.Rank())
	pairsDims = [2]int{pairsT.Shape().Dim(0), pairsT.Shape().Dim(1)}
	targetsT.Shape().AssertDims(pairsDims[0], 1)
	pairs = tensors.CopyFlatData[float32](pairsT)
	targets = tensors.CopyFlatData[float32](targetsT)
	return
}

func TestAggregateGraph_TwoViewsOfTwo(t *testing.T) {
	// Two examples A and B under two views, one feature each; view-major rows are
	// [f(A,v0), f(B,v0), f(A,v1), f(B,v1)].
	features := []float32{1, 2, 10, 20}
	pairs, dims, targets := runAggregate(t, features, 4, 1, 2)
	assert.Equal(t, [2]int{4, 2}, dims)

	// One block pair (v0, v1) with rotation 1: positives align the blocks, then
	// negatives pair each example with the other one's second view.
	wantPairs := []float32{
		1, 10,
		2, 20,
		1, 20,
		2, 10,
	}
	assert.Equal(t, wantPairs, pairs)
	assert.Equal(t, []float32{1, 1, 0, 0}, targets)
}

func TestAggregateGraph_ThreeViewsOfThree(t *testing.T) {
	// Three examples, three views, one feature: block pairs run (0,1), (0,2), (1,2)
	// with rotations 1, 2, 1.
	features := []float32{
		1, 2, 3, // view 0
		10, 20, 30, // view 1
		100, 200, 300, // view 2
	}
	pairs, dims, targets := runAggregate(t, features, 9, 1, 3)
	assert.Equal(t, [2]int{18, 2}, dims)

	wantPairs := []float32{
		// (0,1) positives, then rotation 1 negatives.
		1, 10, 2, 20, 3, 30,
		1, 30, 2, 10, 3, 20,
		// (0,2) positives, then rotation 2 negatives.
		1, 100, 2, 200, 3, 300,
		1, 200, 2, 300, 3, 100,
		// (1,2) positives, then rotation 1 negatives.
		10, 100, 20, 200, 30, 300,
		10, 300, 20, 100, 30, 200,
	}
	assert.Equal(t, wantPairs, pairs)

	wantTargets := []float32{
		1, 1, 1, 0, 0, 0,
		1, 1, 1, 0, 0, 0,
		1, 1, 1, 0, 0, 0,
	}
	assert.Equal(t, wantTargets, targets)
}

func TestAggregateGraph_Shapes(t *testing.T) {
	// 4 views of 3 examples with 5 features: 6 block pairs, 2*3*6 = 36 pairs of
	// double width.
	const rows, cols, numViews = 12, 5, 4
	flat := make([]float32, rows*cols)
	for i := range flat {
		flat[i] = float32(i)
	}
	pairs, dims, targets := runAggregate(t, flat, rows, cols, numViews)
	assert.Equal(t, [2]int{36, 2 * cols}, dims)
	assert.Len(t, pairs, 36*2*cols)

	var positives int
	for _, target := range targets {
		if target == 1 {
			positives++
		}
	}
	assert.Equal(t, 18, positives, "exactly half the pairs must be positives")
}

func TestAggregateGraph_Deterministic(t *testing.T) {
	flat := make([]float32, 8*3)
	for i := range flat {
		flat[i] = float32(i) * 0.25
	}
	pairsA, _, targetsA := runAggregate(t, flat, 8, 3, 2)
	pairsB, _, targetsB := runAggregate(t, flat, 8, 3, 2)
	assert.Equal(t, pairsA, pairsB)
	assert.Equal(t, targetsA, targetsB)
}

func TestAggregateGraph_Panics(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	run := func(flat []float32, rows, cols, numViews int) func() {
		return func() {
			featuresT := matrixTensor(flat, rows, cols)
			context.ExecOnceN(backend, context.New(), func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				pairsN, targetsN := AggregateGraph(inputs[0], numViews)
				return []*graph.Node{pairsN, targetsN}
			}, featuresT)
		}
	}
	// A single view cannot form pairs.
	require.Panics(t, run([]float32{1, 2, 3, 4}, 4, 1, 1))
	// 3 rows don't split into 2 view blocks.
	require.Panics(t, run([]float32{1, 2, 3}, 3, 1, 2))
	// Single-example blocks cannot be misaligned.
	require.Panics(t, run([]float32{1, 2}, 2, 1, 2))
}
