package relation

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
)

// AggregateGraph builds the relation-pair batch from a view-major feature batch.
//
// features must be shaped [numViews*size, featureSize] and laid out as numViews
// contiguous blocks of size rows, block v holding the v-th view of every example in
// a fixed example order. It returns the pair tensor, shaped
// [2*size*C(numViews,2), 2*featureSize], and the parallel targets, shaped
// [2*size*C(numViews,2), 1], with 1 for same-example pairs and 0 otherwise.
//
// Pairs are emitted in the PairPlan order: for each block pair, size positive rows
// (block i next to block j) followed by size negative rows (block i next to block j
// rotated by the plan shift). The output is a pure function of features and
// numViews, so repeated invocations are bit-identical.
//
// Being graph-building code it panics (throws) on invalid shapes; callers validate
// at construction time instead.
func AggregateGraph(features *Node, numViews int) (pairs, targets *Node) {
	g := features.Graph()
	features.AssertRank(2)
	if numViews < 2 {
		exceptions.Panicf("pair aggregation needs at least 2 views to form pairs, got %d", numViews)
	}
	rows := features.Shape().Dim(0)
	if rows%numViews != 0 {
		exceptions.Panicf("feature batch with %d rows cannot be split into %d equal view blocks",
			rows, numViews)
	}
	size := rows / numViews
	plan := must.M1(NewPairPlan(numViews, size))

	blocks := make([]*Node, numViews)
	for v := range numViews {
		blocks[v] = Slice(features, AxisRange(v*size, (v+1)*size))
	}
	ones := Ones(g, shapes.Make(dtypes.Float32, size, 1))
	zeros := Zeros(g, shapes.Make(dtypes.Float32, size, 1))

	pairBlocks := make([]*Node, 0, 2*len(plan.BlockPairs))
	targetBlocks := make([]*Node, 0, 2*len(plan.BlockPairs))
	for _, bp := range plan.BlockPairs {
		left, right := blocks[bp.I], blocks[bp.J]
		pairBlocks = append(pairBlocks,
			Concatenate([]*Node{left, right}, -1),
			Concatenate([]*Node{left, rotateRows(right, bp.Shift)}, -1))
		targetBlocks = append(targetBlocks, ones, zeros)
	}
	pairs = Concatenate(pairBlocks, 0)
	targets = Concatenate(targetBlocks, 0)
	return
}

// rotateRows cyclically rotates the rows of a block forward by shift: row r of the
// result is row (r-shift) mod size of the input.
func rotateRows(block *Node, shift int) *Node {
	size := block.Shape().Dim(0)
	shift = shift % size
	if shift == 0 {
		return block
	}
	top := Slice(block, AxisRange(size-shift, size))
	bottom := Slice(block, AxisRange(0, size-shift))
	return Concatenate([]*Node{top, bottom}, 0)
}
