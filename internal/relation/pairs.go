// Package relation implements the relational-reasoning learner: it aggregates a
// multi-view feature batch into positive and negative relation pairs and trains a
// shared backbone plus a small pairwise head to tell them apart, using no labels.
package relation

import (
	"github.com/pkg/errors"
)

// BlockPair describes the contribution of one (I, J) view-block pair to the relation
// batch: block J aligned as-is gives the positive pairs, block J cyclically rotated
// by Shift gives the negative pairs.
type BlockPair struct {
	I, J, Shift int
}

// PairPlan is the deterministic enumeration of block pairs for one aggregation.
//
// For every unordered pair of view blocks (i, j) with i < j, taken with i outward
// and j inward, the plan emits Size positive pairs followed by Size negative pairs.
// The negative rotation is a counter starting at 1 and bumped after every block
// pair, wrapping back to 1 before it reaches Size: a rotation of 0 would realign
// the negatives into positives, so it never occurs. Rotations for a fixed i are
// therefore collision-free; across different i the same rotation may repeat, which
// matches the reference behavior and costs only occasional duplicate negatives.
type PairPlan struct {
	NumViews, Size int
	BlockPairs     []BlockPair
}

// NewPairPlan enumerates the block pairs for numViews view blocks of size examples
// each.
//
// numViews == 1 yields an empty plan (no pairs can be formed); size < 2 is rejected,
// since rotating a single-element block cannot misalign it and every negative pair
// would coincide with its positive.
func NewPairPlan(numViews, size int) (*PairPlan, error) {
	if numViews < 1 {
		return nil, errors.Errorf("pair aggregation needs at least 1 view, got %d", numViews)
	}
	if size < 2 {
		return nil, errors.Errorf("pair aggregation needs blocks of at least 2 examples, got %d", size)
	}
	plan := &PairPlan{NumViews: numViews, Size: size}
	shift := 1
	for i := range numViews - 1 {
		for j := i + 1; j < numViews; j++ {
			plan.BlockPairs = append(plan.BlockPairs, BlockPair{I: i, J: j, Shift: shift})
			shift++
			if shift >= size {
				shift = 1
			}
		}
	}
	return plan, nil
}

// NumPairs returns the total number of relation pairs the plan emits:
// 2 * Size * C(NumViews, 2).
func (p *PairPlan) NumPairs() int {
	return 2 * p.Size * len(p.BlockPairs)
}
