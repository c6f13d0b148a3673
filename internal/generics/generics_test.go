package generics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceMap(t *testing.T) {
	got := SliceMap([]int{1, 2, 3}, func(e int) int { return e * e })
	assert.Equal(t, []int{1, 4, 9}, got)
	assert.Empty(t, SliceMap(nil, func(e int) int { return e }))
}

func TestSortedKeysAndValues(t *testing.T) {
	m := map[string]int{"c": 3, "a": 1, "b": 2}
	// Since the builtin map iterator in Go is deliberately non-deterministic, we
	// run it a bunch of times to show it is stably sorted.
	for range 100 {
		var keys []string
		var values []int
		for k, v := range SortedKeysAndValues(m) {
			keys = append(keys, k)
			values = append(values, v)
		}
		assert.Equal(t, []string{"a", "b", "c"}, keys)
		assert.Equal(t, []int{1, 2, 3}, values)
	}
}

func TestMean(t *testing.T) {
	assert.Equal(t, float32(0), Mean[float32](nil))
	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1.0, 0.0, 1.0))
	assert.Equal(t, 1.0, Clamp(3.0, 0.0, 1.0))
	assert.Equal(t, 0.25, Clamp(0.25, 0.0, 1.0))
	assert.Equal(t, 3, Clamp(3, 1, 5))
}

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := MakeSet[int](4)
	assert.Len(t, s, 0)

	s.Insert(1, 3)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(1))
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(2))
}
