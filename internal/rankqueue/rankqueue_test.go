package rankqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPopLowestOrdersByRank(t *testing.T) {
	q := New()
	q.Insert(3, 5.0)
	q.Insert(1, 1.0)
	q.Insert(2, 3.0)

	e, ok := q.PopLowest()
	require.True(t, ok)
	assert.Equal(t, 1, e.PromptID)

	e, ok = q.PopLowest()
	require.True(t, ok)
	assert.Equal(t, 2, e.PromptID)

	e, ok = q.PopLowest()
	require.True(t, ok)
	assert.Equal(t, 3, e.PromptID)

	_, ok = q.PopLowest()
	assert.False(t, ok)
}

func TestSwapAdjacentMoveUpAndDown(t *testing.T) {
	q := New()
	q.Insert(1, 0)
	q.Insert(2, 1)
	q.Insert(3, 2)

	assert.True(t, q.SwapAdjacent(2, -1))
	ids := idsOf(q.Entries())
	assert.Equal(t, []int{2, 1, 3}, ids)

	assert.True(t, q.SwapAdjacent(2, 1))
	ids = idsOf(q.Entries())
	assert.Equal(t, []int{1, 2, 3}, ids)

	assert.False(t, q.SwapAdjacent(1, -1))
	assert.False(t, q.SwapAdjacent(3, 1))
}

func TestRemove(t *testing.T) {
	q := New()
	q.Insert(1, 0)
	q.Insert(2, 1)
	q.Remove(1)
	assert.Equal(t, 1, q.Len())
	e, _ := q.Peek()
	assert.Equal(t, 2, e.PromptID)
}

func idsOf(entries []Entry) []int {
	ids := make([]int, len(entries))
	for i, e := range entries {
		ids[i] = e.PromptID
	}
	return ids
}

// TestDispatchOrderProperty exercises testable property 3: given any set
// of (id, rank) pairs with unique ranks, PopLowest always yields the
// smallest remaining rank first.
func TestDispatchOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(rt, "n")
		ranks := rapid.SliceOfNDistinct(rapid.Float64Range(-1e6, 1e6), n, n, rapid.ID[float64]).Draw(rt, "ranks")

		q := New()
		for i, r := range ranks {
			q.Insert(i, r)
		}

		var lastRank float64
		first := true
		for {
			e, ok := q.PopLowest()
			if !ok {
				break
			}
			if !first {
				require.LessOrEqual(rt, lastRank, e.Rank)
			}
			lastRank = e.Rank
			first = false
		}
	})
}
