package graph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond: 0->1, 0->2, 1->3, 2->3, 3->0
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := New(4, []int64{0, 0, 1, 2, 3}, []int64{1, 2, 3, 3, 0})
	require.NoError(t, err)
	return g
}

func TestNewGraph(t *testing.T) {
	t.Run("rejects mismatched edge slices", func(t *testing.T) {
		_, err := New(2, []int64{0}, []int64{0, 1})
		assert.Error(t, err)
	})

	t.Run("rejects out-of-range endpoints", func(t *testing.T) {
		_, err := New(2, []int64{0}, []int64{2})
		assert.Error(t, err)
		_, err = New(2, []int64{-1}, []int64{0})
		assert.Error(t, err)
	})

	t.Run("counts and flags", func(t *testing.T) {
		g := diamond(t)
		assert.Equal(t, int64(4), g.NumNodes())
		assert.Equal(t, int64(5), g.NumEdges())
		assert.True(t, g.IsReadonly())
		assert.True(t, g.HasNode(3))
		assert.False(t, g.HasNode(4))
	})
}

func TestNeighbors(t *testing.T) {
	g := diamond(t)

	t.Run("in neighbors are predecessors", func(t *testing.T) {
		nbrs, eids, err := g.Neighbors(3, DirIn)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1, 2}, nbrs)
		assert.ElementsMatch(t, []int64{2, 3}, eids)
	})

	t.Run("out neighbors are successors", func(t *testing.T) {
		nbrs, eids, err := g.Neighbors(0, DirOut)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1, 2}, nbrs)
		assert.ElementsMatch(t, []int64{0, 1}, eids)
	})

	t.Run("both concatenates", func(t *testing.T) {
		nbrs, _, err := g.Neighbors(0, DirBoth)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{3, 1, 2}, nbrs)
	})

	t.Run("edge ids stay aligned with endpoints", func(t *testing.T) {
		nbrs, eids, err := g.Neighbors(3, DirIn)
		require.NoError(t, err)
		for i := range nbrs {
			src, dst, err := g.Edge(eids[i])
			require.NoError(t, err)
			assert.Equal(t, nbrs[i], src)
			assert.Equal(t, int64(3), dst)
		}
	})

	t.Run("unknown node fails", func(t *testing.T) {
		_, _, err := g.Neighbors(4, DirIn)
		assert.Error(t, err)
	})

	t.Run("degree", func(t *testing.T) {
		d, err := g.Degree(3, DirIn)
		require.NoError(t, err)
		assert.Equal(t, int64(2), d)
		d, err = g.Degree(3, DirBoth)
		require.NoError(t, err)
		assert.Equal(t, int64(3), d)
	})
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"in", "out", "both"} {
		d, err := ParseDirection(s)
		require.NoError(t, err)
		assert.Equal(t, s, d.String())
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestSubgraph(t *testing.T) {
	g := diamond(t)

	t.Run("keeps edges with both endpoints inside", func(t *testing.T) {
		sub, err := g.Subgraph([]int64{0, 1, 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1, 3}, sub.InducedNodes())
		assert.Equal(t, int64(3), sub.Graph().NumNodes())
		// surviving edges: 0->1 (eid 0), 1->3 (eid 2), 3->0 (eid 4)
		assert.Equal(t, []int64{0, 2, 4}, sub.InducedEdges())
		src, dst := sub.Graph().Edges()
		assert.Equal(t, []int64{0, 1, 2}, src)
		assert.Equal(t, []int64{1, 2, 0}, dst)
		assert.Same(t, g, sub.Parent())
	})

	t.Run("deduplicates input nodes", func(t *testing.T) {
		sub, err := g.Subgraph([]int64{2, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, sub.InducedNodes())
	})

	t.Run("local edge ids sorted by parent edge id", func(t *testing.T) {
		sub, err := g.Subgraph([]int64{3, 2, 1, 0})
		require.NoError(t, err)
		assert.True(t, sort.SliceIsSorted(sub.InducedEdges(), func(a, b int) bool {
			return sub.InducedEdges()[a] < sub.InducedEdges()[b]
		}))
	})

	t.Run("unknown node fails", func(t *testing.T) {
		_, err := g.Subgraph([]int64{5})
		assert.Error(t, err)
	})
}
