package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeFlow(t *testing.T) {
	layers := [][]int64{{4, 5, 6}, {2, 3}, {0, 1}}
	edges := []FlowEdge{
		{Layer: 0, Src: 4, Dst: 2, ID: 10},
		{Layer: 0, Src: 5, Dst: 3, ID: 11},
		{Layer: 1, Src: 2, Dst: 0, ID: 12},
		{Layer: 1, Src: 3, Dst: 1, ID: 13},
		{Layer: 1, Src: 1, Dst: 1, ID: SelfLoopEdgeID},
	}
	nf, err := NewNodeFlow(layers, edges)
	require.NoError(t, err)

	t.Run("shape accessors", func(t *testing.T) {
		assert.Equal(t, 3, nf.NumLayers())
		assert.Equal(t, 7, nf.NumNodes())
		assert.Equal(t, 5, nf.NumEdges())
		assert.Equal(t, []int64{0, 1}, nf.Seeds())
		assert.Equal(t, []int64{2, 3}, nf.Layer(1))
	})

	t.Run("edges between adjacent layers", func(t *testing.T) {
		between := nf.EdgesBetween(1)
		assert.Len(t, between, 3)
		for _, e := range between {
			assert.Equal(t, 1, e.Layer)
		}
	})

	t.Run("subgraph ids follow flattened first occurrence", func(t *testing.T) {
		ids, err := nf.MapToSubgraphID([]int64{4, 2, 0})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 3, 5}, ids)

		_, err = nf.MapToSubgraphID([]int64{9})
		assert.Error(t, err)
	})

	t.Run("edge beyond the last layer fails", func(t *testing.T) {
		_, err := NewNodeFlow(layers, []FlowEdge{{Layer: 2, Src: 0, Dst: 0, ID: 1}})
		assert.Error(t, err)
	})
}
