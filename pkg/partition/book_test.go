package partition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapBook(t *testing.T) {
	// 6 nodes over 2 partitions, interleaved ownership; 4 edges.
	nodeMap := []int64{0, 1, 0, 1, 1, 0}
	edgeMap := []int64{1, 0, 0, 1}
	book, err := NewMapBook(2, nodeMap, edgeMap)
	require.NoError(t, err)

	t.Run("ownership lookups", func(t *testing.T) {
		parts, err := book.PartitionOf([]int64{0, 3, 5})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1, 0}, parts)

		parts, err = book.EdgePartitionOf([]int64{0, 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 0}, parts)
	})

	t.Run("local ids follow occurrence order", func(t *testing.T) {
		local, err := book.LocalNodeID([]int64{0, 2, 5}, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1, 2}, local)

		local, err = book.LocalNodeID([]int64{4, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 0}, local)
	})

	t.Run("partition contents in local id order", func(t *testing.T) {
		assert.Equal(t, []int64{0, 2, 5}, book.NodesOfPartition(0))
		assert.Equal(t, []int64{1, 3, 4}, book.NodesOfPartition(1))
		assert.Equal(t, []int64{1, 2}, book.EdgesOfPartition(0))
		assert.Equal(t, []int64{0, 3}, book.EdgesOfPartition(1))
	})

	t.Run("metadata counts", func(t *testing.T) {
		meta := book.Metadata()
		require.Len(t, meta, 2)
		assert.Equal(t, int64(3), meta[0].NumNodes)
		assert.Equal(t, int64(2), meta[0].NumEdges)
		assert.Equal(t, int64(3), meta[1].NumNodes)
		assert.Equal(t, int64(2), meta[1].NumEdges)
	})

	t.Run("out of range ids", func(t *testing.T) {
		_, err := book.PartitionOf([]int64{6})
		assert.True(t, errors.Is(err, ErrOutOfRange))
		_, err = book.LocalNodeID([]int64{-1}, 0)
		assert.True(t, errors.Is(err, ErrOutOfRange))
	})

	t.Run("foreign ids", func(t *testing.T) {
		_, err := book.LocalNodeID([]int64{1}, 0)
		assert.True(t, errors.Is(err, ErrForeignID))
		_, err = book.LocalEdgeID([]int64{0}, 0)
		assert.True(t, errors.Is(err, ErrForeignID))
	})

	t.Run("rejects invalid partition values", func(t *testing.T) {
		_, err := NewMapBook(2, []int64{0, 2}, nil)
		assert.Error(t, err)
	})
}

func TestRangeBook(t *testing.T) {
	// Partition 0 owns nodes [0,4) and edges [0,3), partition 1 the rest.
	book, err := NewRangeBook(2, []int64{0, 4, 7}, []int64{0, 3, 8})
	require.NoError(t, err)

	t.Run("binary-search ownership", func(t *testing.T) {
		parts, err := book.PartitionOf([]int64{0, 3, 4, 6})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 0, 1, 1}, parts)
	})

	t.Run("local ids are offsets", func(t *testing.T) {
		local, err := book.LocalNodeID([]int64{4, 6}, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 2}, local)

		local, err = book.LocalEdgeID([]int64{3, 7}, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 4}, local)
	})

	t.Run("contiguous partition contents", func(t *testing.T) {
		assert.Equal(t, []int64{0, 1, 2, 3}, book.NodesOfPartition(0))
		assert.Equal(t, []int64{4, 5, 6}, book.NodesOfPartition(1))
	})

	t.Run("metadata from bounds", func(t *testing.T) {
		meta := book.Metadata()
		require.Len(t, meta, 2)
		assert.Equal(t, int64(4), meta[0].NumNodes)
		assert.Equal(t, int64(5), meta[1].NumEdges)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := book.PartitionOf([]int64{7})
		assert.True(t, errors.Is(err, ErrOutOfRange))
		_, err = book.LocalNodeID([]int64{0}, 1)
		assert.True(t, errors.Is(err, ErrForeignID))
	})

	t.Run("rejects malformed bounds", func(t *testing.T) {
		_, err := NewRangeBook(2, []int64{0, 4}, []int64{0, 1, 2})
		assert.Error(t, err)
		_, err = NewRangeBook(2, []int64{0, 5, 4}, []int64{0, 1, 2})
		assert.Error(t, err)
	})
}

// The two book forms must agree when the map happens to be contiguous.
func TestBookEquivalence(t *testing.T) {
	nodeMap := []int64{0, 0, 0, 1, 1}
	edgeMap := []int64{0, 0, 1, 1, 1, 1}
	mb, err := NewMapBook(2, nodeMap, edgeMap)
	require.NoError(t, err)
	rb, err := NewRangeBook(2, []int64{0, 3, 5}, []int64{0, 2, 6})
	require.NoError(t, err)

	ids := []int64{0, 1, 2, 3, 4}
	mp, err := mb.PartitionOf(ids)
	require.NoError(t, err)
	rp, err := rb.PartitionOf(ids)
	require.NoError(t, err)
	assert.Equal(t, mp, rp)

	for p := 0; p < 2; p++ {
		assert.Equal(t, mb.NodesOfPartition(p), rb.NodesOfPartition(p))
		assert.Equal(t, mb.EdgesOfPartition(p), rb.EdgesOfPartition(p))
	}
}
