package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEdgeListFromBytes(t *testing.T) {
	t.Run("parses separators and comments", func(t *testing.T) {
		contents := "# header\n0 1\n1,2\n2\t0\n\n// trailer\n"
		g, err := LoadEdgeListFromBytes([]byte(contents))
		require.NoError(t, err)
		assert.Equal(t, int64(3), g.NumNodes())
		assert.Equal(t, int64(3), g.NumEdges())
		src, dst := g.Edges()
		assert.Equal(t, []int64{0, 1, 2}, src)
		assert.Equal(t, []int64{1, 2, 0}, dst)
	})

	t.Run("rejects malformed lines", func(t *testing.T) {
		_, err := LoadEdgeListFromBytes([]byte("0 1\nnot-an-edge\n"))
		assert.Error(t, err)
		_, err = LoadEdgeListFromBytes([]byte("42\n"))
		assert.Error(t, err)
	})
}

func TestLoadEdgeListFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 1\n1 0\n"), 0o644))

	g, err := LoadEdgeList(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), g.NumNodes())

	_, err = LoadEdgeList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
