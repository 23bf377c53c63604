package partitioner

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/partition"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// randomGraph builds a graph with numNodes nodes and roughly avgDeg out
// edges per node.
func randomGraph(t *testing.T, numNodes int64, avgDeg int, seed int64) *graph.Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var src, dst []int64
	for n := int64(0); n < numNodes; n++ {
		for d := 0; d < avgDeg; d++ {
			src = append(src, n)
			dst = append(dst, rng.Int63n(numNodes))
		}
	}
	g, err := graph.New(numNodes, src, dst)
	require.NoError(t, err)
	return g
}

func TestCutAlgorithms(t *testing.T) {
	g := randomGraph(t, 100, 3, 1)

	t.Run("random covers every node", func(t *testing.T) {
		assign, err := RandomCut{Seed: 42}.Assign(g, 4, nil)
		require.NoError(t, err)
		require.Len(t, assign, 100)
		for _, p := range assign {
			assert.GreaterOrEqual(t, p, int64(0))
			assert.Less(t, p, int64(4))
		}
	})

	t.Run("random rejects weights", func(t *testing.T) {
		_, err := RandomCut{}.Assign(g, 4, [][]float64{make([]float64, 100)})
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("greedy balances partition sizes", func(t *testing.T) {
		assign, err := GreedyCut{}.Assign(g, 4, nil)
		require.NoError(t, err)
		counts := map[int64]int{}
		for _, p := range assign {
			counts[p]++
		}
		require.Len(t, counts, 4)
		for p, c := range counts {
			assert.InDelta(t, 25, c, 5, "partition %d has %d nodes", p, c)
		}
	})

	t.Run("greedy accepts at most one weight set", func(t *testing.T) {
		w := make([]float64, 100)
		_, err := GreedyCut{}.Assign(g, 2, [][]float64{w, w})
		assert.True(t, errors.Is(err, ErrConfig))
		_, err = GreedyCut{}.Assign(g, 2, [][]float64{{1, 2}})
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := cutByName("metis")
		assert.True(t, errors.Is(err, ErrConfig))
	})
}

func TestPartitionGraphValidation(t *testing.T) {
	g := randomGraph(t, 10, 2, 1)
	dir := t.TempDir()

	_, err := PartitionGraph(g, "g", 0, dir, Options{NumHops: 1})
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = PartitionGraph(g, "g", 2, dir, Options{NumHops: 0})
	assert.True(t, errors.Is(err, ErrConfig))

	_, err = PartitionGraph(g, "g", 2, dir, Options{NumHops: 1, Method: "metis"})
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestPartitionRoundTrip(t *testing.T) {
	const (
		numNodes = 10000
		numParts = 4
	)
	g := randomGraph(t, numNodes, 2, 7)

	feats := graph.NewFrame(numNodes)
	require.NoError(t, feats.AddColumn("feat", tensor.Arange(numNodes)))

	dir := t.TempDir()
	manifestPath, err := PartitionGraph(g, "rand10k", numParts, dir, Options{
		NumHops:   1,
		Method:    "greedy",
		NodeFeats: feats,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rand10k.json"), manifestPath)

	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, numParts, m.NumParts)
	assert.Equal(t, int64(numNodes), m.NumNodes)
	assert.Equal(t, g.NumEdges(), m.NumEdges)

	book, err := LoadPartitionBook(manifestPath)
	require.NoError(t, err)

	t.Run("book partitions every node and edge exactly once", func(t *testing.T) {
		var nodes, edges int64
		for _, meta := range book.Metadata() {
			nodes += meta.NumNodes
			edges += meta.NumEdges
		}
		assert.Equal(t, int64(numNodes), nodes)
		assert.Equal(t, g.NumEdges(), edges)
	})

	seenNodes := make(map[int64]bool)
	for p := 0; p < numParts; p++ {
		pd, nodeFeats, _, _, err := LoadPartition(manifestPath, p)
		require.NoError(t, err)

		t.Run("inner nodes agree with the book", func(t *testing.T) {
			owned := book.NodesOfPartition(p)
			require.Equal(t, int64(len(owned)), pd.NumInner)
			// The first NumInner local nodes are the owned ones, in
			// local id order.
			assert.Equal(t, owned, pd.GlobalNID[:pd.NumInner])
			local, err := book.LocalNodeID(owned, p)
			require.NoError(t, err)
			assert.Equal(t, tensor.Arange(pd.NumInner).Int64s(), local)
			for _, n := range owned {
				assert.False(t, seenNodes[n])
				seenNodes[n] = true
			}
		})

		t.Run("every owned edge is materialized with its endpoints", func(t *testing.T) {
			owned := book.EdgesOfPartition(p)
			assert.Equal(t, owned, pd.GlobalEID)
			src, dst := pd.Graph.Edges()
			for i, e := range pd.GlobalEID {
				gsrc, gdst, err := g.Edge(e)
				require.NoError(t, err)
				assert.Equal(t, gsrc, pd.GlobalNID[src[i]])
				assert.Equal(t, gdst, pd.GlobalNID[dst[i]])
				// Destinations of owned edges are inner nodes.
				assert.Less(t, dst[i], pd.NumInner)
			}
		})

		t.Run("feature shard follows the inner nodes", func(t *testing.T) {
			require.NotNil(t, nodeFeats)
			col, err := nodeFeats.Column("feat")
			require.NoError(t, err)
			assert.Equal(t, pd.GlobalNID[:pd.NumInner], col.Int64s())
		})
	}
	assert.Len(t, seenNodes, numNodes)
}

func TestPartitionReshuffle(t *testing.T) {
	g := randomGraph(t, 500, 3, 11)
	dir := t.TempDir()

	manifestPath, err := PartitionGraph(g, "shuffled", 3, dir, Options{
		NumHops:   1,
		Method:    "greedy",
		Reshuffle: true,
	})
	require.NoError(t, err)

	m, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.True(t, m.Reshuffle)
	assert.Empty(t, m.NodeMapFile)
	require.Len(t, m.NodeBounds, 4)
	assert.Equal(t, int64(0), m.NodeBounds[0])
	assert.Equal(t, int64(500), m.NodeBounds[3])

	book, err := LoadPartitionBook(manifestPath)
	require.NoError(t, err)
	_, ok := book.(*partition.RangeBook)
	assert.True(t, ok)

	// Contiguous new ids: partition p owns exactly [bounds[p], bounds[p+1]).
	for p := 0; p < 3; p++ {
		pd, _, _, _, err := LoadPartition(manifestPath, p)
		require.NoError(t, err)
		for l, gid := range pd.GlobalNID[:pd.NumInner] {
			assert.Equal(t, m.NodeBounds[p]+int64(l), gid)
		}
	}
}

func TestManifestWrittenLast(t *testing.T) {
	g := randomGraph(t, 50, 2, 5)
	dir := t.TempDir()

	// A cut that fails must leave no manifest behind.
	_, err := PartitionGraph(g, "broken", 2, dir, Options{
		NumHops: 1,
		Cut:     brokenCut{},
	})
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(dir, "broken.json"))
	assert.True(t, os.IsNotExist(err))
}

type brokenCut struct{}

func (brokenCut) Name() string { return "broken" }
func (brokenCut) Assign(g *graph.Graph, numParts int, nodeWeights [][]float64) ([]int64, error) {
	return nil, errors.New("cut failed")
}
