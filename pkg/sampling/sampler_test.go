package sampling

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
)

// ring builds a directed cycle 0->1->...->n-1->0 plus chords i->i+2.
func ring(t *testing.T, n int64) *graph.Graph {
	t.Helper()
	var src, dst []int64
	for i := int64(0); i < n; i++ {
		src = append(src, i)
		dst = append(dst, (i+1)%n)
		src = append(src, i)
		dst = append(dst, (i+2)%n)
	}
	g, err := graph.New(n, src, dst)
	require.NoError(t, err)
	return g
}

func TestExpandFactors(t *testing.T) {
	t.Run("fixed caps at degree", func(t *testing.T) {
		assert.Equal(t, 3, FixedFanout(3).Resolve(10))
		assert.Equal(t, 2, FixedFanout(3).Resolve(2))
	})

	t.Run("fraction draws at least one", func(t *testing.T) {
		assert.Equal(t, 5, FracFanout(0.5).Resolve(10))
		assert.Equal(t, 1, FracFanout(0.1).Resolve(3))
		assert.Equal(t, 0, FracFanout(0.5).Resolve(0))
	})

	t.Run("sqrt formula", func(t *testing.T) {
		assert.Equal(t, 4, SqrtDegFanout{}.Resolve(16))
		assert.Equal(t, 3, SqrtDegFanout{}.Resolve(9))
		assert.Equal(t, 1, SqrtDegFanout{}.Resolve(1))
	})

	t.Run("parse", func(t *testing.T) {
		ef, err := ParseExpandFactor(4)
		require.NoError(t, err)
		assert.Equal(t, FixedFanout(4), ef)

		ef, err = ParseExpandFactor(0.25)
		require.NoError(t, err)
		assert.Equal(t, FracFanout(0.25), ef)

		ef, err = ParseExpandFactor("sqrt(deg)")
		require.NoError(t, err)
		assert.Equal(t, SqrtDegFanout{}, ef)

		for _, bad := range []any{0, -1, 1.5, "cube(deg)", true} {
			_, err = ParseExpandFactor(bad)
			assert.True(t, errors.Is(err, ErrConfig), "expected config error for %v", bad)
		}
	})
}

func TestNeighborSampler(t *testing.T) {
	g := ring(t, 20)

	t.Run("flow shape", func(t *testing.T) {
		const numHops = 3
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    4,
			ExpandFactor: FixedFanout(2),
			NumHops:      numHops,
			Dir:          graph.DirIn,
			Seeds:        []int64{0, 1, 2, 3},
			Rand:         rand.New(rand.NewSource(7)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)

		assert.Equal(t, numHops+1, nf.NumLayers())
		assert.Equal(t, []int64{0, 1, 2, 3}, nf.Seeds())
		for _, e := range nf.Edges() {
			assert.GreaterOrEqual(t, e.Layer, 0)
			assert.Less(t, e.Layer, numHops)
			// Src sits in the edge's layer, Dst one layer closer to the
			// seeds.
			assert.Contains(t, nf.Layer(e.Layer), e.Src)
			assert.Contains(t, nf.Layer(e.Layer+1), e.Dst)
		}
	})

	t.Run("fanout bounds sampled edges per node", func(t *testing.T) {
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    20,
			ExpandFactor: FixedFanout(1),
			NumHops:      1,
			Dir:          graph.DirIn,
			Rand:         rand.New(rand.NewSource(7)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)
		perDst := map[int64]int{}
		for _, e := range nf.Edges() {
			perDst[e.Dst]++
		}
		for dst, n := range perDst {
			assert.Equal(t, 1, n, "node %d drew %d edges for fanout 1", dst, n)
		}
	})

	t.Run("self loops use the reserved edge id", func(t *testing.T) {
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    2,
			ExpandFactor: FixedFanout(1),
			NumHops:      1,
			Seeds:        []int64{4, 5},
			AddSelfLoop:  true,
			Rand:         rand.New(rand.NewSource(7)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)
		selfLoops := 0
		for _, e := range nf.Edges() {
			if e.ID == graph.SelfLoopEdgeID {
				assert.Equal(t, e.Src, e.Dst)
				selfLoops++
			}
		}
		assert.Equal(t, 2, selfLoops)
	})

	t.Run("weighted sampling never draws zero-weight neighbors", func(t *testing.T) {
		prob := make([]float64, 20)
		for i := range prob {
			if i%2 == 0 {
				prob[i] = 1
			}
		}
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    20,
			ExpandFactor: FixedFanout(1),
			NumHops:      1,
			Dir:          graph.DirIn,
			Prob:         prob,
			Rand:         rand.New(rand.NewSource(7)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)
		for _, e := range nf.Edges() {
			// Every node has one even and one odd in-neighbor; only the
			// even one carries weight.
			assert.Equal(t, int64(0), e.Src%2)
		}
	})

	t.Run("configuration errors", func(t *testing.T) {
		cases := []Options{
			{BatchSize: 0, ExpandFactor: FixedFanout(1), NumHops: 1},
			{BatchSize: 1, NumHops: 1},
			{BatchSize: 1, ExpandFactor: FixedFanout(1), NumHops: 0},
			{BatchSize: 1, ExpandFactor: FixedFanout(1), NumHops: 1, Prob: []float64{1}},
		}
		for _, opts := range cases {
			_, err := NewNeighborSampler(g, opts)
			assert.True(t, errors.Is(err, ErrConfig), "options %+v", opts)
		}
	})
}

func TestLayerSampler(t *testing.T) {
	g := ring(t, 30)

	t.Run("layer sizes cap each drawn layer", func(t *testing.T) {
		loader, err := NewLayerSampler(g, Options{
			BatchSize:  6,
			LayerSizes: []int{8, 4},
			Dir:        graph.DirIn,
			Seeds:      []int64{0, 1, 2, 3, 4, 5},
			Rand:       rand.New(rand.NewSource(11)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)

		require.Equal(t, 3, nf.NumLayers())
		// LayerSizes[0] applies to the layer next to the seeds.
		assert.LessOrEqual(t, len(nf.Layer(1)), 8)
		assert.LessOrEqual(t, len(nf.Layer(0)), 4)
		for _, e := range nf.Edges() {
			assert.Contains(t, nf.Layer(e.Layer), e.Src)
			assert.Contains(t, nf.Layer(e.Layer+1), e.Dst)
		}
	})

	t.Run("configuration errors", func(t *testing.T) {
		_, err := NewLayerSampler(g, Options{BatchSize: 1})
		assert.True(t, errors.Is(err, ErrConfig))
		_, err = NewLayerSampler(g, Options{BatchSize: 1, LayerSizes: []int{0}})
		assert.True(t, errors.Is(err, ErrConfig))
		_, err = NewLayerSampler(g, Options{BatchSize: 1, LayerSizes: []int{2}, AddSelfLoop: true})
		assert.True(t, errors.Is(err, ErrConfig))
	})
}

func TestLoaderBatching(t *testing.T) {
	g := ring(t, 250)
	seeds := make([]int64, 202)
	for i := range seeds {
		seeds[i] = int64(i)
	}

	t.Run("ceil batch count with a short tail", func(t *testing.T) {
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    32,
			ExpandFactor: FixedFanout(2),
			NumHops:      1,
			Seeds:        seeds,
			NumWorkers:   3,
			Rand:         rand.New(rand.NewSource(3)),
		})
		require.NoError(t, err)
		assert.Equal(t, 7, loader.NumBatches())

		var sizes []int
		for {
			nf, err := loader.Next()
			if errors.Is(err, ErrExhausted) {
				break
			}
			require.NoError(t, err)
			sizes = append(sizes, len(nf.Seeds()))
		}
		assert.Equal(t, []int{32, 32, 32, 32, 32, 32, 10}, sizes)

		// The sequence is not restartable.
		_, err = loader.Next()
		assert.True(t, errors.Is(err, ErrExhausted))
	})

	t.Run("chunks cover the seed order exactly", func(t *testing.T) {
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    50,
			ExpandFactor: FixedFanout(1),
			NumHops:      1,
			Seeds:        seeds,
			Rand:         rand.New(rand.NewSource(3)),
		})
		require.NoError(t, err)
		var got []int64
		for {
			nf, err := loader.Next()
			if errors.Is(err, ErrExhausted) {
				break
			}
			require.NoError(t, err)
			got = append(got, nf.Seeds()...)
		}
		assert.Equal(t, seeds, got)
	})

	t.Run("shuffle permutes the seeds", func(t *testing.T) {
		loader, err := NewNeighborSampler(g, Options{
			BatchSize:    202,
			ExpandFactor: FixedFanout(1),
			NumHops:      1,
			Seeds:        seeds,
			Shuffle:      true,
			Rand:         rand.New(rand.NewSource(3)),
		})
		require.NoError(t, err)
		nf, err := loader.Next()
		require.NoError(t, err)
		assert.NotEqual(t, seeds, nf.Seeds())
		assert.ElementsMatch(t, seeds, nf.Seeds())
	})
}
