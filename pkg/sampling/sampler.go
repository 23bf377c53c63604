// Package sampling produces NodeFlow mini-batches from a local graph index:
// per-seed neighbor expansion, layer-wise sampling, a batched loader and a
// bounded prefetch pipeline overlapping sampling with consumption.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
)

var (
	// ErrConfig reports invalid sampler parameters, raised before any work.
	ErrConfig = errors.New("sampling: invalid configuration")
	// ErrExhausted is the normal end of a finite loader, not a failure.
	ErrExhausted = errors.New("sampling: no more batches")
)

// ExpandFactor resolves how many neighbors to draw for a node, given its
// neighbor list length.
type ExpandFactor interface {
	Resolve(degree int) int
}

// FixedFanout draws up to a constant number of neighbors.
type FixedFanout int

func (f FixedFanout) Resolve(degree int) int {
	if int(f) < degree {
		return int(f)
	}
	return degree
}

// FracFanout draws a fraction of the neighbor list, at least one neighbor
// when any exists.
type FracFanout float64

func (f FracFanout) Resolve(degree int) int {
	if degree == 0 {
		return 0
	}
	n := int(float64(degree) * float64(f))
	if n < 1 {
		n = 1
	}
	if n > degree {
		n = degree
	}
	return n
}

// SqrtDegFanout draws about sqrt(degree) neighbors, the "sqrt(deg)" formula.
type SqrtDegFanout struct{}

func (SqrtDegFanout) Resolve(degree int) int {
	if degree == 0 {
		return 0
	}
	n := int(math.Ceil(math.Sqrt(float64(degree))))
	if n > degree {
		n = degree
	}
	return n
}

// ParseExpandFactor maps the textual forms to a resolver: an integer, a
// fraction in (0, 1), or the formula name "sqrt(deg)".
func ParseExpandFactor(v any) (ExpandFactor, error) {
	switch x := v.(type) {
	case int:
		if x < 1 {
			return nil, fmt.Errorf("%w: expand factor %d", ErrConfig, x)
		}
		return FixedFanout(x), nil
	case float64:
		if x <= 0 || x > 1 {
			return nil, fmt.Errorf("%w: expand fraction %f", ErrConfig, x)
		}
		return FracFanout(x), nil
	case string:
		if x == "sqrt(deg)" {
			return SqrtDegFanout{}, nil
		}
		return nil, fmt.Errorf("%w: unknown expand formula %q", ErrConfig, x)
	}
	return nil, fmt.Errorf("%w: unsupported expand factor %T", ErrConfig, v)
}

// Options configures both sampling strategies. Zero values fall back to:
// all nodes as seeds, direction "in", one hop, one worker.
type Options struct {
	BatchSize    int
	ExpandFactor ExpandFactor // neighbor sampling only
	NumHops      int          // neighbor sampling only
	LayerSizes   []int        // layer sampling only
	Dir          graph.Direction
	// Prob holds a per-node sampling weight; nil means uniform. Length
	// must equal the graph's node count.
	Prob        []float64
	Seeds       []int64
	Shuffle     bool
	NumWorkers  int
	AddSelfLoop bool
	// Rand seeds the sampler's own generator; nil uses a default source.
	Rand *rand.Rand
}

func (o *Options) normalize(g *graph.Graph) error {
	if o.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d", ErrConfig, o.BatchSize)
	}
	if o.NumWorkers < 1 {
		o.NumWorkers = 1
	}
	if o.Prob != nil && int64(len(o.Prob)) != g.NumNodes() {
		return fmt.Errorf("%w: %d node probabilities for %d nodes", ErrConfig, len(o.Prob), g.NumNodes())
	}
	if o.Seeds == nil {
		o.Seeds = make([]int64, g.NumNodes())
		for i := range o.Seeds {
			o.Seeds[i] = int64(i)
		}
	} else {
		o.Seeds = append([]int64(nil), o.Seeds...)
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	if o.Shuffle {
		o.Rand.Shuffle(len(o.Seeds), func(i, j int) {
			o.Seeds[i], o.Seeds[j] = o.Seeds[j], o.Seeds[i]
		})
	}
	return nil
}

// sampleIndices draws up to k distinct positions from [0, n), weighted by
// weights when given (roulette with removal).
func sampleIndices(rng *rand.Rand, n, k int, weights []float64) []int {
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if weights == nil {
		return rng.Perm(n)[:k]
	}
	idx := make([]int, n)
	w := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		idx[i] = i
		w[i] = weights[i]
		total += w[i]
	}
	out := make([]int, 0, k)
	remaining := n
	for len(out) < k && remaining > 0 {
		var pick int
		if total <= 0 {
			pick = rng.Intn(remaining)
		} else {
			r := rng.Float64() * total
			acc := 0.0
			pick = remaining - 1
			for i := 0; i < remaining; i++ {
				acc += w[i]
				if r < acc {
					pick = i
					break
				}
			}
		}
		out = append(out, idx[pick])
		total -= w[pick]
		remaining--
		idx[pick] = idx[remaining]
		w[pick] = w[remaining]
	}
	return out
}

// sampleNeighborFlow expands one seed chunk into a NodeFlow: numHops
// predecessor layers, edges from layer i to layer i+1, seeds in the last
// layer.
func sampleNeighborFlow(g *graph.Graph, seeds []int64, ef ExpandFactor, numHops int,
	dir graph.Direction, prob []float64, addSelfLoop bool, rng *rand.Rand) (*graph.NodeFlow, error) {
	layers := make([][]int64, numHops+1)
	layers[numHops] = append([]int64(nil), seeds...)
	var edges []graph.FlowEdge
	curr := layers[numHops]
	for hop := numHops - 1; hop >= 0; hop-- {
		var layer []int64
		seen := make(map[int64]bool, len(curr))
		add := func(id int64) {
			if !seen[id] {
				seen[id] = true
				layer = append(layer, id)
			}
		}
		for _, node := range curr {
			nbrs, eids, err := g.Neighbors(node, dir)
			if err != nil {
				return nil, err
			}
			k := ef.Resolve(len(nbrs))
			var weights []float64
			if prob != nil {
				weights = make([]float64, len(nbrs))
				for i, nb := range nbrs {
					weights[i] = prob[nb]
				}
			}
			for _, pick := range sampleIndices(rng, len(nbrs), k, weights) {
				add(nbrs[pick])
				edges = append(edges, graph.FlowEdge{
					Layer: hop, Src: nbrs[pick], Dst: node, ID: eids[pick],
				})
			}
			if addSelfLoop {
				add(node)
				edges = append(edges, graph.FlowEdge{
					Layer: hop, Src: node, Dst: node, ID: graph.SelfLoopEdgeID,
				})
			}
		}
		layers[hop] = layer
		curr = layer
	}
	return graph.NewNodeFlow(layers, edges)
}

// sampleLayerFlow builds one NodeFlow by drawing a fixed-size node set per
// layer from the candidate pool induced by the previous layer, then keeping
// the edges that connect adjacent layers. One batched draw per layer, not
// per seed.
func sampleLayerFlow(g *graph.Graph, seeds []int64, layerSizes []int,
	dir graph.Direction, prob []float64, rng *rand.Rand) (*graph.NodeFlow, error) {
	numHops := len(layerSizes)
	layers := make([][]int64, numHops+1)
	layers[numHops] = append([]int64(nil), seeds...)
	var edges []graph.FlowEdge
	curr := layers[numHops]
	for hop := numHops - 1; hop >= 0; hop-- {
		// Candidate pool: the union of the current layer's neighbors.
		var pool []int64
		seen := make(map[int64]bool)
		for _, node := range curr {
			nbrs, _, err := g.Neighbors(node, dir)
			if err != nil {
				return nil, err
			}
			for _, nb := range nbrs {
				if !seen[nb] {
					seen[nb] = true
					pool = append(pool, nb)
				}
			}
		}
		size := layerSizes[numHops-1-hop]
		var weights []float64
		if prob != nil {
			weights = make([]float64, len(pool))
			for i, nb := range pool {
				weights[i] = prob[nb]
			}
		}
		layer := make([]int64, 0, size)
		chosen := make(map[int64]bool, size)
		for _, pick := range sampleIndices(rng, len(pool), size, weights) {
			layer = append(layer, pool[pick])
			chosen[pool[pick]] = true
		}
		// Keep the existing edges between the drawn layer and the
		// current one.
		for _, node := range curr {
			nbrs, eids, err := g.Neighbors(node, dir)
			if err != nil {
				return nil, err
			}
			for i, nb := range nbrs {
				if chosen[nb] {
					edges = append(edges, graph.FlowEdge{
						Layer: hop, Src: nb, Dst: node, ID: eids[i],
					})
				}
			}
		}
		layers[hop] = layer
		curr = layer
	}
	return graph.NewNodeFlow(layers, edges)
}
