package dist

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/sampling"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// LoaderOptions configures a distributed mini-batch loader.
type LoaderOptions struct {
	Seeds     []int64
	BatchSize int
	// Fanouts gives the per-hop neighbor budget, innermost hop first;
	// len(Fanouts) is the number of hops.
	Fanouts []int
	// Dir must be graph.DirIn; the owner partitions can only answer
	// in-edge queries completely.
	Dir graph.Direction
	Shuffle     bool
	DropLast    bool
	AddSelfLoop bool
	// NumPrefetch bounds the flows sampled ahead of consumption. Must be
	// at least 1.
	NumPrefetch int
	Rand        *rand.Rand
}

// NodeFlowLoader samples mini-batch NodeFlows over RPC, one sampling round
// trip per hop, and prefetches them ahead of the consumer.
type NodeFlowLoader struct {
	pf         *sampling.Prefetcher[*graph.NodeFlow]
	numBatches int
}

func NewNodeFlowLoader(dg *DistGraph, opts LoaderOptions) (*NodeFlowLoader, error) {
	if dg == nil {
		return nil, fmt.Errorf("%w: loader needs a dist graph", sampling.ErrConfig)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", sampling.ErrConfig, opts.BatchSize)
	}
	if len(opts.Fanouts) == 0 {
		return nil, fmt.Errorf("%w: at least one hop fanout is required", sampling.ErrConfig)
	}
	for _, f := range opts.Fanouts {
		if f < 1 {
			return nil, fmt.Errorf("%w: fanouts must be positive, got %d", sampling.ErrConfig, f)
		}
	}
	if len(opts.Seeds) == 0 {
		return nil, fmt.Errorf("%w: loader needs seed nodes", sampling.ErrConfig)
	}
	if opts.Dir != graph.DirIn {
		return nil, fmt.Errorf("%w: %v", sampling.ErrConfig, errDirNotIn(opts.Dir))
	}

	seeds := append([]int64(nil), opts.Seeds...)
	if opts.Shuffle {
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		rng.Shuffle(len(seeds), func(i, j int) { seeds[i], seeds[j] = seeds[j], seeds[i] })
	}
	numBatches := (len(seeds) + opts.BatchSize - 1) / opts.BatchSize
	if opts.DropLast && len(seeds)%opts.BatchSize != 0 {
		numBatches--
	}
	if numBatches == 0 {
		return nil, fmt.Errorf("%w: no full batch in %d seeds with drop_last", sampling.ErrConfig, len(seeds))
	}

	init := func() (func() (*graph.NodeFlow, error), error) {
		batch := 0
		return func() (*graph.NodeFlow, error) {
			if batch >= numBatches {
				return nil, sampling.ErrExhausted
			}
			lo := batch * opts.BatchSize
			hi := lo + opts.BatchSize
			if hi > len(seeds) {
				hi = len(seeds)
			}
			batch++
			utils.SampleLog("sampling batch %d/%d (%d seeds)", batch, numBatches, hi-lo)
			return sampleRemoteFlow(dg, seeds[lo:hi], opts)
		}, nil
	}
	pf, err := sampling.NewPrefetcher(init, opts.NumPrefetch)
	if err != nil {
		return nil, err
	}
	return &NodeFlowLoader{pf: pf, numBatches: numBatches}, nil
}

func (l *NodeFlowLoader) NumBatches() int { return l.numBatches }

// Next blocks for the next prefetched flow; sampling.ErrExhausted after the
// last batch.
func (l *NodeFlowLoader) Next() (*graph.NodeFlow, error) { return l.pf.Next() }

func (l *NodeFlowLoader) Close() { l.pf.Close() }

// sampleRemoteFlow builds one NodeFlow by expanding the seed frontier hop
// by hop through the owner partitions. Layer numHops holds the seeds and
// layer 0 the farthest frontier, matching the local samplers.
func sampleRemoteFlow(dg *DistGraph, seeds []int64, opts LoaderOptions) (*graph.NodeFlow, error) {
	numHops := len(opts.Fanouts)
	layers := make([][]int64, numHops+1)
	layers[numHops] = dedupSorted(seeds)

	var edges []graph.FlowEdge
	curr := layers[numHops]
	for hop := numHops - 1; hop >= 0; hop-- {
		src, dst, eid, err := dg.SampleNeighbors(curr, opts.Fanouts[numHops-1-hop], opts.Dir)
		if err != nil {
			return nil, err
		}
		seen := make(map[int64]bool, len(src))
		var layer []int64
		for i := range src {
			edges = append(edges, graph.FlowEdge{Layer: hop, Src: src[i], Dst: dst[i], ID: eid[i]})
			if !seen[src[i]] {
				seen[src[i]] = true
				layer = append(layer, src[i])
			}
		}
		if opts.AddSelfLoop {
			for _, node := range curr {
				edges = append(edges, graph.FlowEdge{Layer: hop, Src: node, Dst: node, ID: graph.SelfLoopEdgeID})
				if !seen[node] {
					seen[node] = true
					layer = append(layer, node)
				}
			}
		}
		sort.Slice(layer, func(i, j int) bool { return layer[i] < layer[j] })
		layers[hop] = layer
		curr = layer
	}
	return graph.NewNodeFlow(layers, edges)
}

func dedupSorted(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[i-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
