package sampling

import (
	"fmt"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

type strategy int

const (
	strategyNeighbor strategy = iota
	strategyLayer
)

// Loader is the finite, non-restartable NodeFlow iterator. Seed nodes are
// sliced into contiguous batchSize chunks; each call to Next pops one
// NodeFlow, materializing numWorkers chunks per round. Chunk order is
// stable for a given seed order.
type Loader struct {
	g        *graph.Graph
	opts     Options
	strat    strategy
	flows    []*graph.NodeFlow
	chunkIdx int
}

// NewNeighborSampler creates a loader that expands each seed's neighborhood
// up to ExpandFactor neighbors per hop for NumHops hops.
func NewNeighborSampler(g *graph.Graph, opts Options) (*Loader, error) {
	if !g.IsReadonly() {
		return nil, fmt.Errorf("%w: NodeFlow loaders only support read-only graphs", ErrConfig)
	}
	if opts.ExpandFactor == nil {
		return nil, fmt.Errorf("%w: neighbor sampling needs an expand factor", ErrConfig)
	}
	if opts.NumHops < 1 {
		return nil, fmt.Errorf("%w: neighbor sampling needs at least one hop, got %d", ErrConfig, opts.NumHops)
	}
	if err := opts.normalize(g); err != nil {
		return nil, err
	}
	return &Loader{g: g, opts: opts, strat: strategyNeighbor}, nil
}

// NewLayerSampler creates a loader that draws a fixed-size node set per
// layer from the pool induced by the previous layer; one batched draw per
// layer makes it the faster choice on dense graphs.
func NewLayerSampler(g *graph.Graph, opts Options) (*Loader, error) {
	if !g.IsReadonly() {
		return nil, fmt.Errorf("%w: NodeFlow loaders only support read-only graphs", ErrConfig)
	}
	if len(opts.LayerSizes) == 0 {
		return nil, fmt.Errorf("%w: layer sampling needs layer sizes", ErrConfig)
	}
	for _, s := range opts.LayerSizes {
		if s < 1 {
			return nil, fmt.Errorf("%w: layer size %d", ErrConfig, s)
		}
	}
	if opts.AddSelfLoop {
		return nil, fmt.Errorf("%w: self loops are not supported by layer sampling", ErrConfig)
	}
	if err := opts.normalize(g); err != nil {
		return nil, err
	}
	return &Loader{g: g, opts: opts, strat: strategyLayer}, nil
}

// NumBatches returns the total batch count: ceil(len(seeds)/batchSize).
func (l *Loader) NumBatches() int {
	n := len(l.opts.Seeds)
	return (n + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// prefetchRound materializes up to numWorkers chunks. Each chunk is an
// independently computable sampling unit; order follows chunk index.
func (l *Loader) prefetchRound() error {
	numSeeds := len(l.opts.Seeds)
	for w := 0; w < l.opts.NumWorkers; w++ {
		start := l.chunkIdx * l.opts.BatchSize
		if start >= numSeeds {
			break
		}
		end := start + l.opts.BatchSize
		if end > numSeeds {
			end = numSeeds
		}
		chunk := l.opts.Seeds[start:end]
		l.chunkIdx++
		var nf *graph.NodeFlow
		var err error
		switch l.strat {
		case strategyNeighbor:
			nf, err = sampleNeighborFlow(l.g, chunk, l.opts.ExpandFactor, l.opts.NumHops,
				l.opts.Dir, l.opts.Prob, l.opts.AddSelfLoop, l.opts.Rand)
		case strategyLayer:
			nf, err = sampleLayerFlow(l.g, chunk, l.opts.LayerSizes,
				l.opts.Dir, l.opts.Prob, l.opts.Rand)
		}
		if err != nil {
			return err
		}
		l.flows = append(l.flows, nf)
	}
	if len(l.flows) > 0 {
		utils.SampleLog("materialized %d flows up to chunk %d", len(l.flows), l.chunkIdx)
	}
	return nil
}

// Next returns the next NodeFlow, or ErrExhausted once every seed chunk has
// been consumed. The sequence is not restartable.
func (l *Loader) Next() (*graph.NodeFlow, error) {
	if len(l.flows) == 0 {
		if err := l.prefetchRound(); err != nil {
			return nil, err
		}
	}
	if len(l.flows) == 0 {
		return nil, ErrExhausted
	}
	nf := l.flows[0]
	l.flows = l.flows[1:]
	return nf, nil
}
