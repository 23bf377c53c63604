package partitioner

import (
	"fmt"
	"math/rand"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
)

// CutAlgorithm produces a node-to-partition assignment; the partitioner
// treats it as a black box so external cut heuristics can plug in.
type CutAlgorithm interface {
	Name() string
	// Assign returns one partition id in [0, numParts) per node.
	Assign(g *graph.Graph, numParts int, nodeWeights [][]float64) ([]int64, error)
}

// cutByName resolves the built-in methods.
func cutByName(method string) (CutAlgorithm, error) {
	switch method {
	case "random":
		return RandomCut{}, nil
	case "greedy":
		return GreedyCut{}, nil
	}
	return nil, fmt.Errorf("%w: unknown partition method %q", ErrConfig, method)
}

// RandomCut assigns nodes uniformly at random. It supports no balance
// weights; passing any is a configuration error.
type RandomCut struct {
	Seed int64
}

func (RandomCut) Name() string { return "random" }

func (c RandomCut) Assign(g *graph.Graph, numParts int, nodeWeights [][]float64) ([]int64, error) {
	if len(nodeWeights) != 0 {
		return nil, fmt.Errorf("%w: method random supports 0 node weight sets, got %d", ErrConfig, len(nodeWeights))
	}
	rng := rand.New(rand.NewSource(c.Seed))
	assign := make([]int64, g.NumNodes())
	for i := range assign {
		assign[i] = int64(rng.Intn(numParts))
	}
	return assign, nil
}

// GreedyCut is a BFS region-growing min-edge-cut heuristic: k spread seed
// nodes grow balanced regions along the adjacency, which keeps most edges
// inside a partition. It accepts at most one node weight set.
type GreedyCut struct{}

func (GreedyCut) Name() string { return "greedy" }

func (GreedyCut) Assign(g *graph.Graph, numParts int, nodeWeights [][]float64) ([]int64, error) {
	if len(nodeWeights) > 1 {
		return nil, fmt.Errorf("%w: method greedy supports at most 1 node weight set, got %d", ErrConfig, len(nodeWeights))
	}
	n := g.NumNodes()
	var weights []float64
	if len(nodeWeights) == 1 {
		if int64(len(nodeWeights[0])) != n {
			return nil, fmt.Errorf("%w: %d node weights for %d nodes", ErrConfig, len(nodeWeights[0]), n)
		}
		weights = nodeWeights[0]
	}
	weight := func(node int64) float64 {
		if weights == nil {
			return 1
		}
		return weights[node]
	}

	assign := make([]int64, n)
	for i := range assign {
		assign[i] = -1
	}
	partWeight := make([]float64, numParts)
	frontiers := make([][]int64, numParts)
	// Evenly spaced seeds keep regions apart on id-clustered graphs.
	for p := 0; p < numParts; p++ {
		seed := int64(p) * n / int64(numParts)
		frontiers[p] = append(frontiers[p], seed)
	}
	var nextUnassigned int64
	assigned := int64(0)
	for assigned < n {
		// Grow the lightest region first.
		p := 0
		for q := 1; q < numParts; q++ {
			if partWeight[q] < partWeight[p] {
				p = q
			}
		}
		node := int64(-1)
		for len(frontiers[p]) > 0 {
			cand := frontiers[p][0]
			frontiers[p] = frontiers[p][1:]
			if assign[cand] < 0 {
				node = cand
				break
			}
		}
		if node < 0 {
			// Region ran out of frontier; restart it anywhere.
			for nextUnassigned < n && assign[nextUnassigned] >= 0 {
				nextUnassigned++
			}
			node = nextUnassigned
		}
		assign[node] = int64(p)
		partWeight[p] += weight(node)
		assigned++
		nbrs, _, err := g.Neighbors(node, graph.DirBoth)
		if err != nil {
			return nil, err
		}
		for _, nb := range nbrs {
			if assign[nb] < 0 {
				frontiers[p] = append(frontiers[p], nb)
			}
		}
	}
	return assign, nil
}
