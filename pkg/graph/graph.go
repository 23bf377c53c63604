// Package graph implements the single-machine graph index consumed by the
// samplers and the partitioner: an immutable CSR structure over both edge
// directions, induced subgraph extraction, feature frames and NodeFlows.
package graph

import (
	"fmt"
	"sort"
)

// Direction selects which adjacency a query walks.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirBoth
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in":
		return DirIn, nil
	case "out":
		return DirOut, nil
	case "both":
		return DirBoth, nil
	}
	return 0, fmt.Errorf("graph: unknown neighbor direction %q", s)
}

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirBoth:
		return "both"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// csr is one adjacency direction in compressed sparse row form.
type csr struct {
	indptr  []int64 // len = numNodes+1
	indices []int64 // neighbor node ids
	eids    []int64 // edge id per entry, parallel to indices
}

func buildCSR(numNodes int64, heads, tails []int64) csr {
	// Counting sort of edges by head node.
	indptr := make([]int64, numNodes+1)
	for _, h := range heads {
		indptr[h+1]++
	}
	for i := int64(0); i < numNodes; i++ {
		indptr[i+1] += indptr[i]
	}
	indices := make([]int64, len(heads))
	eids := make([]int64, len(heads))
	next := make([]int64, numNodes)
	copy(next, indptr[:numNodes])
	for e, h := range heads {
		pos := next[h]
		indices[pos] = tails[e]
		eids[pos] = int64(e)
		next[h]++
	}
	return csr{indptr: indptr, indices: indices, eids: eids}
}

// Graph is a read-only directed graph. Edge ids are dense [0, numEdges) in
// the order the edges were given at construction.
type Graph struct {
	numNodes int64
	src, dst []int64 // endpoints by edge id
	out      csr     // successors
	in       csr     // predecessors
}

// New builds a graph from an edge list. Endpoints must be in [0, numNodes).
func New(numNodes int64, src, dst []int64) (*Graph, error) {
	if len(src) != len(dst) {
		return nil, fmt.Errorf("graph: %d sources vs %d destinations", len(src), len(dst))
	}
	for i := range src {
		if src[i] < 0 || src[i] >= numNodes || dst[i] < 0 || dst[i] >= numNodes {
			return nil, fmt.Errorf("graph: edge %d (%d, %d) out of range [0, %d)", i, src[i], dst[i], numNodes)
		}
	}
	g := &Graph{
		numNodes: numNodes,
		src:      append([]int64(nil), src...),
		dst:      append([]int64(nil), dst...),
	}
	g.out = buildCSR(numNodes, g.src, g.dst)
	g.in = buildCSR(numNodes, g.dst, g.src)
	return g, nil
}

func (g *Graph) NumNodes() int64 { return g.numNodes }
func (g *Graph) NumEdges() int64 { return int64(len(g.src)) }

// IsReadonly always reports true; mutation is not part of this index.
func (g *Graph) IsReadonly() bool { return true }

// HasNode reports whether id is a valid node id.
func (g *Graph) HasNode(id int64) bool { return id >= 0 && id < g.numNodes }

// Edge returns the endpoints of an edge id.
func (g *Graph) Edge(eid int64) (src, dst int64, err error) {
	if eid < 0 || eid >= g.NumEdges() {
		return 0, 0, fmt.Errorf("graph: edge id %d out of range [0, %d)", eid, g.NumEdges())
	}
	return g.src[eid], g.dst[eid], nil
}

// Edges returns the full edge list by edge id. The slices are views and
// must not be modified.
func (g *Graph) Edges() (src, dst []int64) { return g.src, g.dst }

// Neighbors returns the neighbor ids and the connecting edge ids of a node.
// For DirIn these are predecessors, for DirOut successors, for DirBoth the
// concatenation of the two. The returned slices for a single direction are
// views into the index and must not be modified.
func (g *Graph) Neighbors(node int64, dir Direction) (nbrs, eids []int64, err error) {
	if !g.HasNode(node) {
		return nil, nil, fmt.Errorf("graph: node id %d out of range [0, %d)", node, g.numNodes)
	}
	switch dir {
	case DirIn:
		return g.in.indices[g.in.indptr[node]:g.in.indptr[node+1]],
			g.in.eids[g.in.indptr[node]:g.in.indptr[node+1]], nil
	case DirOut:
		return g.out.indices[g.out.indptr[node]:g.out.indptr[node+1]],
			g.out.eids[g.out.indptr[node]:g.out.indptr[node+1]], nil
	case DirBoth:
		in, ine, _ := g.Neighbors(node, DirIn)
		out, oute, _ := g.Neighbors(node, DirOut)
		nbrs = make([]int64, 0, len(in)+len(out))
		eids = make([]int64, 0, len(in)+len(out))
		nbrs = append(append(nbrs, in...), out...)
		eids = append(append(eids, ine...), oute...)
		return nbrs, eids, nil
	}
	return nil, nil, fmt.Errorf("graph: unknown direction %v", dir)
}

// Degree returns the number of neighbors of a node in the given direction.
func (g *Graph) Degree(node int64, dir Direction) (int64, error) {
	nbrs, _, err := g.Neighbors(node, dir)
	if err != nil {
		return 0, err
	}
	return int64(len(nbrs)), nil
}

// Subgraph is a node-induced subgraph. It holds a non-owning back-reference
// to its parent so induced node/edge ids stay resolvable; the parent never
// references the child.
type Subgraph struct {
	parent       *Graph
	graph        *Graph
	inducedNodes []int64 // parent node id per local node id
	inducedEdges []int64 // parent edge id per local edge id
}

// Subgraph extracts the subgraph induced by nodes: local ids follow the
// order of the (deduplicated) input, edges keep only those with both
// endpoints in the set.
func (g *Graph) Subgraph(nodes []int64) (*Subgraph, error) {
	local := make(map[int64]int64, len(nodes))
	induced := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		if !g.HasNode(n) {
			return nil, fmt.Errorf("graph: node id %d out of range [0, %d)", n, g.numNodes)
		}
		if _, ok := local[n]; ok {
			continue
		}
		local[n] = int64(len(induced))
		induced = append(induced, n)
	}
	var src, dst, eids []int64
	for _, n := range induced {
		succs, es, _ := g.Neighbors(n, DirOut)
		for i, s := range succs {
			if l, ok := local[s]; ok {
				src = append(src, local[n])
				dst = append(dst, l)
				eids = append(eids, es[i])
			}
		}
	}
	// Stable local edge ids: order by parent edge id.
	order := make([]int, len(eids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return eids[order[a]] < eids[order[b]] })
	osrc := make([]int64, len(order))
	odst := make([]int64, len(order))
	oeids := make([]int64, len(order))
	for i, o := range order {
		osrc[i] = src[o]
		odst[i] = dst[o]
		oeids[i] = eids[o]
	}
	sub, err := New(int64(len(induced)), osrc, odst)
	if err != nil {
		return nil, err
	}
	return &Subgraph{parent: g, graph: sub, inducedNodes: induced, inducedEdges: oeids}, nil
}

// Graph returns the local index of the subgraph.
func (s *Subgraph) Graph() *Graph { return s.graph }

// Parent returns the graph this subgraph was extracted from.
func (s *Subgraph) Parent() *Graph { return s.parent }

// InducedNodes returns the parent node id for every local node id.
func (s *Subgraph) InducedNodes() []int64 { return s.inducedNodes }

// InducedEdges returns the parent edge id for every local edge id.
func (s *Subgraph) InducedEdges() []int64 { return s.inducedEdges }
