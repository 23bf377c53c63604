package graph

import "fmt"

// SelfLoopEdgeID marks synthetic self-loop edges added by the samplers;
// they have no counterpart in the parent graph.
const SelfLoopEdgeID int64 = -1

// FlowEdge is one edge of a NodeFlow, connecting Layer to Layer+1.
// Endpoints are global (parent graph) node ids.
type FlowEdge struct {
	Layer    int
	Src, Dst int64
	ID       int64 // parent edge id, SelfLoopEdgeID for self loops
}

// NodeFlow is a layered acyclic subgraph produced by sampling: layer
// NumLayers()-1 holds the seed nodes, layer 0 the farthest ancestors, and
// every edge connects some layer i to layer i+1. It is a derived, disposable
// artifact rebuilt per sampling call.
type NodeFlow struct {
	layers [][]int64
	edges  []FlowEdge
	local  map[int64]int64 // global id -> flattened position
}

// NewNodeFlow assembles a NodeFlow from its layers (global node ids) and
// edges. Edges must connect adjacent layers.
func NewNodeFlow(layers [][]int64, edges []FlowEdge) (*NodeFlow, error) {
	nf := &NodeFlow{layers: layers, edges: edges, local: make(map[int64]int64)}
	pos := int64(0)
	for _, layer := range layers {
		for _, id := range layer {
			if _, ok := nf.local[id]; !ok {
				nf.local[id] = pos
			}
			pos++
		}
	}
	for _, e := range edges {
		if e.Layer < 0 || e.Layer >= len(layers)-1 {
			return nil, fmt.Errorf("nodeflow: edge (%d, %d) at layer %d of %d", e.Src, e.Dst, e.Layer, len(layers))
		}
	}
	return nf, nil
}

func (nf *NodeFlow) NumLayers() int { return len(nf.layers) }

// NumNodes returns the total node count across layers (nodes appearing in
// several layers are counted once per layer).
func (nf *NodeFlow) NumNodes() int {
	n := 0
	for _, l := range nf.layers {
		n += len(l)
	}
	return n
}

func (nf *NodeFlow) NumEdges() int { return len(nf.edges) }

// Layer returns the global node ids of layer i.
func (nf *NodeFlow) Layer(i int) []int64 { return nf.layers[i] }

// Seeds returns the seed layer (the last one).
func (nf *NodeFlow) Seeds() []int64 { return nf.layers[len(nf.layers)-1] }

// EdgesBetween returns the edges connecting layer i to layer i+1.
func (nf *NodeFlow) EdgesBetween(i int) []FlowEdge {
	var out []FlowEdge
	for _, e := range nf.edges {
		if e.Layer == i {
			out = append(out, e)
		}
	}
	return out
}

// Edges returns all edges of the flow.
func (nf *NodeFlow) Edges() []FlowEdge { return nf.edges }

// MapToSubgraphID maps global node ids to their flattened position inside
// the flow (the first occurrence when a node appears in several layers).
func (nf *NodeFlow) MapToSubgraphID(globalIDs []int64) ([]int64, error) {
	out := make([]int64, len(globalIDs))
	for i, id := range globalIDs {
		l, ok := nf.local[id]
		if !ok {
			return nil, fmt.Errorf("nodeflow: node %d is not part of the flow", id)
		}
		out[i] = l
	}
	return out, nil
}
