// Package partition implements the graph partition book: the authoritative,
// read-only mapping from global node/edge ids to the owning partition and
// the dense local id inside it. A book is built once from the node and edge
// maps produced by the partitioner and never mutated afterwards.
package partition

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfRange reports a global id outside [0, global count).
	ErrOutOfRange = errors.New("partition: global id out of range")
	// ErrForeignID reports a local-id query against a partition that does
	// not own the id.
	ErrForeignID = errors.New("partition: id not owned by partition")
)

// PartMeta summarizes one partition.
type PartMeta struct {
	NumNodes int64
	NumEdges int64
}

// Book answers ownership and local-id queries over the partition metadata.
type Book interface {
	NumPartitions() int
	// PartitionOf returns the owning partition per global node id.
	PartitionOf(nids []int64) ([]int64, error)
	// EdgePartitionOf returns the owning partition per global edge id.
	EdgePartitionOf(eids []int64) ([]int64, error)
	// LocalNodeID maps global node ids owned by part to their dense local
	// ids. Foreign ids fail with ErrForeignID.
	LocalNodeID(nids []int64, part int) ([]int64, error)
	// LocalEdgeID is LocalNodeID for edges.
	LocalEdgeID(eids []int64, part int) ([]int64, error)
	// NodesOfPartition returns the global node ids owned by part, in local
	// id order.
	NodesOfPartition(part int) []int64
	// EdgesOfPartition returns the global edge ids owned by part, in local
	// id order.
	EdgesOfPartition(part int) []int64
	Metadata() []PartMeta
}

// MapBook is the general-form book backed by full node/edge lookup tables.
type MapBook struct {
	numParts  int
	nodeMap   []int64 // global node id -> partition
	edgeMap   []int64 // global edge id -> partition
	nodeLocal []int64 // global node id -> local id inside its partition
	edgeLocal []int64
	nodesOf   [][]int64
	edgesOf   [][]int64
	meta      []PartMeta
}

// NewMapBook builds a book from the raw partition maps. Local ids follow
// the order ids appear in the maps, which is the order they appear in the
// partition files.
func NewMapBook(numParts int, nodeMap, edgeMap []int64) (*MapBook, error) {
	if numParts <= 0 {
		return nil, fmt.Errorf("partition: invalid partition count %d", numParts)
	}
	b := &MapBook{
		numParts:  numParts,
		nodeMap:   append([]int64(nil), nodeMap...),
		edgeMap:   append([]int64(nil), edgeMap...),
		nodeLocal: make([]int64, len(nodeMap)),
		edgeLocal: make([]int64, len(edgeMap)),
		nodesOf:   make([][]int64, numParts),
		edgesOf:   make([][]int64, numParts),
		meta:      make([]PartMeta, numParts),
	}
	for gid, p := range b.nodeMap {
		if p < 0 || p >= int64(numParts) {
			return nil, fmt.Errorf("partition: node %d assigned to partition %d of %d", gid, p, numParts)
		}
		b.nodeLocal[gid] = int64(len(b.nodesOf[p]))
		b.nodesOf[p] = append(b.nodesOf[p], int64(gid))
		b.meta[p].NumNodes++
	}
	for gid, p := range b.edgeMap {
		if p < 0 || p >= int64(numParts) {
			return nil, fmt.Errorf("partition: edge %d assigned to partition %d of %d", gid, p, numParts)
		}
		b.edgeLocal[gid] = int64(len(b.edgesOf[p]))
		b.edgesOf[p] = append(b.edgesOf[p], int64(gid))
		b.meta[p].NumEdges++
	}
	return b, nil
}

func (b *MapBook) NumPartitions() int { return b.numParts }

func lookup(m []int64, ids []int64, kind string) ([]int64, error) {
	out := make([]int64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= int64(len(m)) {
			return nil, fmt.Errorf("%w: %s id %d not in [0, %d)", ErrOutOfRange, kind, id, len(m))
		}
		out[i] = m[id]
	}
	return out, nil
}

func (b *MapBook) PartitionOf(nids []int64) ([]int64, error) {
	return lookup(b.nodeMap, nids, "node")
}

func (b *MapBook) EdgePartitionOf(eids []int64) ([]int64, error) {
	return lookup(b.edgeMap, eids, "edge")
}

func localLookup(m, local []int64, ids []int64, part int, kind string) ([]int64, error) {
	out := make([]int64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= int64(len(m)) {
			return nil, fmt.Errorf("%w: %s id %d not in [0, %d)", ErrOutOfRange, kind, id, len(m))
		}
		if m[id] != int64(part) {
			return nil, fmt.Errorf("%w: %s id %d belongs to partition %d, not %d", ErrForeignID, kind, id, m[id], part)
		}
		out[i] = local[id]
	}
	return out, nil
}

func (b *MapBook) LocalNodeID(nids []int64, part int) ([]int64, error) {
	return localLookup(b.nodeMap, b.nodeLocal, nids, part, "node")
}

func (b *MapBook) LocalEdgeID(eids []int64, part int) ([]int64, error) {
	return localLookup(b.edgeMap, b.edgeLocal, eids, part, "edge")
}

func (b *MapBook) NodesOfPartition(part int) []int64 { return b.nodesOf[part] }
func (b *MapBook) EdgesOfPartition(part int) []int64 { return b.edgesOf[part] }

// Metadata returns per-partition node/edge counts indexed by partition id.
func (b *MapBook) Metadata() []PartMeta { return b.meta }

// NodeMap returns the raw node map (read-only).
func (b *MapBook) NodeMap() []int64 { return b.nodeMap }

// EdgeMap returns the raw edge map (read-only).
func (b *MapBook) EdgeMap() []int64 { return b.edgeMap }

// RangeBook is the contiguous-id book produced when the partitioner
// reshuffles global ids so each partition owns one dense range. Lookups
// become a binary search over the boundaries instead of a table walk.
type RangeBook struct {
	numParts   int
	nodeBounds []int64 // len numParts+1, nodeBounds[p] is the first id of p
	edgeBounds []int64
}

// NewRangeBook builds a book from the per-partition id boundaries. Both
// boundary slices must be ascending, start at 0 and have numParts+1 entries.
func NewRangeBook(numParts int, nodeBounds, edgeBounds []int64) (*RangeBook, error) {
	if len(nodeBounds) != numParts+1 || len(edgeBounds) != numParts+1 {
		return nil, fmt.Errorf("partition: want %d boundaries, got %d node and %d edge",
			numParts+1, len(nodeBounds), len(edgeBounds))
	}
	for i := 0; i < numParts; i++ {
		if nodeBounds[i] > nodeBounds[i+1] || edgeBounds[i] > edgeBounds[i+1] {
			return nil, fmt.Errorf("partition: boundaries must be ascending")
		}
	}
	if nodeBounds[0] != 0 || edgeBounds[0] != 0 {
		return nil, fmt.Errorf("partition: boundaries must start at 0")
	}
	return &RangeBook{
		numParts:   numParts,
		nodeBounds: append([]int64(nil), nodeBounds...),
		edgeBounds: append([]int64(nil), edgeBounds...),
	}, nil
}

func (b *RangeBook) NumPartitions() int { return b.numParts }

func rangeLookup(bounds []int64, ids []int64, kind string) ([]int64, error) {
	total := bounds[len(bounds)-1]
	out := make([]int64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= total {
			return nil, fmt.Errorf("%w: %s id %d not in [0, %d)", ErrOutOfRange, kind, id, total)
		}
		// First boundary strictly greater than id, minus one.
		p := sort.Search(len(bounds), func(j int) bool { return bounds[j] > id }) - 1
		out[i] = int64(p)
	}
	return out, nil
}

func (b *RangeBook) PartitionOf(nids []int64) ([]int64, error) {
	return rangeLookup(b.nodeBounds, nids, "node")
}

func (b *RangeBook) EdgePartitionOf(eids []int64) ([]int64, error) {
	return rangeLookup(b.edgeBounds, eids, "edge")
}

func rangeLocal(bounds []int64, ids []int64, part int, kind string) ([]int64, error) {
	total := bounds[len(bounds)-1]
	lo, hi := bounds[part], bounds[part+1]
	out := make([]int64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= total {
			return nil, fmt.Errorf("%w: %s id %d not in [0, %d)", ErrOutOfRange, kind, id, total)
		}
		if id < lo || id >= hi {
			return nil, fmt.Errorf("%w: %s id %d not in partition %d range [%d, %d)", ErrForeignID, kind, id, part, lo, hi)
		}
		out[i] = id - lo
	}
	return out, nil
}

func (b *RangeBook) LocalNodeID(nids []int64, part int) ([]int64, error) {
	return rangeLocal(b.nodeBounds, nids, part, "node")
}

func (b *RangeBook) LocalEdgeID(eids []int64, part int) ([]int64, error) {
	return rangeLocal(b.edgeBounds, eids, part, "edge")
}

func arange(lo, hi int64) []int64 {
	out := make([]int64, hi-lo)
	for i := range out {
		out[i] = lo + int64(i)
	}
	return out
}

func (b *RangeBook) NodesOfPartition(part int) []int64 {
	return arange(b.nodeBounds[part], b.nodeBounds[part+1])
}

func (b *RangeBook) EdgesOfPartition(part int) []int64 {
	return arange(b.edgeBounds[part], b.edgeBounds[part+1])
}

func (b *RangeBook) Metadata() []PartMeta {
	meta := make([]PartMeta, b.numParts)
	for p := 0; p < b.numParts; p++ {
		meta[p].NumNodes = b.nodeBounds[p+1] - b.nodeBounds[p]
		meta[p].NumEdges = b.edgeBounds[p+1] - b.edgeBounds[p]
	}
	return meta
}

// NodeBounds returns the node id boundaries (read-only).
func (b *RangeBook) NodeBounds() []int64 { return b.nodeBounds }

// EdgeBounds returns the edge id boundaries (read-only).
func (b *RangeBook) EdgeBounds() []int64 { return b.edgeBounds }
