// Package partitioner splits a graph into per-machine partitions: it runs
// a pluggable cut algorithm, expands each partition with halo nodes for
// k-hop locality, renumbers ids to dense local ranges (optionally
// reshuffling global ids partition-contiguous) and emits the partition
// files plus the partition book, referenced by a single manifest.
package partitioner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// ErrConfig reports invalid partitioning parameters, raised before any
// file I/O.
var ErrConfig = errors.New("partitioner: invalid configuration")

// Options configures PartitionGraph.
type Options struct {
	// NumHops is the halo depth copied into each partition so k-hop
	// sampling stays machine-local.
	NumHops int
	// Method selects the cut algorithm ("random" or "greedy"); Cut
	// overrides it with an external algorithm.
	Method string
	Cut    CutAlgorithm
	// NodeWeights are optional balance constraint sets; the method
	// decides how many it supports.
	NodeWeights [][]float64
	// Reshuffle renumbers global ids partition-contiguous, turning
	// ownership lookups into a binary search over range boundaries.
	Reshuffle bool
	// NodeFeats / EdgeFeats are the full-graph feature frames to shard.
	NodeFeats *graph.Frame
	EdgeFeats *graph.Frame
	// Visualize renders the assignment with graphviz next to the
	// manifest (small graphs only).
	Visualize bool
}

// partState carries one partition through renumbering and emission.
type partState struct {
	innerNodes []int64 // owned global node ids, ascending
	haloNodes  []int64 // replicated global node ids, ascending
	ownedEdges []int64 // owned global edge ids, ascending
}

// PartitionGraph partitions g into numParts pieces under outDir and
// returns the manifest path. The manifest is written last: a failure while
// emitting shards leaves no manifest pointing at missing files.
func PartitionGraph(g *graph.Graph, name string, numParts int, outDir string, opts Options) (string, error) {
	if numParts < 1 {
		return "", fmt.Errorf("%w: %d partitions", ErrConfig, numParts)
	}
	if opts.NumHops < 1 {
		// One in-hop of halo is the minimum that keeps every owned
		// edge's source materialized locally.
		return "", fmt.Errorf("%w: halo hops must be at least 1, got %d", ErrConfig, opts.NumHops)
	}
	cut := opts.Cut
	if cut == nil {
		var err error
		if cut, err = cutByName(opts.Method); err != nil {
			return "", err
		}
	}

	assign, err := cut.Assign(g, numParts, opts.NodeWeights)
	if err != nil {
		return "", err
	}
	if int64(len(assign)) != g.NumNodes() {
		return "", fmt.Errorf("partitioner: cut %s returned %d assignments for %d nodes",
			cut.Name(), len(assign), g.NumNodes())
	}
	for node, p := range assign {
		if p < 0 || p >= int64(numParts) {
			return "", fmt.Errorf("partitioner: cut %s put node %d in partition %d of %d",
				cut.Name(), node, p, numParts)
		}
	}
	utils.ServerLog("partitioning %q: %d nodes, %d edges, %d parts via %s",
		name, g.NumNodes(), g.NumEdges(), numParts, cut.Name())

	parts := buildParts(g, assign, numParts, opts.NumHops)

	// Edge ownership follows the destination node.
	edgeAssign := make([]int64, g.NumEdges())
	src, dst := g.Edges()
	for e := range edgeAssign {
		edgeAssign[e] = assign[dst[e]]
	}

	// Optional reshuffle: new global ids are positions in the
	// partition-ordered concatenation of owned nodes/edges.
	nodePerm, edgePerm := identityPerms(g)
	if opts.Reshuffle {
		nodePerm = permFromParts(parts, func(ps *partState) []int64 { return ps.innerNodes }, g.NumNodes())
		edgePerm = permFromParts(parts, func(ps *partState) []int64 { return ps.ownedEdges }, g.NumEdges())
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("partitioner: cannot create %s: %w", outDir, err)
	}

	m := &Manifest{
		GraphName: name,
		NumParts:  numParts,
		NumHops:   opts.NumHops,
		Method:    cut.Name(),
		Reshuffle: opts.Reshuffle,
		NumNodes:  g.NumNodes(),
		NumEdges:  g.NumEdges(),
	}
	for p, ps := range parts {
		pm, err := emitPart(g, name, outDir, p, ps, nodePerm, edgePerm, src, dst, opts)
		if err != nil {
			return "", err
		}
		m.Parts = append(m.Parts, pm)
	}

	if opts.Reshuffle {
		m.NodeBounds = boundsFromParts(parts, func(ps *partState) int { return len(ps.innerNodes) })
		m.EdgeBounds = boundsFromParts(parts, func(ps *partState) int { return len(ps.ownedEdges) })
	} else {
		m.NodeMapFile = name + "-node_map.bin"
		m.EdgeMapFile = name + "-edge_map.bin"
		if err := writeTensorFile(filepath.Join(outDir, m.NodeMapFile), tensor.FromInt64s(assign)); err != nil {
			return "", err
		}
		if err := writeTensorFile(filepath.Join(outDir, m.EdgeMapFile), tensor.FromInt64s(edgeAssign)); err != nil {
			return "", err
		}
	}

	if opts.Visualize {
		vizPath := filepath.Join(outDir, name+"-parts.png")
		if err := RenderAssignment(g, assign, numParts, vizPath); err != nil {
			utils.WarnLog("partitioner", "skipping visualization: %v", err)
		} else {
			m.Visualization = name + "-parts.png"
		}
	}

	// Manifest last.
	manifestPath := filepath.Join(outDir, name+".json")
	if err := m.write(manifestPath); err != nil {
		return "", err
	}
	return manifestPath, nil
}

// buildParts groups owned nodes/edges per partition and expands halos by
// numHops along the in-edges.
func buildParts(g *graph.Graph, assign []int64, numParts, numHops int) []*partState {
	parts := make([]*partState, numParts)
	for p := range parts {
		parts[p] = &partState{}
	}
	for node, p := range assign {
		parts[p].innerNodes = append(parts[p].innerNodes, int64(node))
	}
	for p, ps := range parts {
		member := make(map[int64]bool, len(ps.innerNodes))
		for _, n := range ps.innerNodes {
			member[n] = true
		}
		frontier := ps.innerNodes
		for hop := 0; hop < numHops; hop++ {
			var next []int64
			for _, node := range frontier {
				preds, _, _ := g.Neighbors(node, graph.DirIn)
				for _, pr := range preds {
					if !member[pr] {
						member[pr] = true
						next = append(next, pr)
						ps.haloNodes = append(ps.haloNodes, pr)
					}
				}
			}
			frontier = next
		}
		sort.Slice(ps.haloNodes, func(i, j int) bool { return ps.haloNodes[i] < ps.haloNodes[j] })
		_, dst := g.Edges()
		for e := int64(0); e < g.NumEdges(); e++ {
			if assign[dst[e]] == int64(p) {
				ps.ownedEdges = append(ps.ownedEdges, e)
			}
		}
	}
	return parts
}

func identityPerms(g *graph.Graph) (nodePerm, edgePerm []int64) {
	nodePerm = make([]int64, g.NumNodes())
	for i := range nodePerm {
		nodePerm[i] = int64(i)
	}
	edgePerm = make([]int64, g.NumEdges())
	for i := range edgePerm {
		edgePerm[i] = int64(i)
	}
	return nodePerm, edgePerm
}

// permFromParts maps old global ids to partition-contiguous new ids.
func permFromParts(parts []*partState, pick func(*partState) []int64, total int64) []int64 {
	perm := make([]int64, total)
	next := int64(0)
	for _, ps := range parts {
		for _, old := range pick(ps) {
			perm[old] = next
			next++
		}
	}
	return perm
}

func boundsFromParts(parts []*partState, count func(*partState) int) []int64 {
	bounds := make([]int64, len(parts)+1)
	for p, ps := range parts {
		bounds[p+1] = bounds[p] + int64(count(ps))
	}
	return bounds
}

// emitPart writes one partition's structure file and feature shards.
func emitPart(g *graph.Graph, name, outDir string, p int, ps *partState,
	nodePerm, edgePerm []int64, src, dst []int64, opts Options) (PartFiles, error) {
	pm := PartFiles{
		Structure: fmt.Sprintf("%s-part%d-graph.bin", name, p),
	}
	// Local node order: inner nodes first (local id = ownership order),
	// then halo nodes.
	nodeList := make([]int64, 0, len(ps.innerNodes)+len(ps.haloNodes))
	nodeList = append(nodeList, ps.innerNodes...)
	nodeList = append(nodeList, ps.haloNodes...)
	localOf := make(map[int64]int64, len(nodeList))
	globalNID := make([]int64, len(nodeList))
	for l, n := range nodeList {
		localOf[n] = int64(l)
		globalNID[l] = nodePerm[n]
	}
	// Owned edges whose source is materialized locally; with NumHops >= 1
	// that is all of them.
	var lsrc, ldst, globalEID []int64
	for _, e := range ps.ownedEdges {
		ls, ok := localOf[src[e]]
		if !ok {
			continue
		}
		lsrc = append(lsrc, ls)
		ldst = append(ldst, localOf[dst[e]])
		globalEID = append(globalEID, edgePerm[e])
	}

	f, err := os.Create(filepath.Join(outDir, pm.Structure))
	if err != nil {
		return pm, fmt.Errorf("partitioner: cannot create structure file: %w", err)
	}
	defer f.Close()
	for _, t := range []*tensor.Tensor{
		tensor.FromInt64s([]int64{int64(len(ps.innerNodes)), int64(len(globalEID))}),
		tensor.FromInt64s(globalNID),
		tensor.FromInt64s(globalEID),
		tensor.FromInt64s(lsrc),
		tensor.FromInt64s(ldst),
	} {
		if err := t.EncodeTo(f); err != nil {
			return pm, fmt.Errorf("partitioner: cannot write structure file: %w", err)
		}
	}

	if opts.NodeFeats != nil {
		pm.NodeFeats = fmt.Sprintf("%s-part%d-node_feat.bin", name, p)
		if err := writeFrameShard(filepath.Join(outDir, pm.NodeFeats), opts.NodeFeats, ps.innerNodes); err != nil {
			return pm, err
		}
	}
	if opts.EdgeFeats != nil {
		pm.EdgeFeats = fmt.Sprintf("%s-part%d-edge_feat.bin", name, p)
		if err := writeFrameShard(filepath.Join(outDir, pm.EdgeFeats), opts.EdgeFeats, ps.ownedEdges); err != nil {
			return pm, err
		}
	}
	return pm, nil
}

// writeFrameShard slices the given rows out of every column and writes the
// shard frame.
func writeFrameShard(path string, full *graph.Frame, rows []int64) error {
	shard := graph.NewFrame(int64(len(rows)))
	for _, key := range full.Keys() {
		col, err := full.Get(key, rows)
		if err != nil {
			return fmt.Errorf("partitioner: cannot shard column %q: %w", key, err)
		}
		if err := shard.AddColumn(key, col); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("partitioner: cannot create feature shard: %w", err)
	}
	defer f.Close()
	return shard.EncodeTo(f)
}

func writeTensorFile(path string, t *tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("partitioner: cannot create %s: %w", path, err)
	}
	defer f.Close()
	return t.EncodeTo(f)
}
