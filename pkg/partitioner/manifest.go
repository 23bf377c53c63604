package partitioner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/partition"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// PartFiles lists one partition's emitted files, relative to the manifest.
type PartFiles struct {
	Structure string `json:"structure"`
	NodeFeats string `json:"node_feats,omitempty"`
	EdgeFeats string `json:"edge_feats,omitempty"`
}

// Manifest is the top-level metadata file referencing every partition
// shard and the partition book arrays. It is always written after the
// shards it points at.
type Manifest struct {
	GraphName string `json:"graph_name"`
	NumParts  int    `json:"num_parts"`
	NumHops   int    `json:"num_hops"`
	Method    string `json:"part_method"`
	Reshuffle bool   `json:"reshuffle"`
	NumNodes  int64  `json:"num_nodes"`
	NumEdges  int64  `json:"num_edges"`
	// Map-form book files (reshuffle = false).
	NodeMapFile string `json:"node_map,omitempty"`
	EdgeMapFile string `json:"edge_map,omitempty"`
	// Range-form book boundaries (reshuffle = true).
	NodeBounds []int64 `json:"node_bounds,omitempty"`
	EdgeBounds []int64 `json:"edge_bounds,omitempty"`

	Parts         []PartFiles `json:"parts"`
	Visualization string      `json:"visualization,omitempty"`
}

func (m *Manifest) write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("partitioner: cannot encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("partitioner: cannot write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("partitioner: cannot read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("partitioner: cannot parse manifest %s: %w", path, err)
	}
	if m.NumParts < 1 || len(m.Parts) != m.NumParts {
		return nil, fmt.Errorf("partitioner: manifest lists %d parts for num_parts=%d", len(m.Parts), m.NumParts)
	}
	return &m, nil
}

// PartData is one loaded partition: the local graph index plus the local
// to global id mappings. The first NumInner local nodes are owned, the
// rest are halo replicas.
type PartData struct {
	PartID    int
	Graph     *graph.Graph
	GlobalNID []int64
	GlobalEID []int64
	NumInner  int64
}

// LoadPartition loads one partition's structure file and feature shards.
func LoadPartition(manifestPath string, partID int) (*PartData, *graph.Frame, *graph.Frame, *Manifest, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if partID < 0 || partID >= m.NumParts {
		return nil, nil, nil, nil, fmt.Errorf("partitioner: partition %d out of range [0, %d)", partID, m.NumParts)
	}
	dir := filepath.Dir(manifestPath)
	pf := m.Parts[partID]

	f, err := os.Open(filepath.Join(dir, pf.Structure))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("partitioner: cannot open structure file: %w", err)
	}
	defer f.Close()
	counts, err := tensor.DecodeFrom(f)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("partitioner: bad structure file: %w", err)
	}
	var tensors [4]*tensor.Tensor
	for i := range tensors {
		if tensors[i], err = tensor.DecodeFrom(f); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("partitioner: bad structure file: %w", err)
		}
	}
	globalNID := tensors[0].Int64s()
	globalEID := tensors[1].Int64s()
	lsrc := tensors[2].Int64s()
	ldst := tensors[3].Int64s()
	g, err := graph.New(int64(len(globalNID)), lsrc, ldst)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("partitioner: bad structure file: %w", err)
	}
	pd := &PartData{
		PartID:    partID,
		Graph:     g,
		GlobalNID: globalNID,
		GlobalEID: globalEID,
		NumInner:  counts.Int64s()[0],
	}

	var nodeFeats, edgeFeats *graph.Frame
	if pf.NodeFeats != "" {
		if nodeFeats, err = readFrameFile(filepath.Join(dir, pf.NodeFeats)); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if pf.EdgeFeats != "" {
		if edgeFeats, err = readFrameFile(filepath.Join(dir, pf.EdgeFeats)); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return pd, nodeFeats, edgeFeats, m, nil
}

// LoadPartitionBook rebuilds the partition book from the manifest: a range
// book when the partitioner reshuffled, otherwise the map book from the
// node/edge map files.
func LoadPartitionBook(manifestPath string) (partition.Book, error) {
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return m.Book(filepath.Dir(manifestPath))
}

// Book rebuilds the partition book for a manifest whose files live in dir.
func (m *Manifest) Book(dir string) (partition.Book, error) {
	if m.Reshuffle {
		return partition.NewRangeBook(m.NumParts, m.NodeBounds, m.EdgeBounds)
	}
	nodeMap, err := readTensorFile(filepath.Join(dir, m.NodeMapFile))
	if err != nil {
		return nil, err
	}
	edgeMap, err := readTensorFile(filepath.Join(dir, m.EdgeMapFile))
	if err != nil {
		return nil, err
	}
	return partition.NewMapBook(m.NumParts, nodeMap.Int64s(), edgeMap.Int64s())
}

func readTensorFile(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("partitioner: cannot open %s: %w", path, err)
	}
	defer f.Close()
	return tensor.DecodeFrom(f)
}

func readFrameFile(path string) (*graph.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("partitioner: cannot open %s: %w", path, err)
	}
	defer f.Close()
	return graph.DecodeFrameFrom(f)
}
