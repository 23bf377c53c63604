package dist

import (
	"fmt"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/partition"
	"github.com/lioia/distributed-nodeflow/pkg/rpc"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// DistGraph is the trainer's view of the partitioned graph. It routes every
// operation to the partitions owning the requested ids and merges the
// answers, so callers work with global ids only.
//
// Partition p is served by the servers of machine rank p: one machine per
// partition, possibly several logical servers on it.
type DistGraph struct {
	client *rpc.Client
	book   partition.Book
}

func NewDistGraph(client *rpc.Client, book partition.Book) (*DistGraph, error) {
	if client == nil || book == nil {
		return nil, fmt.Errorf("dist graph needs a connected client and a partition book")
	}
	return &DistGraph{client: client, book: book}, nil
}

func (dg *DistGraph) Book() partition.Book { return dg.book }

func (dg *DistGraph) NumPartitions() int { return dg.book.NumPartitions() }

// NumNodes sums the per-partition inner node counts from the book.
func (dg *DistGraph) NumNodes() int64 {
	var total int64
	for _, meta := range dg.book.Metadata() {
		total += meta.NumNodes
	}
	return total
}

func (dg *DistGraph) NumEdges() int64 {
	var total int64
	for _, meta := range dg.book.Metadata() {
		total += meta.NumEdges
	}
	return total
}

// groupByPartition splits global ids by owning partition, remembering each
// id's position in the caller's slice so responses can be scattered back.
func (dg *DistGraph) groupByPartition(ids []int64) (map[int][]int64, map[int][]int, error) {
	parts, err := dg.book.PartitionOf(ids)
	if err != nil {
		return nil, nil, err
	}
	grouped := make(map[int][]int64)
	positions := make(map[int][]int)
	for i, p := range parts {
		grouped[int(p)] = append(grouped[int(p)], ids[i])
		positions[int(p)] = append(positions[int(p)], i)
	}
	return grouped, positions, nil
}

// SampleNeighbors draws up to fanout in-neighbors for every seed, one hop,
// fanning the seeds out to their owner partitions. The returned triples are
// global ids; their order across partitions is unspecified. Only DirIn is
// supported: a partition stores the edges whose destination it owns, so a
// seed owner holds all of the seed's in-edges but not necessarily its
// out-edges, and sampling them there would silently miss edges.
func (dg *DistGraph) SampleNeighbors(seeds []int64, fanout int, dir graph.Direction) (src, dst, eid []int64, err error) {
	if dir != graph.DirIn {
		return nil, nil, nil, errDirNotIn(dir)
	}
	if len(seeds) == 0 {
		return nil, nil, nil, nil
	}
	grouped, _, err := dg.groupByPartition(seeds)
	if err != nil {
		return nil, nil, nil, err
	}
	targets := make([]rpc.TargetRequest, 0, len(grouped))
	for p, ids := range grouped {
		targets = append(targets, rpc.TargetRequest{
			Target: p,
			Req:    &SampleNeighborsRequest{Seeds: ids, Fanout: fanout, Dir: dir.String()},
		})
	}
	responses, err := dg.client.RemoteCallToMachine(targets)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, raw := range responses {
		resp, ok := raw.(*SampleNeighborsResponse)
		if !ok {
			return nil, nil, nil, fmt.Errorf("unexpected response type %T for neighbor sampling", raw)
		}
		src = append(src, resp.Src...)
		dst = append(dst, resp.Dst...)
		eid = append(eid, resp.EID...)
	}
	return src, dst, eid, nil
}

// PullNodeFeatures gathers one feature column for the given global node
// ids. Rows come back in the order of ids regardless of which partitions
// served them.
func (dg *DistGraph) PullNodeFeatures(name string, nids []int64) (*tensor.Tensor, error) {
	return dg.pull(name, NodeFeature, nids)
}

func (dg *DistGraph) PullEdgeFeatures(name string, eids []int64) (*tensor.Tensor, error) {
	return dg.pull(name, EdgeFeature, eids)
}

func (dg *DistGraph) pull(name string, kind FeatureKind, ids []int64) (*tensor.Tensor, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("pull of %q needs at least one id", name)
	}
	grouped, positions, err := dg.groupByPartition(ids)
	if err != nil {
		return nil, err
	}
	targets := make([]rpc.TargetRequest, 0, len(grouped))
	order := make([]int, 0, len(grouped))
	for p, part := range grouped {
		targets = append(targets, rpc.TargetRequest{
			Target: p,
			Req:    &PullRequest{Name: name, Kind: kind, IDs: part},
		})
		order = append(order, p)
	}
	responses, err := dg.client.RemoteCallToMachine(targets)
	if err != nil {
		return nil, err
	}
	var out *tensor.Tensor
	for i, raw := range responses {
		resp, ok := raw.(*PullResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected response type %T for pull of %q", raw, name)
		}
		if out == nil {
			shape := append([]int64{int64(len(ids))}, resp.Data.Shape()[1:]...)
			out = tensor.New(resp.Data.Dtype(), shape...)
		}
		rows := make([]int64, len(positions[order[i]]))
		for j, pos := range positions[order[i]] {
			rows[j] = int64(pos)
		}
		if err := out.SetRows(rows, resp.Data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PushNodeFeatures scatters rows of data into the named node feature
// column; data's first dimension must match len(nids).
func (dg *DistGraph) PushNodeFeatures(name string, nids []int64, data *tensor.Tensor) error {
	return dg.push(name, NodeFeature, nids, data)
}

func (dg *DistGraph) PushEdgeFeatures(name string, eids []int64, data *tensor.Tensor) error {
	return dg.push(name, EdgeFeature, eids, data)
}

func (dg *DistGraph) push(name string, kind FeatureKind, ids []int64, data *tensor.Tensor) error {
	if data == nil || data.NumDims() == 0 || data.Shape()[0] != int64(len(ids)) {
		return fmt.Errorf("push of %q: data rows must match the %d ids", name, len(ids))
	}
	grouped, positions, err := dg.groupByPartition(ids)
	if err != nil {
		return err
	}
	targets := make([]rpc.TargetRequest, 0, len(grouped))
	for p, part := range grouped {
		rows := make([]int64, len(positions[p]))
		for j, pos := range positions[p] {
			rows[j] = int64(pos)
		}
		shard, err := data.TakeRows(rows)
		if err != nil {
			return err
		}
		targets = append(targets, rpc.TargetRequest{
			Target: p,
			Req:    &PushRequest{Name: name, Kind: kind, IDs: part, Data: shard},
		})
	}
	_, err = dg.client.RemoteCallToMachine(targets)
	return err
}

// Degrees resolves per-node in-degrees through the owner partitions,
// keeping the caller's order. Only DirIn is supported, see SampleNeighbors.
func (dg *DistGraph) Degrees(nids []int64, dir graph.Direction) ([]int64, error) {
	if dir != graph.DirIn {
		return nil, errDirNotIn(dir)
	}
	if len(nids) == 0 {
		return nil, nil
	}
	grouped, positions, err := dg.groupByPartition(nids)
	if err != nil {
		return nil, err
	}
	targets := make([]rpc.TargetRequest, 0, len(grouped))
	order := make([]int, 0, len(grouped))
	for p, part := range grouped {
		targets = append(targets, rpc.TargetRequest{
			Target: p,
			Req:    &DegreeRequest{Nodes: part, Dir: dir.String()},
		})
		order = append(order, p)
	}
	responses, err := dg.client.RemoteCallToMachine(targets)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(nids))
	for i, raw := range responses {
		resp, ok := raw.(*DegreeResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected response type %T for degrees", raw)
		}
		for j, pos := range positions[order[i]] {
			out[pos] = resp.Degrees[j]
		}
	}
	return out, nil
}
