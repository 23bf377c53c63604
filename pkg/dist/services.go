// Package dist ties the partition book, the RPC runtime and the samplers
// into the distributed graph layer: the server that owns one partition and
// the client-side DistGraph the trainer samples through.
package dist

import (
	"fmt"
	"math/rand"

	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/rpc"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// Service ids shared by every participant. All processes must register the
// same table before connecting.
const (
	SampleNeighborsServiceID int32 = 6657
	PullServiceID            int32 = 6658
	PushServiceID            int32 = 6659
	DegreeServiceID          int32 = 6660
)

// RegisterAll installs the graph services into a registry.
func RegisterAll(reg *rpc.Registry) error {
	register := []struct {
		id     int32
		newReq func() rpc.Request
		newRes func() rpc.Response
	}{
		{SampleNeighborsServiceID,
			func() rpc.Request { return &SampleNeighborsRequest{} },
			func() rpc.Response { return &SampleNeighborsResponse{} }},
		{PullServiceID,
			func() rpc.Request { return &PullRequest{} },
			func() rpc.Response { return &PullResponse{} }},
		{PushServiceID,
			func() rpc.Request { return &PushRequest{} },
			func() rpc.Response { return &PushResponse{} }},
		{DegreeServiceID,
			func() rpc.Request { return &DegreeRequest{} },
			func() rpc.Response { return &DegreeResponse{} }},
	}
	for _, s := range register {
		if err := reg.Register(s.id, s.newReq, s.newRes); err != nil {
			return err
		}
	}
	return nil
}

// localSeeds maps global seed ids onto the server's local graph. Inner
// nodes keep their ownership order, which is exactly the local id space.
func localSeeds(s *rpc.ServerState, seeds []int64) ([]int64, error) {
	if s.Book == nil || s.LocalGraph == nil {
		return nil, fmt.Errorf("server has no partition loaded")
	}
	return s.Book.LocalNodeID(seeds, s.PartID)
}

// SampleNeighborsRequest asks the owner of the seed nodes for up to Fanout
// in-neighbors per seed, one hop. Seeds must be global ids owned by the
// target partition. Only "in" is accepted: an edge is stored with the
// partition owning its destination, so a node's in-edges are all local to
// its owner while its out-edges may be scattered across other partitions.
type SampleNeighborsRequest struct {
	Seeds  []int64
	Fanout int
	Dir    string
}

type sampleNeighborsMeta struct {
	Fanout int    `msgpack:"fanout"`
	Dir    string `msgpack:"dir"`
}

func (r *SampleNeighborsRequest) State() (any, []*tensor.Tensor) {
	return sampleNeighborsMeta{Fanout: r.Fanout, Dir: r.Dir},
		[]*tensor.Tensor{tensor.FromInt64s(r.Seeds)}
}

func (r *SampleNeighborsRequest) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	var meta sampleNeighborsMeta
	if err := dec(&meta); err != nil {
		return err
	}
	if err := rpc.ExpectTensors(tensors, 1); err != nil {
		return err
	}
	r.Fanout = meta.Fanout
	r.Dir = meta.Dir
	r.Seeds = tensors[0].Int64s()
	return nil
}

func (r *SampleNeighborsRequest) Process(s *rpc.ServerState) (rpc.Response, error) {
	dir, err := graph.ParseDirection(r.Dir)
	if err != nil {
		return nil, err
	}
	if dir != graph.DirIn {
		return nil, errDirNotIn(dir)
	}
	if r.Fanout < 1 {
		return nil, fmt.Errorf("fanout must be at least 1, got %d", r.Fanout)
	}
	locals, err := localSeeds(s, r.Seeds)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(rand.Int63()))
	resp := &SampleNeighborsResponse{}
	for i, local := range locals {
		nbrs, eids, err := s.LocalGraph.Neighbors(local, dir)
		if err != nil {
			return nil, err
		}
		k := r.Fanout
		if k > len(nbrs) {
			k = len(nbrs)
		}
		for _, pick := range rng.Perm(len(nbrs))[:k] {
			resp.Src = append(resp.Src, s.GlobalNID[nbrs[pick]])
			resp.Dst = append(resp.Dst, r.Seeds[i])
			resp.EID = append(resp.EID, s.GlobalEID[eids[pick]])
		}
	}
	return resp, nil
}

// SampleNeighborsResponse carries the sampled frontier as global ids:
// one (src, dst, eid) triple per sampled edge.
type SampleNeighborsResponse struct {
	Src []int64
	Dst []int64
	EID []int64
}

func (r *SampleNeighborsResponse) State() (any, []*tensor.Tensor) {
	return nil, []*tensor.Tensor{
		tensor.FromInt64s(r.Src), tensor.FromInt64s(r.Dst), tensor.FromInt64s(r.EID),
	}
}

func (r *SampleNeighborsResponse) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	if err := rpc.ExpectTensors(tensors, 3); err != nil {
		return err
	}
	r.Src = tensors[0].Int64s()
	r.Dst = tensors[1].Int64s()
	r.EID = tensors[2].Int64s()
	return nil
}

// FeatureKind selects the node or edge frame of a feature request.
type FeatureKind string

const (
	NodeFeature FeatureKind = "node"
	EdgeFeature FeatureKind = "edge"
)

// PullRequest fetches feature rows by global id from the owner partition.
type PullRequest struct {
	Name string
	Kind FeatureKind
	IDs  []int64
}

type pullMeta struct {
	Name string `msgpack:"name"`
	Kind string `msgpack:"kind"`
}

func (r *PullRequest) State() (any, []*tensor.Tensor) {
	return pullMeta{Name: r.Name, Kind: string(r.Kind)},
		[]*tensor.Tensor{tensor.FromInt64s(r.IDs)}
}

func (r *PullRequest) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	var meta pullMeta
	if err := dec(&meta); err != nil {
		return err
	}
	if err := rpc.ExpectTensors(tensors, 1); err != nil {
		return err
	}
	r.Name = meta.Name
	r.Kind = FeatureKind(meta.Kind)
	r.IDs = tensors[0].Int64s()
	return nil
}

func (r *PullRequest) Process(s *rpc.ServerState) (rpc.Response, error) {
	frame, rows, err := resolveFeatureRows(s, r.Kind, r.IDs)
	if err != nil {
		return nil, err
	}
	data, err := frame.Get(r.Name, rows)
	if err != nil {
		return nil, err
	}
	return &PullResponse{Data: data}, nil
}

type PullResponse struct {
	Data *tensor.Tensor
}

func (r *PullResponse) State() (any, []*tensor.Tensor) {
	return nil, []*tensor.Tensor{r.Data}
}

func (r *PullResponse) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	if err := rpc.ExpectTensors(tensors, 1); err != nil {
		return err
	}
	r.Data = tensors[0]
	return nil
}

// PushRequest scatters feature rows into the owner partition's frame, the
// write half of the server-side key-value store.
type PushRequest struct {
	Name string
	Kind FeatureKind
	IDs  []int64
	Data *tensor.Tensor
}

func (r *PushRequest) State() (any, []*tensor.Tensor) {
	return pullMeta{Name: r.Name, Kind: string(r.Kind)},
		[]*tensor.Tensor{tensor.FromInt64s(r.IDs), r.Data}
}

func (r *PushRequest) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	var meta pullMeta
	if err := dec(&meta); err != nil {
		return err
	}
	if err := rpc.ExpectTensors(tensors, 2); err != nil {
		return err
	}
	r.Name = meta.Name
	r.Kind = FeatureKind(meta.Kind)
	r.IDs = tensors[0].Int64s()
	r.Data = tensors[1]
	return nil
}

func (r *PushRequest) Process(s *rpc.ServerState) (rpc.Response, error) {
	frame, rows, err := resolveFeatureRows(s, r.Kind, r.IDs)
	if err != nil {
		return nil, err
	}
	if err := frame.Set(r.Name, rows, r.Data); err != nil {
		return nil, err
	}
	return &PushResponse{}, nil
}

type PushResponse struct{}

func (r *PushResponse) State() (any, []*tensor.Tensor) { return nil, nil }

func (r *PushResponse) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	return rpc.ExpectTensors(tensors, 0)
}

// errDirNotIn rejects directions the partitioned layout cannot answer
// completely: only in-edges of an owned node are guaranteed local.
func errDirNotIn(dir graph.Direction) error {
	return fmt.Errorf("only %q is supported on a partitioned graph, got %q: edges live with the partition owning their destination, so out-edges of a node may span partitions", graph.DirIn, dir)
}

// DegreeRequest returns the in-degree of owned nodes; trainers use it to
// resolve degree-based expand factors remotely. Out and both are rejected
// for the same reason as neighbor sampling.
type DegreeRequest struct {
	Nodes []int64
	Dir   string
}

type degreeMeta struct {
	Dir string `msgpack:"dir"`
}

func (r *DegreeRequest) State() (any, []*tensor.Tensor) {
	return degreeMeta{Dir: r.Dir}, []*tensor.Tensor{tensor.FromInt64s(r.Nodes)}
}

func (r *DegreeRequest) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	var meta degreeMeta
	if err := dec(&meta); err != nil {
		return err
	}
	if err := rpc.ExpectTensors(tensors, 1); err != nil {
		return err
	}
	r.Dir = meta.Dir
	r.Nodes = tensors[0].Int64s()
	return nil
}

func (r *DegreeRequest) Process(s *rpc.ServerState) (rpc.Response, error) {
	dir, err := graph.ParseDirection(r.Dir)
	if err != nil {
		return nil, err
	}
	if dir != graph.DirIn {
		return nil, errDirNotIn(dir)
	}
	locals, err := localSeeds(s, r.Nodes)
	if err != nil {
		return nil, err
	}
	degs := make([]int64, len(locals))
	for i, local := range locals {
		if degs[i], err = s.LocalGraph.Degree(local, dir); err != nil {
			return nil, err
		}
	}
	return &DegreeResponse{Degrees: degs}, nil
}

type DegreeResponse struct {
	Degrees []int64
}

func (r *DegreeResponse) State() (any, []*tensor.Tensor) {
	return nil, []*tensor.Tensor{tensor.FromInt64s(r.Degrees)}
}

func (r *DegreeResponse) LoadState(dec func(any) error, tensors []*tensor.Tensor) error {
	if err := rpc.ExpectTensors(tensors, 1); err != nil {
		return err
	}
	r.Degrees = tensors[0].Int64s()
	return nil
}

// resolveFeatureRows maps global feature ids to shard-local rows of the
// right frame.
func resolveFeatureRows(s *rpc.ServerState, kind FeatureKind, ids []int64) (*graph.Frame, []int64, error) {
	if s.Book == nil {
		return nil, nil, fmt.Errorf("server has no partition book loaded")
	}
	switch kind {
	case NodeFeature:
		if s.NodeFeats == nil {
			return nil, nil, fmt.Errorf("server has no node features loaded")
		}
		rows, err := s.Book.LocalNodeID(ids, s.PartID)
		if err != nil {
			return nil, nil, err
		}
		return s.NodeFeats, rows, nil
	case EdgeFeature:
		if s.EdgeFeats == nil {
			return nil, nil, fmt.Errorf("server has no edge features loaded")
		}
		rows, err := s.Book.LocalEdgeID(ids, s.PartID)
		if err != nil {
			return nil, nil, err
		}
		return s.EdgeFeats, rows, nil
	}
	return nil, nil, fmt.Errorf("unknown feature kind %q", kind)
}
