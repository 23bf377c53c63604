// Package rpc implements the message framing, service dispatch and
// client/server transport used by the distributed graph layer. Metadata is
// encoded with msgpack; tensor buffers travel next to it on the wire
// without passing through the metadata encoder.
package rpc

import (
	"github.com/lioia/distributed-nodeflow/pkg/graph"
	"github.com/lioia/distributed-nodeflow/pkg/partition"
	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// Reserved service ids used by the transport itself. User services must
// register positive ids.
const (
	registerServiceID int32 = -1
	errorServiceID    int32 = -2
	shutdownServiceID int32 = -3
)

// Message is the state-capture capability shared by requests and responses:
// State returns the metadata (anything msgpack can encode) and the raw
// tensor buffers kept out of the metadata encoder; LoadState is the
// inverse, receiving a decoder positioned on the metadata bytes.
type Message interface {
	State() (meta any, tensors []*tensor.Tensor)
	LoadState(dec func(any) error, tensors []*tensor.Tensor) error
}

// Request is a message the server can process against its local state.
type Request interface {
	Message
	Process(s *ServerState) (Response, error)
}

// Response is a processed result; it carries no processing capability.
type Response interface {
	Message
}

// RPCMessage is the unit framed onto the wire. Construction is pure data
// assembly.
type RPCMessage struct {
	ServiceID int32
	MsgSeq    int64
	ClientID  int32
	ServerID  int32
	Data      []byte
	Tensors   []*tensor.Tensor
}

// ServerState is the handle passed to Request.Process: the loaded local
// partition, the partition book and the server-side stateful resources.
// All fields are optional; a service uses what it needs. The transport
// serializes request delivery per connection but does not serialize effects
// across connections; stateful fields synchronize themselves.
type ServerState struct {
	PartID     int
	LocalGraph *graph.Graph
	// GlobalNID / GlobalEID map local node/edge ids to global ids,
	// including halo nodes; the first NumInner nodes are owned.
	GlobalNID []int64
	GlobalEID []int64
	NumInner  int64
	Book      partition.Book
	NodeFeats *graph.Frame
	EdgeFeats *graph.Frame
	Stats     Stats
}

// Builtin payload bodies, encoded with msgpack directly (they bypass the
// user service registry).
type registerMeta struct {
	Addr       string `msgpack:"addr"`
	ProposedID int32  `msgpack:"id"`
}

type registerAck struct {
	ClientID   int32 `msgpack:"client_id"`
	NumClients int32 `msgpack:"num_clients"`
}

type errorBody struct {
	ServiceID int32  `msgpack:"sid"`
	Msg       string `msgpack:"msg"`
}
