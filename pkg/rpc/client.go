package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// TargetRequest pairs a request with the logical server (or, for the
// machine-level calls, the machine rank) it is addressed to.
type TargetRequest struct {
	Target int
	Req    Request
}

type recvItem struct {
	seq  int64
	resp Response
	err  error
}

// ClientOptions tune connection establishment.
type ClientOptions struct {
	// ProposedID is the client rank to request during registration;
	// negative lets the servers assign one by arrival order.
	ProposedID int
	// ConnectTimeout bounds the per-server retry loop. Zero means the
	// default of one minute.
	ConnectTimeout time.Duration
}

// Client is the trainer-side endpoint: one connection per logical server,
// a sequence counter for request correlation and a single fan-in channel
// for completed responses. Safe for concurrent senders; response order
// across in-flight requests is not guaranteed (see RemoteCall for the
// ordered variant).
type Client struct {
	cfg    *IPConfig
	reg    *Registry
	id     int32
	conns  []*conn
	recvCh chan recvItem
	seq    atomic.Int64
	closed atomic.Bool

	// done is closed when no further responses can arrive: a connection
	// faulted or the client exited. Blocked receivers wake on it.
	done     chan struct{}
	downOnce sync.Once

	// standalone mode: requests are processed in-process against local.
	local *ServerState
}

// ConnectToServer establishes one connection per logical server listed in
// the ip config and completes the registration handshake. Servers that are
// slow to bind are tolerated: dials retry with exponential backoff until
// the timeout.
func ConnectToServer(cfg *IPConfig, numServers int, reg *Registry, opts ClientOptions) (*Client, error) {
	if cfg.NumServers() != numServers {
		return nil, fmt.Errorf("rpc: ip config lists %d servers, expected %d", cfg.NumServers(), numServers)
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Minute
	}
	cl := &Client{
		cfg:    cfg,
		reg:    reg,
		id:     -1,
		conns:  make([]*conn, numServers),
		recvCh: make(chan recvItem, 128),
		done:   make(chan struct{}),
	}
	proposed := int32(-1)
	if opts.ProposedID >= 0 {
		proposed = int32(opts.ProposedID)
	}
	for sid := 0; sid < numServers; sid++ {
		addr, err := cfg.ServerAddr(sid)
		if err != nil {
			return nil, err
		}
		var nc net.Conn
		dial := func() error {
			var derr error
			nc, derr = net.DialTimeout("tcp", addr, 5*time.Second)
			return derr
		}
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = opts.ConnectTimeout
		if err := backoff.Retry(dial, bo); err != nil {
			cl.teardown()
			return nil, fmt.Errorf("%w: server %d at %s: %v", ErrConnection, sid, addr, err)
		}
		c := newConn(nc)
		c.peerID = int32(sid)
		cl.conns[sid] = c
		utils.ClientLog("connected to server %d at %s", sid, addr)
	}
	// Registration handshake, server 0 first: its ack fixes the client id
	// and the remaining servers are asked for that same id, so every
	// server knows this client under one identity. Acks are read
	// synchronously, before the receive loops start. Every server holds
	// its acks until all expected clients have arrived, which doubles as
	// a startup barrier.
	for sid, c := range cl.conns {
		if sid > 0 {
			proposed = cl.id
		}
		meta, err := msgpack.Marshal(&registerMeta{Addr: c.nc.LocalAddr().String(), ProposedID: proposed})
		if err != nil {
			cl.teardown()
			return nil, err
		}
		msg := &RPCMessage{
			ServiceID: registerServiceID,
			MsgSeq:    cl.seq.Add(1),
			ClientID:  proposed,
			ServerID:  int32(sid),
			Data:      meta,
		}
		if err := c.write(msg); err != nil {
			cl.teardown()
			return nil, err
		}
		ackMsg, err := c.read()
		if err != nil {
			cl.teardown()
			return nil, fmt.Errorf("%w: no register ack from server %d", ErrConnection, sid)
		}
		if ackMsg.ServiceID != registerServiceID {
			cl.teardown()
			return nil, fmt.Errorf("%w: unexpected frame during registration", ErrConnection)
		}
		var ack registerAck
		if err := msgpack.Unmarshal(ackMsg.Data, &ack); err != nil {
			cl.teardown()
			return nil, fmt.Errorf("%w: bad register ack: %v", ErrDeserialization, err)
		}
		if sid == 0 {
			cl.id = ack.ClientID
		} else if ack.ClientID != cl.id {
			cl.teardown()
			return nil, fmt.Errorf("%w: server %d acked client id %d, server 0 assigned %d",
				ErrConnection, sid, ack.ClientID, cl.id)
		}
	}
	utils.ClientLog("registered as client %d with %d servers", cl.id, numServers)
	for _, c := range cl.conns {
		go cl.recvLoop(c)
	}
	return cl, nil
}

// NewStandalone builds a client whose requests run in-process against the
// given state, using the same dispatch path but no sockets. Selected by
// the standalone process mode.
func NewStandalone(reg *Registry, state *ServerState) *Client {
	return &Client{
		reg:    reg,
		id:     0,
		recvCh: make(chan recvItem, 128),
		done:   make(chan struct{}),
		local:  state,
	}
}

// ID returns the client id assigned during registration.
func (cl *Client) ID() int { return int(cl.id) }

func (cl *Client) teardown() {
	for _, c := range cl.conns {
		if c != nil {
			c.close(StateClosed)
		}
	}
}

// SendRequest serializes and enqueues a request to a logical server without
// waiting for the response. Concurrent callers are safe: the per-connection
// write lock keeps frames whole.
func (cl *Client) SendRequest(serverID int, req Request) error {
	_, err := cl.sendRequest(serverID, req)
	return err
}

func (cl *Client) sendRequest(serverID int, req Request) (int64, error) {
	if cl.closed.Load() {
		return 0, fmt.Errorf("%w: client exited", ErrConnectionClosed)
	}
	sid, ok := cl.reg.serviceOf(req)
	if !ok {
		return 0, fmt.Errorf("rpc: request type %T is not registered", req)
	}
	seq := cl.seq.Add(1)
	if cl.local != nil {
		go cl.processLocal(sid, seq, req)
		return seq, nil
	}
	if serverID < 0 || serverID >= len(cl.conns) {
		return 0, fmt.Errorf("rpc: server id %d out of range [0, %d)", serverID, len(cl.conns))
	}
	data, tensors, err := SerializeToPayload(req)
	if err != nil {
		return 0, err
	}
	msg := &RPCMessage{
		ServiceID: sid,
		MsgSeq:    seq,
		ClientID:  cl.id,
		ServerID:  int32(serverID),
		Data:      data,
		Tensors:   tensors,
	}
	if err := cl.conns[serverID].write(msg); err != nil {
		return 0, err
	}
	return seq, nil
}

// processLocal runs one request through the standalone path. The payload
// round-trip is kept so standalone mode exercises the same serialization
// contract as the wire.
func (cl *Client) processLocal(sid int32, seq int64, req Request) {
	data, tensors, err := SerializeToPayload(req)
	if err != nil {
		cl.push(recvItem{seq: seq, err: err})
		return
	}
	entry, ok := cl.reg.lookup(sid)
	if !ok {
		cl.push(recvItem{seq: seq, err: fmt.Errorf("%w: service %d is not registered", ErrRemoteProcessing, sid)})
		return
	}
	decoded := entry.newReq()
	if err := DeserializeFromPayload(decoded, data, tensors); err != nil {
		cl.push(recvItem{seq: seq, err: err})
		return
	}
	resp, err := processRequest(decoded, cl.local)
	if err != nil {
		cl.push(recvItem{seq: seq, err: fmt.Errorf("%w: %v", ErrRemoteProcessing, err)})
		return
	}
	cl.push(recvItem{seq: seq, resp: resp})
}

func (cl *Client) push(item recvItem) {
	if cl.closed.Load() {
		return
	}
	cl.recvCh <- item
}

// markDown wakes everyone blocked on a response. Once down the client
// produces no further responses: a connection faulted or ExitClient ran.
func (cl *Client) markDown() {
	cl.downOnce.Do(func() { close(cl.done) })
}

// nextItem blocks for the next completed response. When the client is
// down it drains whatever is already queued, then fails with
// ErrConnectionClosed so no receiver hangs on a dead session.
func (cl *Client) nextItem() (recvItem, error) {
	select {
	case item := <-cl.recvCh:
		return item, nil
	case <-cl.done:
		select {
		case item := <-cl.recvCh:
			return item, nil
		default:
		}
		return recvItem{}, fmt.Errorf("%w: no further responses can arrive", ErrConnectionClosed)
	}
}

// RecvResponse blocks until the next completed response for this client
// arrives. With several requests in flight the arrival order is not the
// send order; callers correlate via response content or use RemoteCall.
func (cl *Client) RecvResponse() (Response, error) {
	item, err := cl.nextItem()
	if err != nil {
		return nil, err
	}
	return item.resp, item.err
}

// RemoteCall scatters requests to their targets and gathers all responses,
// returning them in input order regardless of wire arrival order. It must
// not run concurrently with bare RecvResponse callers.
func (cl *Client) RemoteCall(targets []TargetRequest) ([]Response, error) {
	seqToIdx := make(map[int64]int, len(targets))
	for i, t := range targets {
		seq, err := cl.sendRequest(t.Target, t.Req)
		if err != nil {
			return nil, err
		}
		seqToIdx[seq] = i
	}
	out := make([]Response, len(targets))
	var firstErr error
	for received := 0; received < len(targets); received++ {
		item, err := cl.nextItem()
		if err != nil {
			return nil, err
		}
		if item.seq == 0 && item.err != nil {
			// Connection-level failure, not tied to one request.
			return nil, item.err
		}
		idx, known := seqToIdx[item.seq]
		if !known {
			return nil, fmt.Errorf("%w: response for unknown sequence %d", ErrDeserialization, item.seq)
		}
		if item.err != nil {
			if firstErr == nil {
				firstErr = item.err
			}
			continue
		}
		out[idx] = item.resp
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// SendRequestToMachine routes a request to the first logical server of a
// machine rank, for setups with several servers per physical host.
func (cl *Client) SendRequestToMachine(rank int, req Request) error {
	if cl.local != nil {
		return cl.SendRequest(0, req)
	}
	sid, err := cl.cfg.FirstServerOfMachine(rank)
	if err != nil {
		return err
	}
	return cl.SendRequest(sid, req)
}

// RemoteCallToMachine is RemoteCall with machine ranks as targets.
func (cl *Client) RemoteCallToMachine(targets []TargetRequest) ([]Response, error) {
	if cl.local != nil {
		return cl.RemoteCall(targets)
	}
	resolved := make([]TargetRequest, len(targets))
	for i, t := range targets {
		sid, err := cl.cfg.FirstServerOfMachine(t.Target)
		if err != nil {
			return nil, err
		}
		resolved[i] = TargetRequest{Target: sid, Req: t.Req}
	}
	return cl.RemoteCall(resolved)
}

// recvLoop drains one connection, decoding responses and fanning them into
// the shared channel. A read failure faults the whole session: responses
// pending on the other connections are dropped and every blocked or future
// receiver gets ErrConnectionClosed instead of hanging.
func (cl *Client) recvLoop(c *conn) {
	for {
		msg, err := c.read()
		if err != nil {
			if cl.closed.Load() || c.getState() != StateConnected {
				return
			}
			c.close(StateFaulted)
			cl.push(recvItem{err: fmt.Errorf("server %d: %w", c.peerID, err)})
			cl.markDown()
			return
		}
		switch msg.ServiceID {
		case errorServiceID:
			var body errorBody
			if err := msgpack.Unmarshal(msg.Data, &body); err != nil {
				cl.push(recvItem{seq: msg.MsgSeq, err: fmt.Errorf("%w: bad error body: %v", ErrDeserialization, err)})
				continue
			}
			cl.push(recvItem{
				seq: msg.MsgSeq,
				err: fmt.Errorf("%w: server %d, service %d: %s", ErrRemoteProcessing, msg.ServerID, body.ServiceID, body.Msg),
			})
		default:
			entry, ok := cl.reg.lookup(msg.ServiceID)
			if !ok {
				cl.push(recvItem{seq: msg.MsgSeq, err: fmt.Errorf("%w: unknown service %d in response", ErrDeserialization, msg.ServiceID)})
				continue
			}
			resp := entry.newRes()
			if err := DeserializeFromPayload(resp, msg.Data, msg.Tensors); err != nil {
				cl.push(recvItem{seq: msg.MsgSeq, err: err})
				continue
			}
			cl.push(recvItem{seq: msg.MsgSeq, resp: resp})
		}
	}
}

// ExitClient leaves the session: a shutdown frame tells every server this
// client is done, then the connections close. Responses still in flight
// are dropped; blocked receivers fail with ErrConnectionClosed.
func (cl *Client) ExitClient() {
	if !cl.closed.CompareAndSwap(false, true) {
		return
	}
	cl.markDown()
	var wg sync.WaitGroup
	for _, c := range cl.conns {
		if c == nil || c.getState() != StateConnected {
			continue
		}
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			_ = c.write(&RPCMessage{
				ServiceID: shutdownServiceID,
				MsgSeq:    cl.seq.Add(1),
				ClientID:  cl.id,
				ServerID:  c.peerID,
			})
			c.close(StateClosed)
		}(c)
	}
	wg.Wait()
	utils.ClientLog("client %d exited", cl.id)
}
