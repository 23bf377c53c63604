package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lioia/distributed-nodeflow/pkg/utils"
)

// Stats counts served requests; exposed by the monitoring endpoint.
type Stats struct {
	Requests atomic.Int64
	Errors   atomic.Int64
}

// Server is one logical RPC server: it binds the address assigned by the
// ip config, blocks until exactly numClients clients have registered, then
// dispatches requests against its state. Requests on a single connection
// are processed in arrival order; connections are handled concurrently.
type Server struct {
	id         int32
	cfg        *IPConfig
	numClients int
	reg        *Registry
	state      *ServerState

	ln        net.Listener
	conns     []*conn
	remaining atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer validates the topology and prepares a server; Serve does the
// actual bind and blocks until all clients have left.
func NewServer(serverID int, cfg *IPConfig, numClients int, reg *Registry, state *ServerState) (*Server, error) {
	if serverID < 0 || serverID >= cfg.NumServers() {
		return nil, fmt.Errorf("rpc: server id %d out of range [0, %d)", serverID, cfg.NumServers())
	}
	if numClients < 1 {
		return nil, fmt.Errorf("rpc: server needs at least one client, got %d", numClients)
	}
	if state == nil {
		state = &ServerState{}
	}
	return &Server{
		id:         int32(serverID),
		cfg:        cfg,
		numClients: numClients,
		reg:        reg,
		state:      state,
		done:       make(chan struct{}),
	}, nil
}

// State returns the server state handle.
func (s *Server) State() *ServerState { return s.state }

// Serve binds, accepts exactly the expected number of client registrations,
// assigns client ids, then serves until every client has disconnected or
// the server is stopped.
func (s *Server) Serve() error {
	addr, err := s.cfg.ServerAddr(int(s.id))
	if err != nil {
		return err
	}
	s.ln, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: bind %s: %v", ErrConnection, addr, err)
	}
	utils.ServerLog("server %d listening on %s, waiting for %d clients", s.id, addr, s.numClients)

	// Registration barrier: collect every client before answering anyone.
	type pending struct {
		c    *conn
		meta registerMeta
		seq  int64
	}
	regs := make([]pending, 0, s.numClients)
	for len(regs) < s.numClients {
		nc, err := s.ln.Accept()
		if err != nil {
			return fmt.Errorf("%w: accept: %v", ErrConnection, err)
		}
		c := newConn(nc)
		msg, err := c.read()
		if err != nil {
			// A probe connection that never registered; drop it and
			// keep waiting.
			c.close(StateFaulted)
			continue
		}
		if msg.ServiceID != registerServiceID {
			c.close(StateFaulted)
			continue
		}
		var meta registerMeta
		if err := msgpack.Unmarshal(msg.Data, &meta); err != nil {
			c.close(StateFaulted)
			continue
		}
		regs = append(regs, pending{c: c, meta: meta, seq: msg.MsgSeq})
	}

	// Proposed ids win (clients relay the id server 0 assigned them);
	// everyone else gets the smallest unused id in arrival order.
	used := make(map[int32]bool, len(regs))
	ids := make([]int32, len(regs))
	for i, p := range regs {
		ids[i] = -1
		if p.meta.ProposedID >= 0 && !used[p.meta.ProposedID] {
			ids[i] = p.meta.ProposedID
			used[ids[i]] = true
		}
	}
	next := int32(0)
	for i := range ids {
		if ids[i] >= 0 {
			continue
		}
		for used[next] {
			next++
		}
		ids[i] = next
		used[next] = true
	}

	for i, p := range regs {
		id := ids[i]
		p.c.peerID = id
		ack, err := msgpack.Marshal(&registerAck{ClientID: id, NumClients: int32(s.numClients)})
		if err != nil {
			return fmt.Errorf("rpc: cannot encode register ack: %w", err)
		}
		err = p.c.write(&RPCMessage{
			ServiceID: registerServiceID,
			MsgSeq:    p.seq,
			ClientID:  id,
			ServerID:  s.id,
			Data:      ack,
		})
		if err != nil {
			return err
		}
	}
	utils.ServerLog("server %d registered %d clients, serving", s.id, s.numClients)

	s.conns = make([]*conn, len(regs))
	s.remaining.Store(int32(len(regs)))
	var wg sync.WaitGroup
	for i, p := range regs {
		s.conns[i] = p.c
		wg.Add(1)
		go func(c *conn) {
			defer wg.Done()
			s.handleConn(c)
		}(p.c)
	}
	wg.Wait()
	s.Stop()
	utils.ServerLog("server %d: all clients left, shutting down", s.id)
	return nil
}

// handleConn serves one client connection until shutdown, disconnect or a
// fatal protocol error.
func (s *Server) handleConn(c *conn) {
	defer s.remaining.Add(-1)
	for {
		msg, err := c.read()
		if err != nil {
			if c.getState() == StateConnected {
				c.close(StateFaulted)
			}
			return
		}
		if msg.ServiceID == shutdownServiceID {
			utils.ServerLog("server %d: client %d exited", s.id, c.peerID)
			c.close(StateClosed)
			return
		}
		s.state.Stats.Requests.Add(1)
		entry, ok := s.reg.lookup(msg.ServiceID)
		if !ok {
			s.sendError(c, msg, fmt.Sprintf("service %d is not registered on server %d", msg.ServiceID, s.id))
			continue
		}
		req := entry.newReq()
		if err := DeserializeFromPayload(req, msg.Data, msg.Tensors); err != nil {
			// Malformed payload for a known service: the registries
			// disagree, which is fatal for this connection.
			s.sendError(c, msg, err.Error())
			c.close(StateFaulted)
			return
		}
		resp, err := processRequest(req, s.state)
		if err != nil {
			s.sendError(c, msg, err.Error())
			continue
		}
		data, tensors, err := SerializeToPayload(resp)
		if err != nil {
			s.sendError(c, msg, err.Error())
			continue
		}
		err = c.write(&RPCMessage{
			ServiceID: msg.ServiceID,
			MsgSeq:    msg.MsgSeq,
			ClientID:  msg.ClientID,
			ServerID:  s.id,
			Data:      data,
			Tensors:   tensors,
		})
		if err != nil {
			return
		}
	}
}

// processRequest runs Process and converts panics into errors so a broken
// handler faults the response, never the server.
func processRequest(req Request, state *ServerState) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in process_request: %v", r)
		}
	}()
	return req.Process(state)
}

// sendError delivers a processing failure to the client on the reserved
// error service so the caller never hangs on a lost response.
func (s *Server) sendError(c *conn, msg *RPCMessage, text string) {
	s.state.Stats.Errors.Add(1)
	utils.WarnLog("server", "request seq %d service %d failed: %s", msg.MsgSeq, msg.ServiceID, text)
	body, err := msgpack.Marshal(&errorBody{ServiceID: msg.ServiceID, Msg: text})
	if err != nil {
		return
	}
	_ = c.write(&RPCMessage{
		ServiceID: errorServiceID,
		MsgSeq:    msg.MsgSeq,
		ClientID:  msg.ClientID,
		ServerID:  s.id,
		Data:      body,
	})
}

// Stop closes the listener and all client connections. In-flight requests
// fail with ErrConnectionClosed.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			_ = s.ln.Close()
		}
		for _, c := range s.conns {
			if c != nil && c.getState() == StateConnected {
				c.close(StateClosed)
			}
		}
	})
}
