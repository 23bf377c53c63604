package rpc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// ConnState tracks the lifecycle of one connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFaulted
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// maxTensorBytes caps a single received tensor buffer. A corrupt frame
// header must not drive the shape product into a huge or wrapped
// allocation.
const maxTensorBytes = int64(1) << 31

// wireHeader is the msgpack-encoded frame header. The metadata bytes and
// each tensor's raw bytes follow it on the stream, in order.
type wireHeader struct {
	ServiceID int32        `msgpack:"sid"`
	MsgSeq    int64        `msgpack:"seq"`
	ClientID  int32        `msgpack:"cid"`
	ServerID  int32        `msgpack:"srv"`
	DataLen   uint32       `msgpack:"dlen"`
	Tensors   []wireTensor `msgpack:"tensors"`
}

type wireTensor struct {
	Dtype uint8   `msgpack:"dtype"`
	Shape []int64 `msgpack:"shape"`
}

// conn is one framed connection. Writes are serialized by wmu so concurrent
// senders cannot interleave frames; reads happen from a single goroutine.
type conn struct {
	peerID int32 // server id on the client side, client id on the server side
	nc     net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	wmu    sync.Mutex
	state  atomic.Int32
}

func newConn(nc net.Conn) *conn {
	c := &conn{
		nc: nc,
		br: bufio.NewReader(nc),
		bw: bufio.NewWriter(nc),
	}
	c.setState(StateConnected)
	return c
}

func (c *conn) setState(s ConnState) { c.state.Store(int32(s)) }
func (c *conn) getState() ConnState  { return ConnState(c.state.Load()) }

func (c *conn) close(final ConnState) {
	c.setState(final)
	_ = c.nc.Close()
}

// write frames one message onto the connection under the write lock.
func (c *conn) write(msg *RPCMessage) error {
	hdr := wireHeader{
		ServiceID: msg.ServiceID,
		MsgSeq:    msg.MsgSeq,
		ClientID:  msg.ClientID,
		ServerID:  msg.ServerID,
		DataLen:   uint32(len(msg.Data)),
	}
	for _, t := range msg.Tensors {
		hdr.Tensors = append(hdr.Tensors, wireTensor{Dtype: uint8(t.Dtype()), Shape: t.Shape()})
	}
	raw, err := msgpack.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("rpc: cannot encode frame header: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if st := c.getState(); st != StateConnected {
		return fmt.Errorf("%w: connection is %s", ErrConnectionClosed, st)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := c.bw.Write(lenBuf[:]); err != nil {
		return c.writeFailed(err)
	}
	if _, err := c.bw.Write(raw); err != nil {
		return c.writeFailed(err)
	}
	if _, err := c.bw.Write(msg.Data); err != nil {
		return c.writeFailed(err)
	}
	for _, t := range msg.Tensors {
		if _, err := c.bw.Write(t.Data()); err != nil {
			return c.writeFailed(err)
		}
	}
	if err := c.bw.Flush(); err != nil {
		return c.writeFailed(err)
	}
	return nil
}

func (c *conn) writeFailed(err error) error {
	c.setState(StateFaulted)
	return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
}

// read blocks for the next frame. Frames on one connection are delivered
// in send order.
func (c *conn) read() (*RPCMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.br, lenBuf[:]); err != nil {
		return nil, readError(err)
	}
	raw := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(c.br, raw); err != nil {
		return nil, readError(err)
	}
	var hdr wireHeader
	if err := msgpack.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("%w: bad frame header: %v", ErrDeserialization, err)
	}
	msg := &RPCMessage{
		ServiceID: hdr.ServiceID,
		MsgSeq:    hdr.MsgSeq,
		ClientID:  hdr.ClientID,
		ServerID:  hdr.ServerID,
		Data:      make([]byte, hdr.DataLen),
	}
	if _, err := io.ReadFull(c.br, msg.Data); err != nil {
		return nil, readError(err)
	}
	for _, wt := range hdr.Tensors {
		dtype := tensor.Dtype(wt.Dtype)
		if dtype.Size() == 0 {
			return nil, fmt.Errorf("%w: unknown tensor dtype %d", ErrDeserialization, wt.Dtype)
		}
		n := int64(1)
		for _, s := range wt.Shape {
			if s < 0 {
				return nil, fmt.Errorf("%w: negative tensor dimension", ErrDeserialization)
			}
			if s > 0 && n > maxTensorBytes/s {
				return nil, fmt.Errorf("%w: tensor shape %v exceeds the frame limit", ErrDeserialization, wt.Shape)
			}
			n *= s
		}
		byteLen := n * int64(dtype.Size())
		if byteLen > maxTensorBytes {
			return nil, fmt.Errorf("%w: tensor shape %v exceeds the frame limit", ErrDeserialization, wt.Shape)
		}
		buf := make([]byte, byteLen)
		if _, err := io.ReadFull(c.br, buf); err != nil {
			return nil, readError(err)
		}
		t, err := tensor.FromBytes(dtype, wt.Shape, buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
		}
		msg.Tensors = append(msg.Tensors, t)
	}
	return msg, nil
}

// readError maps every read failure to ErrConnectionClosed: once a frame
// read fails the stream position is unknown and the connection is done.
func readError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: peer closed", ErrConnectionClosed)
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
}
