package graph

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/lioia/distributed-nodeflow/pkg/tensor"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Frame is the columnar feature store: feature name -> tensor whose first
// dimension indexes rows (one row per node or edge). It doubles as the
// server-side key-value resource, so access is synchronized here.
type Frame struct {
	mu      sync.RWMutex
	columns map[string]*tensor.Tensor
	numRows int64
}

// NewFrame creates an empty frame for numRows rows.
func NewFrame(numRows int64) *Frame {
	return &Frame{columns: make(map[string]*tensor.Tensor), numRows: numRows}
}

func (f *Frame) NumRows() int64 { return f.numRows }

// Keys returns the column names in sorted order.
func (f *Frame) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := maps.Keys(f.columns)
	slices.Sort(keys)
	return keys
}

// AddColumn installs a full column. The tensor's first dimension must match
// the frame's row count.
func (f *Frame) AddColumn(key string, t *tensor.Tensor) error {
	if t.NumDims() == 0 || t.Shape()[0] != f.numRows {
		return fmt.Errorf("frame: column %q does not have %d rows", key, f.numRows)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns[key] = t
	return nil
}

// Column returns the whole column tensor.
func (f *Frame) Column(key string) (*tensor.Tensor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.columns[key]
	if !ok {
		return nil, fmt.Errorf("frame: unknown column %q", key)
	}
	return t, nil
}

// Get gathers the given rows of a column into a new tensor.
func (f *Frame) Get(key string, rows []int64) (*tensor.Tensor, error) {
	t, err := f.Column(key)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return t.TakeRows(rows)
}

// Set scatters rows of a column in place.
func (f *Frame) Set(key string, rows []int64, value *tensor.Tensor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.columns[key]
	if !ok {
		return fmt.Errorf("frame: unknown column %q", key)
	}
	return t.SetRows(rows, value)
}

// EncodeTo writes the frame as: row count, column count, then per column the
// name and the tensor.
func (f *Frame) EncodeTo(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := maps.Keys(f.columns)
	slices.Sort(keys)
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint64(hdr, uint64(f.numRows))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(len(keys)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, k := range keys {
		name := []byte(k)
		var nl [4]byte
		binary.LittleEndian.PutUint32(nl[:], uint32(len(name)))
		if _, err := w.Write(nl[:]); err != nil {
			return err
		}
		if _, err := w.Write(name); err != nil {
			return err
		}
		if err := f.columns[k].EncodeTo(w); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrameFrom reads a frame written by EncodeTo.
func DecodeFrameFrom(r io.Reader) (*Frame, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	f := NewFrame(int64(binary.LittleEndian.Uint64(hdr)))
	numCols := binary.LittleEndian.Uint64(hdr[8:])
	for i := uint64(0); i < numCols; i++ {
		var nl [4]byte
		if _, err := io.ReadFull(r, nl[:]); err != nil {
			return nil, err
		}
		name := make([]byte, binary.LittleEndian.Uint32(nl[:]))
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		t, err := tensor.DecodeFrom(r)
		if err != nil {
			return nil, err
		}
		if err := f.AddColumn(string(name), t); err != nil {
			return nil, err
		}
	}
	return f, nil
}
