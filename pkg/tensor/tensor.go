// Package tensor holds the dense numeric buffers exchanged over RPC and
// stored in feature frames. A Tensor is an opaque payload to this module:
// dtype, shape and raw bytes, with just enough accessors to slice rows and
// convert to native slices. No math lives here.
package tensor

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

type Dtype uint8

const (
	Int32 Dtype = iota + 1
	Int64
	Float32
	Float64
)

// Size returns the number of bytes per element.
func (d Dtype) Size() int {
	switch d {
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

func (d Dtype) String() string {
	switch d {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Tensor is an immutable-shape dense buffer. Element bytes are stored
// little-endian in row-major order.
type Tensor struct {
	dtype Dtype
	shape []int64
	data  []byte
}

// New creates a zero-filled tensor.
func New(dtype Dtype, shape ...int64) *Tensor {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
		data:  make([]byte, int(n)*dtype.Size()),
	}
}

// FromBytes wraps raw element bytes without copying. The caller must not
// modify data afterwards. Fails if len(data) does not match dtype and shape.
func FromBytes(dtype Dtype, shape []int64, data []byte) (*Tensor, error) {
	n := int64(1)
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("tensor: negative dimension %d", s)
		}
		n *= s
	}
	if int64(len(data)) != n*int64(dtype.Size()) {
		return nil, fmt.Errorf("tensor: %d bytes do not fit %s%v", len(data), dtype, shape)
	}
	return &Tensor{dtype: dtype, shape: append([]int64(nil), shape...), data: data}, nil
}

func FromInt64s(v []int64) *Tensor {
	t := New(Int64, int64(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint64(t.data[i*8:], uint64(x))
	}
	return t
}

func FromInt32s(v []int32) *Tensor {
	t := New(Int32, int64(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint32(t.data[i*4:], uint32(x))
	}
	return t
}

func FromFloat32s(v []float32) *Tensor {
	t := New(Float32, int64(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(x))
	}
	return t
}

func FromFloat64s(v []float64) *Tensor {
	t := New(Float64, int64(len(v)))
	for i, x := range v {
		binary.LittleEndian.PutUint64(t.data[i*8:], math.Float64bits(x))
	}
	return t
}

// Arange returns a 1-D int64 tensor [0, n).
func Arange(n int64) *Tensor {
	t := New(Int64, n)
	for i := int64(0); i < n; i++ {
		binary.LittleEndian.PutUint64(t.data[i*8:], uint64(i))
	}
	return t
}

func (t *Tensor) Dtype() Dtype   { return t.dtype }
func (t *Tensor) Shape() []int64 { return append([]int64(nil), t.shape...) }
func (t *Tensor) Data() []byte   { return t.data }
func (t *Tensor) NumDims() int   { return len(t.shape) }

// NumElems returns the total element count.
func (t *Tensor) NumElems() int64 {
	n := int64(1)
	for _, s := range t.shape {
		n *= s
	}
	return n
}

// Reshape returns a view with a new shape over the same bytes.
func (t *Tensor) Reshape(shape ...int64) (*Tensor, error) {
	return FromBytes(t.dtype, shape, t.data)
}

func (t *Tensor) Int64s() []int64 {
	if t.dtype != Int64 {
		return nil
	}
	out := make([]int64, t.NumElems())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.data[i*8:]))
	}
	return out
}

func (t *Tensor) Int32s() []int32 {
	if t.dtype != Int32 {
		return nil
	}
	out := make([]int32, t.NumElems())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

func (t *Tensor) Float32s() []float32 {
	if t.dtype != Float32 {
		return nil
	}
	out := make([]float32, t.NumElems())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

func (t *Tensor) Float64s() []float64 {
	if t.dtype != Float64 {
		return nil
	}
	out := make([]float64, t.NumElems())
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.data[i*8:]))
	}
	return out
}

// rowSize returns the byte length of one row along the first dimension.
func (t *Tensor) rowSize() int64 {
	n := int64(t.dtype.Size())
	for _, s := range t.shape[1:] {
		n *= s
	}
	return n
}

// TakeRows gathers rows along the first dimension into a new tensor.
func (t *Tensor) TakeRows(rows []int64) (*Tensor, error) {
	if len(t.shape) == 0 {
		return nil, fmt.Errorf("tensor: cannot take rows of a scalar")
	}
	rs := t.rowSize()
	shape := append([]int64{int64(len(rows))}, t.shape[1:]...)
	out := New(t.dtype, shape...)
	for i, r := range rows {
		if r < 0 || r >= t.shape[0] {
			return nil, fmt.Errorf("tensor: row %d out of range [0, %d)", r, t.shape[0])
		}
		copy(out.data[int64(i)*rs:], t.data[r*rs:(r+1)*rs])
	}
	return out, nil
}

// SetRows scatters src rows into rows along the first dimension.
func (t *Tensor) SetRows(rows []int64, src *Tensor) error {
	if len(t.shape) == 0 || len(src.shape) == 0 {
		return fmt.Errorf("tensor: cannot set rows of a scalar")
	}
	if src.dtype != t.dtype {
		return fmt.Errorf("tensor: dtype mismatch %s vs %s", src.dtype, t.dtype)
	}
	if src.shape[0] != int64(len(rows)) {
		return fmt.Errorf("tensor: %d rows for %d indices", src.shape[0], len(rows))
	}
	rs := t.rowSize()
	if src.rowSize() != rs {
		return fmt.Errorf("tensor: row size mismatch")
	}
	for i, r := range rows {
		if r < 0 || r >= t.shape[0] {
			return fmt.Errorf("tensor: row %d out of range [0, %d)", r, t.shape[0])
		}
		copy(t.data[r*rs:(r+1)*rs], src.data[int64(i)*rs:int64(i+1)*rs])
	}
	return nil
}

// Equal reports field-wise equality (dtype, shape and bytes).
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.dtype != o.dtype || len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	if len(t.data) != len(o.data) {
		return false
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// EncodeTo writes the tensor in the on-disk format: dtype, ndim, shape,
// then the raw element bytes.
func (t *Tensor) EncodeTo(w io.Writer) error {
	hdr := make([]byte, 2+8*len(t.shape))
	hdr[0] = byte(t.dtype)
	hdr[1] = byte(len(t.shape))
	for i, s := range t.shape {
		binary.LittleEndian.PutUint64(hdr[2+8*i:], uint64(s))
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(t.data)
	return err
}

// DecodeFrom reads a tensor written by EncodeTo.
func DecodeFrom(r io.Reader) (*Tensor, error) {
	var pre [2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, err
	}
	dtype := Dtype(pre[0])
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("tensor: unknown dtype %d", pre[0])
	}
	ndim := int(pre[1])
	shape := make([]int64, ndim)
	raw := make([]byte, 8*ndim)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	n := int64(1)
	for i := range shape {
		shape[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		if shape[i] < 0 {
			return nil, fmt.Errorf("tensor: negative dimension %d", shape[i])
		}
		n *= shape[i]
	}
	data := make([]byte, n*int64(dtype.Size()))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return &Tensor{dtype: dtype, shape: shape, data: data}, nil
}
