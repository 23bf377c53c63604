package tensor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorConstruction(t *testing.T) {
	t.Run("new is zero filled", func(t *testing.T) {
		tt := New(Int64, 2, 3)
		assert.Equal(t, []int64{2, 3}, tt.Shape())
		assert.Equal(t, int64(6), tt.NumElems())
		assert.Equal(t, []int64{0, 0, 0, 0, 0, 0}, tt.Int64s())
	})

	t.Run("from slices round trip", func(t *testing.T) {
		assert.Equal(t, []int64{3, 1, 4}, FromInt64s([]int64{3, 1, 4}).Int64s())
		assert.Equal(t, []int32{-7, 0, 9}, FromInt32s([]int32{-7, 0, 9}).Int32s())
		assert.Equal(t, []float32{0.5, -1.25}, FromFloat32s([]float32{0.5, -1.25}).Float32s())
		assert.Equal(t, []float64{2.5, 1e-9}, FromFloat64s([]float64{2.5, 1e-9}).Float64s())
	})

	t.Run("from bytes validates length", func(t *testing.T) {
		_, err := FromBytes(Int64, []int64{3}, make([]byte, 8))
		require.Error(t, err)
		tt, err := FromBytes(Int32, []int64{2}, []byte{1, 0, 0, 0, 2, 0, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, []int32{1, 2}, tt.Int32s())
	})

	t.Run("arange", func(t *testing.T) {
		assert.Equal(t, []int64{0, 1, 2}, Arange(3).Int64s())
	})

	t.Run("wrong dtype accessor returns nil", func(t *testing.T) {
		assert.Nil(t, FromInt64s([]int64{1}).Float32s())
	})
}

func TestTensorReshape(t *testing.T) {
	tt := Arange(6)
	m, err := tt.Reshape(2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, m.Shape())
	assert.True(t, bytes.Equal(tt.Data(), m.Data()))

	_, err = tt.Reshape(4, 2)
	assert.Error(t, err)
}

func TestTakeAndSetRows(t *testing.T) {
	base, err := Arange(8).Reshape(4, 2)
	require.NoError(t, err)

	t.Run("take gathers first-dimension rows", func(t *testing.T) {
		got, err := base.TakeRows([]int64{3, 0})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 2}, got.Shape())
		assert.Equal(t, []int64{6, 7, 0, 1}, got.Int64s())
	})

	t.Run("take rejects out-of-range rows", func(t *testing.T) {
		_, err := base.TakeRows([]int64{4})
		assert.Error(t, err)
		_, err = base.TakeRows([]int64{-1})
		assert.Error(t, err)
	})

	t.Run("set scatters rows back", func(t *testing.T) {
		dst := New(Int64, 4, 2)
		rows, err := base.TakeRows([]int64{1, 2})
		require.NoError(t, err)
		require.NoError(t, dst.SetRows([]int64{2, 0}, rows))
		assert.Equal(t, []int64{4, 5, 0, 0, 2, 3, 0, 0}, dst.Int64s())
	})

	t.Run("set rejects mismatched value shape", func(t *testing.T) {
		dst := New(Int64, 4, 2)
		err := dst.SetRows([]int64{0}, FromInt64s([]int64{1, 2, 3}))
		assert.Error(t, err)
	})
}

func TestTensorEncodeDecode(t *testing.T) {
	orig, err := FromFloat32s([]float32{1, 2, 3, 4, 5, 6}).Reshape(3, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, orig.EncodeTo(&buf))
	got, err := DecodeFrom(&buf)
	require.NoError(t, err)
	assert.True(t, orig.Equal(got))
}

func TestTensorEqual(t *testing.T) {
	a := FromInt64s([]int64{1, 2})
	assert.True(t, a.Equal(FromInt64s([]int64{1, 2})))
	assert.False(t, a.Equal(FromInt64s([]int64{1, 3})))
	assert.False(t, a.Equal(FromInt32s([]int32{1, 2})))
	b, err := a.Reshape(2, 1)
	if err == nil {
		assert.False(t, a.Equal(b))
	}
}
