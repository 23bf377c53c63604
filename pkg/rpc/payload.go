package rpc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lioia/distributed-nodeflow/pkg/tensor"
)

// SerializeToPayload splits a message into its metadata bytes and raw
// tensor buffers. The tensors are returned as-is: they never pass through
// the metadata encoder.
func SerializeToPayload(m Message) ([]byte, []*tensor.Tensor, error) {
	meta, tensors := m.State()
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc: cannot serialize metadata: %w", err)
	}
	return data, tensors, nil
}

// DeserializeFromPayload reconstructs a message in place from its metadata
// bytes and tensor buffers.
func DeserializeFromPayload(m Message, data []byte, tensors []*tensor.Tensor) error {
	dec := func(v any) error { return msgpack.Unmarshal(data, v) }
	if err := m.LoadState(dec, tensors); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return nil
}

// ExpectTensors validates the tensor count of a payload; message LoadState
// implementations use it before indexing the slice.
func ExpectTensors(tensors []*tensor.Tensor, n int) error {
	if len(tensors) != n {
		return fmt.Errorf("want %d tensors, got %d", n, len(tensors))
	}
	return nil
}
