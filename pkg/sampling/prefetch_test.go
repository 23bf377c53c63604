package sampling

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingSource(n int) func() (func() (int, error), error) {
	return func() (func() (int, error), error) {
		i := 0
		return func() (int, error) {
			if i >= n {
				return 0, ErrExhausted
			}
			i++
			return i, nil
		}, nil
	}
}

func TestPrefetcher(t *testing.T) {
	t.Run("delivers the source sequence in order", func(t *testing.T) {
		p, err := NewPrefetcher(countingSource(5), 2)
		require.NoError(t, err)
		defer p.Close()

		for want := 1; want <= 5; want++ {
			got, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		_, err = p.Next()
		assert.True(t, errors.Is(err, ErrExhausted))
		// Exhaustion is sticky.
		_, err = p.Next()
		assert.True(t, errors.Is(err, ErrExhausted))
	})

	t.Run("rejects zero prefetch depth", func(t *testing.T) {
		_, err := NewPrefetcher(countingSource(1), 0)
		assert.True(t, errors.Is(err, ErrConfig))
	})

	t.Run("init failure surfaces from the constructor", func(t *testing.T) {
		boom := errors.New("source failed to start")
		_, err := NewPrefetcher(func() (func() (int, error), error) {
			return nil, boom
		}, 1)
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("worker error reaches the consumer after buffered batches", func(t *testing.T) {
		boom := errors.New("batch 3 failed")
		p, err := NewPrefetcher(func() (func() (int, error), error) {
			i := 0
			return func() (int, error) {
				i++
				if i == 3 {
					return 0, boom
				}
				return i, nil
			}, nil
		}, 4)
		require.NoError(t, err)
		defer p.Close()

		for want := 1; want <= 2; want++ {
			got, err := p.Next()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		_, err = p.Next()
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("close stops a blocked worker", func(t *testing.T) {
		var produced atomic.Int32
		p, err := NewPrefetcher(func() (func() (int, error), error) {
			return func() (int, error) {
				return int(produced.Add(1)), nil
			}, nil
		}, 1)
		require.NoError(t, err)

		_, err = p.Next()
		require.NoError(t, err)
		p.Close()
		p.Close() // idempotent

		// The worker fills at most the queue capacity plus the batch it
		// was blocked on.
		time.Sleep(50 * time.Millisecond)
		after := produced.Load()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, after, produced.Load())
	})

	t.Run("prefetch depth bounds production ahead of consumption", func(t *testing.T) {
		var produced atomic.Int32
		p, err := NewPrefetcher(func() (func() (int, error), error) {
			return func() (int, error) {
				return int(produced.Add(1)), nil
			}, nil
		}, 2)
		require.NoError(t, err)
		defer p.Close()

		time.Sleep(100 * time.Millisecond)
		// Queue of 2 plus one batch blocked on the send.
		assert.LessOrEqual(t, produced.Load(), int32(3))
	})
}
