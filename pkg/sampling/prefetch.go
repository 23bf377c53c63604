package sampling

import (
	"fmt"
	"sync"
)

// result is the tagged value flowing through the prefetch channel: a batch,
// a propagated error, or the end of the sequence.
type result[T any] struct {
	val T
	err error
}

// Prefetcher overlaps batch production with consumption: a background
// worker pulls from the source iterator and pushes completed batches (or
// the error that stopped it) onto a bounded channel; the consumer blocks on
// Next. Construction performs a startup handshake so a source that fails
// immediately surfaces its error from NewPrefetcher, not after a delay.
type Prefetcher[T any] struct {
	ch        chan result[T]
	stop      chan struct{}
	closeOnce sync.Once
}

// NewPrefetcher starts the prefetch worker. init builds the source iterator
// on the worker goroutine and its error, if any, is returned here;
// numPrefetch is the queue capacity and must be at least 1.
func NewPrefetcher[T any](init func() (func() (T, error), error), numPrefetch int) (*Prefetcher[T], error) {
	if numPrefetch < 1 {
		return nil, fmt.Errorf("%w: prefetch depth %d, need at least 1", ErrConfig, numPrefetch)
	}
	p := &Prefetcher[T]{
		ch:   make(chan result[T], numPrefetch),
		stop: make(chan struct{}),
	}
	started := make(chan error, 1)
	go p.run(init, started)
	if err := <-started; err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Prefetcher[T]) run(init func() (func() (T, error), error), started chan<- error) {
	next, err := init()
	started <- err
	if err != nil {
		return
	}
	defer close(p.ch)
	for {
		v, err := next()
		select {
		case p.ch <- result[T]{val: v, err: err}:
		case <-p.stop:
			return
		}
		if err != nil {
			// ErrExhausted and real failures both end the worker; the
			// consumer sees them in order after the buffered batches.
			return
		}
	}
}

// Next blocks for the next batch. It returns ErrExhausted at the normal end
// of the sequence and re-raises any worker error in the consumer's
// goroutine, preserving the original failure.
func (p *Prefetcher[T]) Next() (T, error) {
	r, ok := <-p.ch
	if !ok {
		var zero T
		return zero, ErrExhausted
	}
	return r.val, r.err
}

// Close signals the worker to stop and never blocks. Safe to call multiple
// times and concurrently with Next.
func (p *Prefetcher[T]) Close() {
	p.closeOnce.Do(func() { close(p.stop) })
}
