// File: pool/bounded.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync/atomic"

// Bounded is a capacity-limited object cache. Objects that do not fit are
// rejected so the caller can destroy them instead of pooling them. The size
// accounting is an atomic counter separate from the ring, so the bound is
// best-effort: concurrent offers may transiently exceed it by one.
type Bounded[T any] struct {
	ring *Ring[T]
	size atomic.Int64
	cap  int64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBounded creates a pool holding at most capacity objects.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		ring: NewRing[T](capacity),
		cap:  int64(capacity),
	}
}

// Get pops a cached object. ok is false when the pool is empty and the
// caller must allocate.
func (p *Bounded[T]) Get() (item T, ok bool) {
	item, ok = p.ring.Dequeue()
	if ok {
		p.size.Add(-1)
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
	}
	return item, ok
}

// Put offers an object back to the pool. It returns false when the pool is
// at capacity; the object is then the caller's to destroy.
func (p *Bounded[T]) Put(item T) bool {
	if p.size.Load() >= p.cap {
		return false
	}
	if !p.ring.Enqueue(item) {
		return false
	}
	p.size.Add(1)
	return true
}

// Clear drains the pool, invoking destroy (may be nil) on every cached
// object. Used under resource pressure and at endpoint stop.
func (p *Bounded[T]) Clear(destroy func(T)) {
	for {
		item, ok := p.ring.Dequeue()
		if !ok {
			return
		}
		p.size.Add(-1)
		if destroy != nil {
			destroy(item)
		}
	}
}

// Len returns the approximate number of cached objects.
func (p *Bounded[T]) Len() int {
	n := p.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap returns the configured capacity bound.
func (p *Bounded[T]) Cap() int { return int(p.cap) }

// Stats reports cache hits and misses since creation.
func (p *Bounded[T]) Stats() (hits, misses uint64) {
	return p.hits.Load(), p.misses.Load()
}
