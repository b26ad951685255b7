package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestBoundedRoundTrip(t *testing.T) {
	p := NewBounded[int](8)
	if _, ok := p.Get(); ok {
		t.Fatal("empty pool returned an object")
	}
	if !p.Put(42) {
		t.Fatal("put into empty pool rejected")
	}
	v, ok := p.Get()
	if !ok || v != 42 {
		t.Fatalf("expected 42, got %d ok=%v", v, ok)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty pool, len=%d", p.Len())
	}
}

func TestBoundedCapacityEnforced(t *testing.T) {
	p := NewBounded[int](4)
	accepted := 0
	for i := 0; i < 16; i++ {
		if p.Put(i) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Fatalf("expected 4 accepted puts, got %d", accepted)
	}
	if p.Len() != 4 {
		t.Fatalf("expected len 4, got %d", p.Len())
	}
}

// The bound is best-effort: under concurrent offers the pool may transiently
// hold capacity+1 objects, never more.
func TestBoundedConcurrentBound(t *testing.T) {
	const capacity = 32
	const workers = 8
	p := NewBounded[int](capacity)

	var wg sync.WaitGroup
	var maxSeen atomic.Int64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				p.Put(seed*10000 + i)
				if n := int64(p.Len()); n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				if i%3 == 0 {
					p.Get()
				}
				if i%64 == 0 {
					runtime.Gosched()
				}
			}
		}(w)
	}
	wg.Wait()

	if maxSeen.Load() > capacity+workers {
		t.Fatalf("pool grew far past its bound: %d > %d", maxSeen.Load(), capacity+workers)
	}
	if p.Len() > capacity+1 {
		t.Fatalf("settled pool exceeds bound: %d", p.Len())
	}
}

func TestBoundedClear(t *testing.T) {
	p := NewBounded[*int](8)
	destroyed := 0
	for i := 0; i < 5; i++ {
		v := i
		p.Put(&v)
	}
	p.Clear(func(*int) { destroyed++ })
	if destroyed != 5 {
		t.Fatalf("expected 5 destroyed, got %d", destroyed)
	}
	if p.Len() != 0 {
		t.Fatalf("expected empty pool after Clear, len=%d", p.Len())
	}
	// pool must stay usable after Clear
	if !p.Put(new(int)) {
		t.Fatal("put after Clear rejected")
	}
}
