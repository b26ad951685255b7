package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRingMPMC(t *testing.T) {
	q := NewRing[int](1024)
	producers := 8
	consumers := 8
	itemsPerProducer := 10000
	totalItems := int64(producers * itemsPerProducer)

	var wg sync.WaitGroup
	var sentSum, receivedSum, receivedCount int64

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	var consumerWg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()
	consumerWg.Wait()

	if sentSum != receivedSum {
		t.Fatalf("checksum mismatch: sent %d received %d", sentSum, receivedSum)
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained, len=%d", q.Len())
	}
}

func TestRingFullAndEmpty(t *testing.T) {
	q := NewRing[int](4) // capacity rounds to 4
	for i := 0; i < q.Cap(); i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("enqueue into full ring accepted")
	}
	for i := 0; i < q.Cap(); i++ {
		v, ok := q.Dequeue()
		if !ok || v != i {
			t.Fatalf("dequeue %d: got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue from empty ring succeeded")
	}
}
