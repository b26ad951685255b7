// File: endpoint/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded internal worker pool. Each worker parks on its own single-slot
// task channel; after a task it re-queues itself on the free stack. The
// hand-off is a plain channel exchange, so a worker never observes a task
// while one is already executing on it.

package endpoint

import (
	"sync"
	"sync/atomic"
)

type worker struct {
	pool  *workerPool
	tasks chan *processingTask
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for t := range w.tasks {
		w.pool.busy.Add(1)
		t.run()
		w.pool.busy.Add(-1)
		t.recycle()
		if w.pool.stopped.Load() {
			return
		}
		select {
		case w.pool.free <- w:
		default:
			// free stack full can only mean shutdown raced us
			return
		}
	}
}

type workerPool struct {
	max     int
	free    chan *worker
	busy    atomic.Int32
	stopped atomic.Bool

	mu      sync.Mutex
	workers []*worker
	wg      sync.WaitGroup
}

func newWorkerPool(max int) *workerPool {
	if max < 1 {
		max = 1
	}
	return &workerPool{
		max:  max,
		free: make(chan *worker, max),
	}
}

// dispatch hands t to an idle worker, spawning one lazily below the limit.
// false means no capacity: the caller must leave the triggering readiness
// intact so the event is retried, never lost.
func (wp *workerPool) dispatch(t *processingTask) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped.Load() {
		return false
	}
	select {
	case w := <-wp.free:
		w.tasks <- t
		return true
	default:
	}
	if len(wp.workers) >= wp.max {
		return false
	}
	w := &worker{pool: wp, tasks: make(chan *processingTask, 1)}
	wp.workers = append(wp.workers, w)
	wp.wg.Add(1)
	go w.run()
	w.tasks <- t
	return true
}

// Busy reports the number of workers currently executing a task.
func (wp *workerPool) Busy() int {
	return int(wp.busy.Load())
}

// Size reports the number of spawned workers.
func (wp *workerPool) Size() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.workers)
}

// stop closes every worker's task channel and waits for them to exit.
func (wp *workerPool) stop() {
	wp.mu.Lock()
	if !wp.stopped.CompareAndSwap(false, true) {
		wp.mu.Unlock()
		return
	}
	for _, w := range wp.workers {
		close(w.tasks)
	}
	wp.workers = nil
	wp.mu.Unlock()
	wp.wg.Wait()
}
