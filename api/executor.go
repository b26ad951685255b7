// Package api
// Author: momentics
//
// Executor contract for parallel task dispatch. Supplying an external
// executor replaces the reactor's internal bounded worker pool.

package api

// Executor abstracts parallel task execution.
type Executor interface {
	// Submit schedules task for execution. A saturated executor returns
	// ErrResourceExhausted; the reactor degrades by running the task on
	// the calling goroutine.
	Submit(task func()) error

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int
}
