// File: api/errors.go
// Author: momentics <momentics@gmail.com>
//
// Common error values shared across the reactor.

package api

import "errors"

var (
	// ErrEndpointClosed is returned for operations on a stopped endpoint.
	ErrEndpointClosed = errors.New("endpoint is closed")

	// ErrEndpointState is returned when a lifecycle transition is invoked
	// from an incompatible state.
	ErrEndpointState = errors.New("invalid endpoint state")

	// ErrResourceExhausted signals a saturated executor or pool.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConnClosed is returned for operations on a cancelled connection.
	ErrConnClosed = errors.New("connection is closed")

	// ErrLatchInProgress signals an attempt to arm a readiness latch
	// while one is still outstanding. This is a defended programming
	// error in dispatch logic, not a network condition.
	ErrLatchInProgress = errors.New("readiness latch already in progress")

	// ErrSendfileInProgress signals an attempt to start a file transfer
	// while one is already in flight on the same connection.
	ErrSendfileInProgress = errors.New("sendfile already in progress")

	// ErrOperationTimeout signals a bounded wait that elapsed before the
	// poller delivered the awaited readiness.
	ErrOperationTimeout = errors.New("operation timeout")

	// ErrNotSupported marks an operation unavailable on this platform.
	ErrNotSupported = errors.New("operation not supported")
)
