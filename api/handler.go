// File: api/handler.go
// Package api defines the protocol handler contract consumed by the reactor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reactor is protocol-agnostic: it never interprets bytes. All protocol
// semantics live behind the Handler interface.

package api

// State is the handler's verdict on a connection after one unit of work.
type State int

const (
	// StateOpen keeps the connection registered for further readiness.
	StateOpen State = iota
	// StateClosed asks the reactor to cancel the connection and recycle
	// its resources.
	StateClosed
	// StateLong marks the connection as long-poll: it stays registered
	// with whatever interest the handler arranged via Conn.Register.
	StateLong
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateLong:
		return "LONG"
	default:
		return "UNKNOWN"
	}
}

// Status qualifies a non-normal wakeup delivered through Handler.Event.
type Status int

const (
	// StatusOpen signals an application-driven wakeup of a long-poll
	// connection.
	StatusOpen Status = iota
	// StatusStop signals that the owning endpoint is shutting down.
	StatusStop
	// StatusTimeout signals the connection exceeded its idle timeout.
	StatusTimeout
	// StatusDisconnect signals the peer went away or a handshake failed.
	StatusDisconnect
	// StatusError signals an unrecoverable per-connection error.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusStop:
		return "STOP"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusDisconnect:
		return "DISCONNECT"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Handler turns connection readiness into protocol work.
type Handler interface {
	// Process is invoked for ordinary read/write readiness once any TLS
	// handshake has completed.
	Process(c Conn) State

	// Event is invoked for a status-carrying wakeup (timeout, disconnect,
	// long-poll notification, endpoint stop).
	Event(c Conn, status Status) State

	// Release lets the handler drop any per-connection state it holds.
	// Called exactly once per cancelled connection.
	Release(c Conn)

	// ReleaseCaches asks the handler to drop recycled object caches,
	// typically under resource pressure or at endpoint stop.
	ReleaseCaches()
}
