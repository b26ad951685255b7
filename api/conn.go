// File: api/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection abstraction handed to protocol handlers. It may or may not be
// backed by Go's net.Conn; reads and writes are always non-blocking and
// surface would-block conditions as a timeout-flavored net.Error.

package api

import "time"

// Conn is the reactor-side surface of one registered connection.
type Conn interface {
	// Read reads into a preallocated buffer. A would-block condition is
	// reported as an error satisfying net.Error with Timeout() == true.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the connection. Short writes are
	// possible; the remainder is the caller's to retry after readiness.
	Write(p []byte) (n int, err error)

	// Close shuts down the connection and notifies upstream layers.
	Close() error

	// Fd returns the underlying OS-level file descriptor.
	Fd() int

	// SetTimeout overrides the per-connection idle timeout. Zero restores
	// the endpoint-wide default; a negative value disables the timeout.
	SetTimeout(d time.Duration)

	// Register merges read/write interest for this connection. Safe to
	// call from any goroutine; the mutation is applied on the owning
	// poller's loop.
	Register(read, write bool)

	// Resume requests an application-driven OPEN notification for a
	// long-poll connection.
	Resume()

	// StartSendfile arranges in-place transmission of length bytes of the
	// named file starting at pos. With keepAlive the connection re-arms
	// for read interest after completion, otherwise it is closed.
	StartSendfile(path string, pos, length int64, keepAlive bool) error

	// AwaitReadable blocks the calling goroutine until the poller signals
	// read readiness or d elapses. At most one waiter per direction may
	// be outstanding; a second is a programming error.
	AwaitReadable(d time.Duration) error

	// AwaitWritable is the write-direction counterpart of AwaitReadable.
	AwaitWritable(d time.Duration) error
}
