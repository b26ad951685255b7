// File: transport/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel wraps one raw socket and exposes a uniform contract regardless of
// whether TLS is layered in front of it. Channels are pooled: Reset prepares
// a recycled instance for a freshly accepted socket.

package transport

import (
	"crypto/tls"
	"sync/atomic"

	"github.com/momentics/hioload-reactor/api"
)

// HandshakeStep is the outcome of one non-blocking handshake attempt.
type HandshakeStep int

const (
	// HandshakeDone means the channel is ready for protocol traffic.
	HandshakeDone HandshakeStep = iota
	// HandshakeWantRead means the handshake needs inbound bytes.
	HandshakeWantRead
	// HandshakeWantWrite means buffered handshake bytes await socket
	// writability.
	HandshakeWantWrite
)

// Channel is the reactor's socket abstraction.
type Channel interface {
	// Read performs one non-blocking read of decrypted payload bytes.
	Read(p []byte) (int, error)
	// Write performs one non-blocking write; short writes are possible
	// and, for TLS channels, ciphertext may remain buffered (see
	// PendingWrite).
	Write(p []byte) (int, error)
	// Handshake advances the TLS handshake using current readiness. A
	// plain channel completes immediately.
	Handshake(readable, writable bool) (HandshakeStep, error)
	// HandshakeComplete reports whether protocol traffic may flow. Always
	// true for a plain channel.
	HandshakeComplete() bool
	// PendingWrite reports buffered outbound bytes awaiting writability.
	PendingWrite() bool
	// Flush retries writing buffered outbound bytes. pending reports
	// bytes still stuck behind a full socket buffer.
	Flush() (pending bool, err error)
	// Fd returns the wrapped descriptor.
	Fd() int
	// Secure reports whether a TLS engine is active.
	Secure() bool
	// Reset prepares a pooled channel for a new socket, substituting a
	// fresh TLS engine and clearing residual buffers.
	Reset(fd int, cfg *tls.Config) error
	// Close releases the socket. Idempotent.
	Close() error
}

// SocketChannel is the plain (non-TLS) channel implementation.
type SocketChannel struct {
	fd     int
	closed atomic.Bool
}

// NewSocketChannel wraps an already non-blocking descriptor.
func NewSocketChannel(fd int) *SocketChannel {
	return &SocketChannel{fd: fd}
}

func (c *SocketChannel) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	return readFd(c.fd, p)
}

func (c *SocketChannel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	return writeFd(c.fd, p)
}

func (c *SocketChannel) Handshake(readable, writable bool) (HandshakeStep, error) {
	return HandshakeDone, nil
}

func (c *SocketChannel) HandshakeComplete() bool { return true }

func (c *SocketChannel) PendingWrite() bool { return false }

func (c *SocketChannel) Flush() (bool, error) { return false, nil }

func (c *SocketChannel) Fd() int { return c.fd }

func (c *SocketChannel) Secure() bool { return false }

func (c *SocketChannel) Reset(fd int, _ *tls.Config) error {
	c.fd = fd
	c.closed.Store(false)
	return nil
}

func (c *SocketChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeFd(c.fd)
}
