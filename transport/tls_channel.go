// File: transport/tls_channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-reactor/api"
)

const cipherBufSize = 32 * 1024

// SecureChannel layers a TLS engine in front of a raw socket. The contract
// matches SocketChannel: no call ever blocks on the network, and the
// handshake is advanced one step at a time from readiness notifications.
type SecureChannel struct {
	fd         int
	closed     atomic.Bool
	engine     *tlsEngine
	hsComplete bool
	peerGone   bool
	rbuf       []byte
	wbuf       []byte
}

// NewSecureChannel wraps fd with a fresh TLS engine built from cfg.
func NewSecureChannel(fd int, cfg *tls.Config) *SecureChannel {
	return &SecureChannel{
		fd:     fd,
		engine: newTLSEngine(cfg),
		rbuf:   make([]byte, cipherBufSize),
		wbuf:   make([]byte, cipherBufSize),
	}
}

// pumpIn moves available socket bytes into the engine's cipher-in buffer.
// A peer close is remembered and propagated to the engine.
func (c *SecureChannel) pumpIn() error {
	if c.peerGone {
		return nil
	}
	for {
		n, err := readFd(c.fd, c.rbuf)
		if n > 0 {
			c.engine.feed(c.rbuf[:n])
			if n < len(c.rbuf) {
				return nil
			}
			continue
		}
		switch err {
		case ErrWouldBlock, nil:
			return nil
		case io.EOF:
			c.peerGone = true
			c.engine.shutdown()
			return nil
		default:
			return err
		}
	}
}

// flushOut writes buffered cipher bytes to the socket. pending reports
// bytes left behind by a full socket buffer.
func (c *SecureChannel) flushOut() (pending bool, err error) {
	for {
		n := c.engine.copyOutbound(c.wbuf)
		if n == 0 {
			return false, nil
		}
		wn, werr := writeFd(c.fd, c.wbuf[:n])
		if wn > 0 {
			c.engine.consumeOutbound(wn)
		}
		if werr == ErrWouldBlock || (werr == nil && wn < n) {
			return true, nil
		}
		if werr != nil {
			return true, werr
		}
	}
}

func (c *SecureChannel) Handshake(readable, writable bool) (HandshakeStep, error) {
	if c.closed.Load() {
		return HandshakeWantRead, api.ErrConnClosed
	}
	if c.hsComplete {
		return HandshakeDone, nil
	}
	if readable {
		if err := c.pumpIn(); err != nil {
			return HandshakeWantRead, err
		}
	}
	if writable {
		if _, err := c.flushOut(); err != nil {
			return HandshakeWantWrite, err
		}
	}
	for {
		done, hsErr, pendingOut := c.engine.awaitProgress()
		if hsErr != nil {
			return HandshakeWantRead, fmt.Errorf("tls handshake: %w", hsErr)
		}
		if pendingOut {
			stillPending, err := c.flushOut()
			if err != nil {
				return HandshakeWantWrite, err
			}
			if stillPending {
				return HandshakeWantWrite, nil
			}
			if done {
				c.hsComplete = true
				return HandshakeDone, nil
			}
			continue
		}
		if done {
			c.hsComplete = true
			return HandshakeDone, nil
		}
		if c.peerGone {
			return HandshakeWantRead, io.ErrUnexpectedEOF
		}
		return HandshakeWantRead, nil
	}
}

func (c *SecureChannel) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	if err := c.pumpIn(); err != nil {
		return 0, err
	}
	n, err := c.engine.tls.Read(p)
	// the record layer may emit alerts or key updates while reading
	c.flushOut()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if n > 0 {
				return n, nil
			}
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (c *SecureChannel) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrConnClosed
	}
	n, err := c.engine.tls.Write(p)
	if err != nil {
		return n, err
	}
	if _, ferr := c.flushOut(); ferr != nil {
		return n, ferr
	}
	return n, nil
}

func (c *SecureChannel) HandshakeComplete() bool { return c.hsComplete }

func (c *SecureChannel) PendingWrite() bool {
	return c.engine.outboundLen() > 0
}

// Flush retries writing buffered ciphertext after a write-readiness
// notification.
func (c *SecureChannel) Flush() (bool, error) {
	if c.closed.Load() {
		return false, api.ErrConnClosed
	}
	return c.flushOut()
}

func (c *SecureChannel) Fd() int { return c.fd }

func (c *SecureChannel) Secure() bool { return true }

// Reset substitutes a fresh TLS engine and clears residual state so the
// channel can serve a new socket from the pool.
func (c *SecureChannel) Reset(fd int, cfg *tls.Config) error {
	if c.engine != nil {
		c.engine.shutdown()
	}
	c.fd = fd
	c.engine = newTLSEngine(cfg)
	c.hsComplete = false
	c.peerGone = false
	c.closed.Store(false)
	return nil
}

func (c *SecureChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	// best-effort close_notify: the alert lands in the cipher-out buffer
	// and is flushed if the socket still accepts writes
	c.engine.tls.CloseWrite()
	c.flushOutUnlocked()
	c.engine.shutdown()
	return closeFd(c.fd)
}

// flushOutUnlocked ignores the closed flag; used only from Close.
func (c *SecureChannel) flushOutUnlocked() {
	n := c.engine.copyOutbound(c.wbuf)
	if n > 0 {
		if wn, err := writeFd(c.fd, c.wbuf[:n]); err == nil && wn > 0 {
			c.engine.consumeOutbound(wn)
		}
	}
}
