// File: transport/tls_engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS engine: crypto/tls driven over an in-memory cipher-side duplex. The
// handshake runs on its own goroutine against a blocking view of the cipher
// buffers; the reactor pumps bytes between the socket and these buffers and
// never blocks. Once the handshake settles, the engine flips the cipher-in
// side to non-blocking so record reads surface ErrWouldBlock instead of
// parking a worker.

package transport

import (
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"
)

// engineAddr is the placeholder net.Addr of the in-memory cipher duplex.
type engineAddr struct{}

func (engineAddr) Network() string { return "tls-engine" }
func (engineAddr) String() string  { return "tls-engine" }

// engineConn is the cipher-side net.Conn the TLS stack reads and writes.
// All state is guarded by mu; cond broadcasts every state transition so the
// handshake stepper can wait for quiescence.
type engineConn struct {
	mu   sync.Mutex
	cond *sync.Cond

	in  bytes.Buffer // ciphertext from the peer
	out bytes.Buffer // ciphertext for the peer

	inClosed      bool
	nonblock      bool
	readerWaiting bool

	hsDone bool
	hsErr  error
}

func newEngineConn() *engineConn {
	ec := &engineConn{}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

func (ec *engineConn) Read(p []byte) (int, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for ec.in.Len() == 0 && !ec.inClosed && !ec.nonblock {
		ec.readerWaiting = true
		ec.cond.Broadcast()
		ec.cond.Wait()
	}
	ec.readerWaiting = false
	if ec.in.Len() > 0 {
		return ec.in.Read(p)
	}
	if ec.inClosed {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (ec *engineConn) Write(p []byte) (int, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	n, err := ec.out.Write(p)
	ec.cond.Broadcast()
	return n, err
}

func (ec *engineConn) Close() error {
	ec.mu.Lock()
	ec.inClosed = true
	ec.cond.Broadcast()
	ec.mu.Unlock()
	return nil
}

func (ec *engineConn) LocalAddr() net.Addr                { return engineAddr{} }
func (ec *engineConn) RemoteAddr() net.Addr               { return engineAddr{} }
func (ec *engineConn) SetDeadline(t time.Time) error      { return nil }
func (ec *engineConn) SetReadDeadline(t time.Time) error  { return nil }
func (ec *engineConn) SetWriteDeadline(t time.Time) error { return nil }

// tlsEngine couples one tls.Conn with its cipher duplex.
type tlsEngine struct {
	ec  *engineConn
	tls *tls.Conn
}

func newTLSEngine(cfg *tls.Config) *tlsEngine {
	ec := newEngineConn()
	e := &tlsEngine{ec: ec, tls: tls.Server(ec, cfg)}
	go func() {
		err := e.tls.Handshake()
		ec.mu.Lock()
		ec.hsDone = true
		ec.hsErr = err
		ec.nonblock = true
		ec.cond.Broadcast()
		ec.mu.Unlock()
	}()
	return e
}

// feed appends ciphertext received from the socket.
func (e *tlsEngine) feed(p []byte) {
	e.ec.mu.Lock()
	e.ec.in.Write(p)
	e.ec.cond.Broadcast()
	e.ec.mu.Unlock()
}

// copyOutbound copies buffered outbound ciphertext into p without
// consuming it.
func (e *tlsEngine) copyOutbound(p []byte) int {
	e.ec.mu.Lock()
	n := copy(p, e.ec.out.Bytes())
	e.ec.mu.Unlock()
	return n
}

// consumeOutbound drops n bytes actually written to the socket.
func (e *tlsEngine) consumeOutbound(n int) {
	e.ec.mu.Lock()
	e.ec.out.Next(n)
	e.ec.mu.Unlock()
}

func (e *tlsEngine) outboundLen() int {
	e.ec.mu.Lock()
	n := e.ec.out.Len()
	e.ec.mu.Unlock()
	return n
}

// shutdown releases the handshake goroutine (if still parked) and marks
// the cipher-in side closed.
func (e *tlsEngine) shutdown() {
	e.ec.mu.Lock()
	e.ec.inClosed = true
	e.ec.nonblock = true
	e.ec.cond.Broadcast()
	e.ec.mu.Unlock()
}

// awaitProgress blocks until the handshake has either finished, produced
// outbound bytes, or parked waiting for more input. Exactly one of the
// return conditions holds on return, which makes the reactor's handshake
// stepping deterministic.
func (e *tlsEngine) awaitProgress() (done bool, hsErr error, pendingOut bool) {
	e.ec.mu.Lock()
	defer e.ec.mu.Unlock()
	for {
		if e.ec.hsDone {
			return true, e.ec.hsErr, e.ec.out.Len() > 0
		}
		if e.ec.out.Len() > 0 {
			return false, nil, true
		}
		if e.ec.readerWaiting && e.ec.in.Len() == 0 {
			return false, nil, false
		}
		e.ec.cond.Wait()
	}
}
