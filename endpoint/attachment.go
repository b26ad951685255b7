// File: endpoint/attachment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection mutable state. An Attachment is valid only while its
// channel is registered with a poller; cancellation resets it and returns
// it to the attachment pool.

package endpoint

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/latch"
	"github.com/momentics/hioload-reactor/transport"
)

// Interest flag bits. opCallback requests a long-poll OPEN notification
// rather than OS-level readiness.
const (
	opRead     = 0x1
	opWrite    = 0x2
	opCallback = 0x100
)

// SendfileData tracks one in-flight file transmission.
type SendfileData struct {
	File      *os.File
	Pos       int64
	Remaining int64
	KeepAlive bool
}

// Attachment is the per-connection state block registered with a poller.
type Attachment struct {
	poller  *Poller
	channel transport.Channel
	conn    connection // api.Conn facade handed to the handler

	// interest is owned by the poller goroutine; never touched elsewhere.
	interest int

	lastActivity atomic.Int64 // unix nanos
	timeoutNs    atomic.Int64 // 0 = endpoint default, <0 = disabled

	errored     atomic.Bool
	comet       atomic.Bool
	cometNotify atomic.Bool
	keptAlive   atomic.Bool
	closed      atomic.Bool

	// gen increments on every bind. A task that was dispatched against an
	// earlier binding sees a mismatch and must not run.
	gen atomic.Uint64

	sfMu     sync.Mutex
	sendfile *SendfileData

	latchMu    sync.Mutex
	readLatch  *latch.Countdown
	writeLatch *latch.Countdown
	// latchTorn is set when cancellation released an outstanding latch;
	// such an attachment is never pooled because a waiter may still hold
	// a reference.
	latchTorn bool

	// runMu serializes task execution for this connection.
	runMu sync.Mutex
}

func newAttachment() *Attachment {
	a := &Attachment{}
	a.conn.att = a
	return a
}

func (a *Attachment) bind(p *Poller, ch transport.Channel) {
	a.poller = p
	a.channel = ch
	a.interest = 0
	a.gen.Add(1)
	// closed stays true from cancellation until this point, so a task
	// dispatched against the previous binding can never slip through
	a.closed.Store(false)
	a.touch()
}

func (a *Attachment) touch() {
	a.lastActivity.Store(time.Now().UnixNano())
}

func (a *Attachment) activity() time.Time {
	return time.Unix(0, a.lastActivity.Load())
}

// setTimeout overrides the idle timeout; zero restores the endpoint
// default, negative disables.
func (a *Attachment) setTimeout(d time.Duration) {
	a.timeoutNs.Store(int64(d))
}

// effectiveTimeout resolves the idle timeout against the endpoint default.
func (a *Attachment) effectiveTimeout(def time.Duration) time.Duration {
	ns := a.timeoutNs.Load()
	switch {
	case ns == 0:
		return def
	case ns < 0:
		return 0
	default:
		return time.Duration(ns)
	}
}

func (a *Attachment) setSendfile(sf *SendfileData) error {
	a.sfMu.Lock()
	defer a.sfMu.Unlock()
	if a.sendfile != nil {
		return api.ErrSendfileInProgress
	}
	a.sendfile = sf
	return nil
}

func (a *Attachment) sendfileState() *SendfileData {
	a.sfMu.Lock()
	defer a.sfMu.Unlock()
	return a.sendfile
}

func (a *Attachment) clearSendfile() {
	a.sfMu.Lock()
	a.sendfile = nil
	a.sfMu.Unlock()
}

// closeSendfile closes an in-flight transfer's file handle, if any.
func (a *Attachment) closeSendfile() {
	a.sfMu.Lock()
	sf := a.sendfile
	a.sendfile = nil
	a.sfMu.Unlock()
	if sf != nil && sf.File != nil {
		sf.File.Close()
	}
}

// startReadLatch arms the single-use read latch. Arming while one is
// outstanding is a bug in dispatch logic and fails loudly.
func (a *Attachment) startReadLatch() error {
	a.latchMu.Lock()
	defer a.latchMu.Unlock()
	if a.readLatch != nil {
		return api.ErrLatchInProgress
	}
	a.readLatch = latch.New(1)
	return nil
}

func (a *Attachment) startWriteLatch() error {
	a.latchMu.Lock()
	defer a.latchMu.Unlock()
	if a.writeLatch != nil {
		return api.ErrLatchInProgress
	}
	a.writeLatch = latch.New(1)
	return nil
}

func (a *Attachment) awaitReadLatch(d time.Duration) bool {
	a.latchMu.Lock()
	l := a.readLatch
	a.latchMu.Unlock()
	if l == nil {
		return true
	}
	ok := l.Await(d)
	a.latchMu.Lock()
	if a.readLatch == l {
		a.readLatch = nil
	}
	a.latchMu.Unlock()
	return ok
}

func (a *Attachment) awaitWriteLatch(d time.Duration) bool {
	a.latchMu.Lock()
	l := a.writeLatch
	a.latchMu.Unlock()
	if l == nil {
		return true
	}
	ok := l.Await(d)
	a.latchMu.Lock()
	if a.writeLatch == l {
		a.writeLatch = nil
	}
	a.latchMu.Unlock()
	return ok
}

// countDownRead signals read readiness to a latched waiter. Returns false
// when no latch is armed.
func (a *Attachment) countDownRead() bool {
	a.latchMu.Lock()
	l := a.readLatch
	a.latchMu.Unlock()
	if l == nil {
		return false
	}
	l.CountDown()
	return true
}

func (a *Attachment) countDownWrite() bool {
	a.latchMu.Lock()
	l := a.writeLatch
	a.latchMu.Unlock()
	if l == nil {
		return false
	}
	l.CountDown()
	return true
}

// releaseLatches unblocks any waiters during cancellation.
func (a *Attachment) releaseLatches() {
	a.latchMu.Lock()
	if a.readLatch != nil {
		a.readLatch.CountDown()
		a.readLatch = nil
		a.latchTorn = true
	}
	if a.writeLatch != nil {
		a.writeLatch.CountDown()
		a.writeLatch = nil
		a.latchTorn = true
	}
	a.latchMu.Unlock()
}

// poolable reports whether the attachment may be recycled.
func (a *Attachment) poolable() bool {
	a.latchMu.Lock()
	defer a.latchMu.Unlock()
	return !a.latchTorn && a.readLatch == nil && a.writeLatch == nil
}

// reset restores pool-ready state. closed deliberately stays true: only
// bind clears it, once the attachment carries a live channel again.
func (a *Attachment) reset() {
	a.poller = nil
	a.channel = nil
	a.interest = 0
	a.lastActivity.Store(0)
	a.timeoutNs.Store(0)
	a.errored.Store(false)
	a.comet.Store(false)
	a.cometNotify.Store(false)
	a.keptAlive.Store(false)
	a.sfMu.Lock()
	a.sendfile = nil
	a.sfMu.Unlock()
	a.latchMu.Lock()
	a.readLatch = nil
	a.writeLatch = nil
	a.latchTorn = false
	a.latchMu.Unlock()
}
