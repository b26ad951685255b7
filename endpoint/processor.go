// File: endpoint/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One unit of work for a ready or status-carrying connection: TLS handshake
// gate, sendfile step, then the protocol handler. Execution is serialized
// per connection through the attachment's run mutex.

package endpoint

import (
	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/transport"
)

// sendfileChunk bounds one transfer step so a huge file cannot starve the
// worker that carries it.
const sendfileChunk = 256 * 1024

type processingTask struct {
	ep        *Endpoint
	att       *Attachment
	gen       uint64 // attachment binding this task was dispatched against
	status    api.Status
	hasStatus bool
	readable  bool
	writable  bool
}

func (t *processingTask) set(ep *Endpoint, att *Attachment, readable, writable bool) *processingTask {
	t.ep = ep
	t.att = att
	t.gen = att.gen.Load()
	t.hasStatus = false
	t.status = api.StatusOpen
	t.readable = readable
	t.writable = writable
	return t
}

func (t *processingTask) setStatus(ep *Endpoint, att *Attachment, status api.Status) *processingTask {
	t.ep = ep
	t.att = att
	t.gen = att.gen.Load()
	t.hasStatus = true
	t.status = status
	t.readable = false
	t.writable = false
	return t
}

func (t *processingTask) recycle() {
	ep := t.ep
	t.ep = nil
	t.att = nil
	t.gen = 0
	t.hasStatus = false
	t.readable = false
	t.writable = false
	if ep != nil {
		ep.taskPool.Put(t)
	}
}

// runAndRecycle is the task shape submitted to an external executor.
func (t *processingTask) runAndRecycle() {
	t.run()
	t.recycle()
}

// run executes the task. Panics from the handler are contained so a buggy
// protocol implementation cannot take a worker down with it.
func (t *processingTask) run() {
	att := t.att
	if att == nil {
		return
	}
	att.runMu.Lock()
	defer att.runMu.Unlock()
	if att.closed.Load() || t.gen != att.gen.Load() {
		// the binding this task was dispatched for is gone
		return
	}
	ch := att.channel
	if ch == nil {
		return
	}
	// fd is captured up front so the recovery path never touches state a
	// concurrent cancellation may have already torn down
	fd := ch.Fd()
	defer func() {
		if r := recover(); r != nil {
			t.ep.log.Error().Interface("panic", r).Int("fd", fd).
				Msg("handler panic, dropping connection")
			att.errored.Store(true)
			att.requestClose(api.StatusError)
		}
	}()

	// TLS gate: nothing reaches the handler before the handshake settles.
	if t.hasStatus && t.status != api.StatusOpen {
		if !ch.HandshakeComplete() {
			att.requestClose(t.status)
			return
		}
	} else {
		step, err := ch.Handshake(t.readable, t.writable)
		if err != nil {
			t.ep.log.Debug().Err(err).Int("fd", ch.Fd()).Msg("handshake failed")
			att.errored.Store(true)
			att.requestClose(api.StatusDisconnect)
			return
		}
		switch step {
		case transport.HandshakeWantRead:
			att.requestInterest(opRead)
			return
		case transport.HandshakeWantWrite:
			att.requestInterest(opWrite)
			return
		}
	}

	// Writability first drains any ciphertext stuck behind a full socket.
	if t.writable && ch.PendingWrite() {
		if _, err := ch.Flush(); err != nil {
			att.errored.Store(true)
			att.requestClose(api.StatusError)
			return
		}
	}

	// In-flight file transfer takes precedence over the handler.
	if sf := att.sendfileState(); sf != nil && !t.hasStatus {
		if !t.sendfileStep(sf) {
			return
		}
		// transfer finished; the completion path already re-armed or
		// closed the connection
		return
	}

	var state api.State
	if t.hasStatus {
		state = t.ep.handler.Event(&att.conn, t.status)
	} else {
		state = t.ep.handler.Process(&att.conn)
	}

	switch state {
	case api.StateClosed:
		att.requestClose(api.StatusStop)
	case api.StateOpen:
		if att.keptAlive.CompareAndSwap(false, true) {
			t.ep.keepAlive.Inc()
		}
		att.requestInterest(opRead)
	case api.StateLong:
		att.comet.Store(true)
		// interest stays whatever the handler arranged via Register
	}
}

// sendfileStep performs one chunk of the in-flight transfer. It returns
// false while the transfer still owns the connection (more chunks pending
// or the connection was cancelled).
func (t *processingTask) sendfileStep(sf *SendfileData) bool {
	att := t.att
	ch := att.channel

	n := sf.Remaining
	if n > sendfileChunk {
		n = sendfileChunk
	}

	var sent int
	var err error
	if ch.Secure() {
		// TLS path: bytes go through the engine, no zero-copy
		buf := make([]byte, n)
		var rn int
		rn, err = sf.File.ReadAt(buf, sf.Pos)
		if rn > 0 {
			sent, err = ch.Write(buf[:rn])
			sf.Pos += int64(sent)
			sf.Remaining -= int64(sent)
		}
	} else {
		sent, err = transport.Sendfile(ch.Fd(), int(sf.File.Fd()), &sf.Pos, int(n))
		sf.Remaining -= int64(sent)
	}
	if sent > 0 {
		att.touch()
	}

	if err != nil && !transport.IsWouldBlock(err) {
		t.ep.log.Debug().Err(err).Int("fd", ch.Fd()).Msg("sendfile failed")
		att.errored.Store(true)
		att.requestClose(api.StatusError)
		return false
	}
	if sent == 0 && err == nil && sf.Remaining > 0 {
		// file exhausted before the declared length
		att.errored.Store(true)
		att.requestClose(api.StatusError)
		return false
	}

	if sf.Remaining <= 0 {
		att.closeSendfile()
		if ch.PendingWrite() {
			att.requestInterest(opWrite)
		}
		if sf.KeepAlive {
			att.requestInterest(opRead)
		} else {
			att.requestClose(api.StatusStop)
		}
		return true
	}

	// partial progress or socket buffer full: wait for writability
	att.requestInterest(opWrite)
	return false
}
