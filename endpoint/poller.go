// File: endpoint/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poller: one goroutine multiplexing many channels over a single epoll
// selector. All registration state (the fd→attachment table and every
// interest mutation) is owned by this goroutine; other goroutines talk to
// it exclusively through the event queue.

package endpoint

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/epoll"
)

const maxEventsPerWait = 512

// Poller life cycle: running → draining (close requested: queued events
// processed, final timeout pass) → stopped (selector closed, completion
// latch counted down).
const (
	pollerRunning int32 = iota
	pollerDraining
	pollerStopped
)

type Poller struct {
	id  int
	ep  *Endpoint
	sel *epoll.Selector
	log zerolog.Logger

	events *eventQueue
	conns  map[int]*Attachment

	wakeups    atomic.Int64
	closeReq   atomic.Bool
	state      atomic.Int32
	registered atomic.Int64

	nextSweep time.Time
	ready     []epoll.Ready
}

func newPoller(id int, ep *Endpoint) (*Poller, error) {
	sel, err := epoll.NewSelector(maxEventsPerWait)
	if err != nil {
		return nil, err
	}
	return &Poller{
		id:     id,
		ep:     ep,
		sel:    sel,
		log:    ep.log.With().Int("poller", id).Logger(),
		events: newEventQueue(),
		conns:  make(map[int]*Attachment),
		ready:  make([]epoll.Ready, 0, maxEventsPerWait),
	}, nil
}

// post queues an event and wakes the selector. The wakeup counter ensures
// only the first of a burst of posts pays for the eventfd write.
func (p *Poller) post(ev *pollerEvent) {
	p.events.push(ev)
	if p.wakeups.Add(1) == 1 {
		if err := p.sel.Wakeup(); err != nil {
			p.log.Warn().Err(err).Msg("selector wakeup failed")
		}
	}
}

// register queues a new channel under initial read interest.
func (p *Poller) register(att *Attachment) {
	ev := p.ep.newEvent()
	ev.kind = eventRegister
	ev.ch = att.channel
	ev.att = att
	p.post(ev)
}

// add queues an interest merge for an already-registered key.
func (p *Poller) add(att *Attachment, bits int) {
	ev := p.ep.newEvent()
	ev.kind = eventInterest
	ev.att = att
	ev.interest = bits
	p.post(ev)
}

// requestClose queues cancellation so it executes on this goroutine.
func (p *Poller) requestClose(att *Attachment, status api.Status) {
	ev := p.ep.newEvent()
	ev.kind = eventClose
	ev.att = att
	ev.status = status
	p.post(ev)
}

// shutdown asks the loop to drain and stop.
func (p *Poller) shutdown() {
	p.closeReq.Store(true)
	p.sel.Wakeup()
}

func (p *Poller) loop() {
	for !p.closeReq.Load() {
		p.iterate()
	}
	p.state.Store(pollerDraining)
	p.drainEvents()
	p.sweep(true)
	p.state.Store(pollerStopped)
	if err := p.sel.Close(); err != nil {
		p.log.Debug().Err(err).Msg("selector close")
	}
	p.ep.stopLatch.CountDown()
}

// iterate runs one loop turn. A panic from anything it reaches is contained
// so the poller keeps servicing its other connections.
func (p *Poller) iterate() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("poller iteration panic")
		}
	}()

	p.drainEvents()

	timeout := p.ep.cfg.PollTimeout
	if p.wakeups.Swap(0) > 0 {
		// a wakeup was requested meanwhile: poll without blocking
		timeout = 0
	}
	ready, err := p.sel.Wait(p.ready[:0], timeout)
	if err != nil {
		p.log.Error().Err(err).Msg("selector wait")
		time.Sleep(10 * time.Millisecond)
		return
	}
	p.ready = ready
	for _, r := range ready {
		p.processReady(r)
	}
	p.sweep(false)
}

// drainEvents applies every queued command before the next select, which
// guarantees registrations queued by any thread are visible to it.
func (p *Poller) drainEvents() {
	for {
		ev, ok := p.events.pop()
		if !ok {
			return
		}
		p.execute(ev)
		p.ep.recycleEvent(ev)
	}
}

func (p *Poller) execute(ev *pollerEvent) {
	switch ev.kind {
	case eventRegister:
		att := ev.att
		fd := ev.ch.Fd()
		att.interest = opRead
		att.touch()
		p.conns[fd] = att
		p.registered.Add(1)
		if err := p.sel.Add(fd, true, false); err != nil {
			p.log.Warn().Err(err).Int("fd", fd).Msg("register failed")
			p.cancel(att, api.StatusError)
		}
	case eventInterest:
		att := ev.att
		if att.closed.Load() || att.channel == nil {
			return
		}
		fd := att.channel.Fd()
		if p.conns[fd] != att {
			// key was cancelled (and possibly reused) since queueing
			return
		}
		att.touch()
		if ev.interest&opCallback != 0 {
			// recorded unconditionally: a resume can race the handler's
			// long-poll verdict, and delivery is gated on comet in the
			// sweep anyway
			att.cometNotify.Store(true)
		}
		bits := ev.interest & (opRead | opWrite)
		if bits != 0 && att.interest|bits != att.interest {
			att.interest |= bits
			p.mod(att)
		}
	case eventClose:
		att := ev.att
		if att.closed.Load() || att.channel == nil {
			return
		}
		if p.conns[att.channel.Fd()] != att {
			return
		}
		att.interest = 0
		p.cancel(att, ev.status)
	}
}

// mod pushes the attachment's interest set to the selector.
func (p *Poller) mod(att *Attachment) {
	fd := att.channel.Fd()
	err := p.sel.Mod(fd, att.interest&opRead != 0, att.interest&opWrite != 0)
	if err != nil {
		p.log.Debug().Err(err).Int("fd", fd).Msg("interest update failed")
		p.cancel(att, api.StatusError)
	}
}

func (p *Poller) processReady(r epoll.Ready) {
	att := p.conns[r.Fd]
	if att == nil {
		// concurrently cancelled
		return
	}
	att.touch()

	if r.Err && !r.Readable && !r.Writable {
		att.interest = 0
		p.cancel(att, api.StatusError)
		return
	}

	// latched waiters consume readiness instead of a dispatch
	dispatchRead := r.Readable
	dispatchWrite := r.Writable
	latched := 0
	if r.Readable && att.countDownRead() {
		dispatchRead = false
		latched |= opRead
	}
	if r.Writable && att.countDownWrite() {
		dispatchWrite = false
		latched |= opWrite
	}
	if latched != 0 {
		att.interest &^= latched
		p.mod(att)
		if att.closed.Load() {
			return
		}
	}
	if !dispatchRead && !dispatchWrite {
		return
	}

	t := p.ep.newTask().set(p.ep, att, dispatchRead, dispatchWrite)
	if !p.ep.dispatch(t) {
		// saturated: leave interest untouched so the next readiness
		// notification retries the dispatch
		t.recycle()
		return
	}
	bits := 0
	if dispatchRead {
		bits |= opRead
	}
	if dispatchWrite {
		bits |= opWrite
	}
	att.interest &^= bits
	if !att.closed.Load() {
		p.mod(att)
	}
}

// sweep cancels idle connections and fires pending long-poll callbacks.
// Throttled to once per SweepInterval except when draining, where it runs
// fully and tears down every remaining key.
func (p *Poller) sweep(draining bool) {
	now := time.Now()
	if !draining && now.Before(p.nextSweep) {
		return
	}
	p.nextSweep = now.Add(p.ep.cfg.SweepInterval)

	for _, att := range p.conns {
		if att.closed.Load() {
			continue
		}
		if draining {
			att.interest = 0
			p.cancel(att, api.StatusStop)
			continue
		}
		if att.comet.Load() && att.cometNotify.CompareAndSwap(true, false) {
			t := p.ep.newTask().setStatus(p.ep, att, api.StatusOpen)
			if !p.ep.dispatch(t) {
				t.recycle()
				att.cometNotify.Store(true)
			}
			continue
		}
		if att.interest&(opRead|opWrite) == 0 {
			continue
		}
		to := att.effectiveTimeout(p.ep.cfg.ConnTimeout)
		if to <= 0 {
			continue
		}
		if now.Sub(att.activity()) > to {
			// zero interest before cancellation so a completing task
			// sees no further readiness for this key
			att.interest = 0
			p.cancel(att, api.StatusTimeout)
		}
	}
}

// cancel tears one key down: comet notification, detach, selector and
// socket close, sendfile cleanup, pool returns. Every step is best-effort;
// failures are logged, never propagated, and later steps still run.
func (p *Poller) cancel(att *Attachment, status api.Status) {
	if !att.closed.CompareAndSwap(false, true) {
		return
	}
	ch := att.channel
	fd := ch.Fd()
	delete(p.conns, fd)
	p.registered.Add(-1)

	// long-poll teardown callback, except when the cancellation reason is
	// itself the long-poll notification
	if att.comet.Load() && status != api.StatusOpen {
		p.notifyHandler(att, status)
	}
	p.releaseHandler(att)

	if err := p.sel.Del(fd); err != nil {
		p.log.Debug().Err(err).Int("fd", fd).Msg("selector del")
	}
	att.closeSendfile()
	att.releaseLatches()
	if err := ch.Close(); err != nil {
		p.log.Debug().Err(err).Int("fd", fd).Msg("socket close")
	}

	if att.keptAlive.Load() {
		p.ep.keepAlive.Dec()
	}
	p.ep.connCount.Dec()
	p.ep.closeCounter.Inc()

	clean := !att.errored.Load() && status != api.StatusError
	if clean {
		p.ep.channelPool.Put(ch)
	}
	// recycle only when no task holds the run mutex; an in-flight task may
	// still read the attachment, so a contended one is dropped instead
	if att.poolable() && att.runMu.TryLock() {
		att.reset()
		att.runMu.Unlock()
		p.ep.attachmentPool.Put(att)
	}
}

func (p *Poller) notifyHandler(att *Attachment, status api.Status) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("handler event panic during cancel")
		}
	}()
	p.ep.handler.Event(&att.conn, status)
}

func (p *Poller) releaseHandler(att *Attachment) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("handler release panic")
		}
	}()
	p.ep.handler.Release(&att.conn)
}

// Size reports the number of registered connections (debug probe; safe
// off-thread).
func (p *Poller) Size() int { return int(p.registered.Load()) }
