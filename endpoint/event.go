// File: endpoint/event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queued poller commands. Events are the only way any goroutine other than
// the owning poller may touch a key's registration, which keeps interest
// mutations single-threaded.

package endpoint

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/transport"
)

type eventKind int

const (
	// eventRegister registers a new channel under read interest.
	eventRegister eventKind = iota
	// eventInterest merges additional interest bits into a registered key.
	eventInterest
	// eventClose requests cancellation with a status, executed on the
	// poller goroutine.
	eventClose
)

type pollerEvent struct {
	kind     eventKind
	ch       transport.Channel
	att      *Attachment
	interest int
	status   api.Status
}

func (ev *pollerEvent) reset() {
	ev.ch = nil
	ev.att = nil
	ev.interest = 0
	ev.status = api.StatusOpen
}

// eventQueue is an unbounded MPSC command queue drained by the poller.
type eventQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newEventQueue() *eventQueue {
	return &eventQueue{q: queue.New()}
}

func (eq *eventQueue) push(ev *pollerEvent) {
	eq.mu.Lock()
	eq.q.Add(ev)
	eq.mu.Unlock()
}

func (eq *eventQueue) pop() (*pollerEvent, bool) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	if eq.q.Length() == 0 {
		return nil, false
	}
	return eq.q.Remove().(*pollerEvent), true
}

func (eq *eventQueue) len() int {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return eq.q.Length()
}
