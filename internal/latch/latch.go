// File: internal/latch/latch.go
// Package latch implements a single-use countdown gate.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Countdown releases all waiters once its count reaches zero. It is
// single-use: a drained latch is discarded, never re-armed.

package latch

import (
	"sync"
	"time"
)

// Countdown is a single-use countdown gate.
type Countdown struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

// New creates a latch that opens after n calls to CountDown.
func New(n int) *Countdown {
	if n < 1 {
		n = 1
	}
	return &Countdown{count: n, done: make(chan struct{})}
}

// CountDown decrements the latch. The call that reaches zero releases all
// waiters; further calls are no-ops.
func (l *Countdown) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

// Count returns the remaining count.
func (l *Countdown) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Await blocks until the latch opens or d elapses. It returns true if the
// latch reached zero. A non-positive d waits indefinitely.
func (l *Countdown) Await(d time.Duration) bool {
	if d <= 0 {
		<-l.done
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-l.done:
		return true
	case <-t.C:
		return false
	}
}
