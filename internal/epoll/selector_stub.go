//go:build !linux

// File: internal/epoll/selector_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub selector for unsupported platforms.

package epoll

import (
	"time"

	"github.com/momentics/hioload-reactor/api"
)

// Ready describes one readiness notification.
type Ready struct {
	Fd       int
	Readable bool
	Writable bool
	Err      bool
}

// Selector is unavailable on this platform.
type Selector struct{}

func NewSelector(maxEvents int) (*Selector, error) { return nil, api.ErrNotSupported }

func (s *Selector) Add(fd int, read, write bool) error { return api.ErrNotSupported }
func (s *Selector) Mod(fd int, read, write bool) error { return api.ErrNotSupported }
func (s *Selector) Del(fd int) error                   { return api.ErrNotSupported }
func (s *Selector) Wait(out []Ready, timeout time.Duration) ([]Ready, error) {
	return out, api.ErrNotSupported
}
func (s *Selector) Wakeup() error { return api.ErrNotSupported }
func (s *Selector) Close() error  { return nil }
