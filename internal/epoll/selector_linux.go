//go:build linux

// File: internal/epoll/selector_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll implementation of the readiness selector. Registrations are
// level-triggered: the poller masks interest bits while a connection is
// being processed, so no event storms occur.

package epoll

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Ready describes one readiness notification.
type Ready struct {
	Fd       int
	Readable bool
	Writable bool
	Err      bool
}

// Selector owns one epoll instance plus an eventfd used for programmatic
// early wakeup of a blocked Wait.
type Selector struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	wakbuf [8]byte
}

// NewSelector creates a selector able to report up to maxEvents per Wait.
func NewSelector(maxEvents int) (*Selector, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &Selector{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents+1),
	}, nil
}

func epollMask(read, write bool) uint32 {
	var m uint32 = unix.EPOLLRDHUP
	if read {
		m |= unix.EPOLLIN
	}
	if write {
		m |= unix.EPOLLOUT
	}
	return m
}

// Add registers fd with the given interest.
func (s *Selector) Add(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: epollMask(read, write), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Mod replaces fd's interest set.
func (s *Selector) Mod(fd int, read, write bool) error {
	ev := unix.EpollEvent{Events: epollMask(read, write), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Del removes fd from the interest list.
func (s *Selector) Del(fd int) error {
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait blocks up to timeout (zero polls, negative blocks indefinitely) and
// appends readiness notifications into out. EINTR is not an error; it
// reports zero events.
func (s *Selector) Wait(out []Ready, timeout time.Duration) ([]Ready, error) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.EpollWait(s.epfd, s.events, ms)
	if err != nil {
		if err == unix.EINTR {
			return out, nil
		}
		return out, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := s.events[i]
		if int(ev.Fd) == s.wakefd {
			// drain the eventfd counter
			unix.Read(s.wakefd, s.wakbuf[:])
			continue
		}
		out = append(out, Ready{
			Fd:       int(ev.Fd),
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Err:      ev.Events&unix.EPOLLERR != 0,
		})
	}
	return out, nil
}

// Wakeup interrupts a concurrent Wait.
func (s *Selector) Wakeup() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, err := unix.Write(s.wakefd, one[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

// Close releases the epoll and eventfd descriptors.
func (s *Selector) Close() error {
	unix.Close(s.wakefd)
	return unix.Close(s.epfd)
}
