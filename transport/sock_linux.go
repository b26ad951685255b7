//go:build linux

// File: transport/sock_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw socket plumbing: listening socket setup, timed accept, per-socket
// options, and non-blocking read/write/sendfile wrappers.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// SocketOptions are the per-connection TCP options applied after accept.
type SocketOptions struct {
	NoDelay bool
	// Linger in seconds; negative leaves the kernel default.
	Linger  int
	RecvBuf int
	SendBuf int
}

// Listen creates a non-blocking listening socket bound to addr.
func Listen(addr string, backlog int) (int, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("resolve %q: %w", addr, err)
	}
	family := unix.AF_INET
	if ta.IP.To4() == nil && ta.IP.To16() != nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt reuseaddr: %w", err)
	}
	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		if ip4 := ta.IP.To4(); ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %q: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %q: %w", addr, err)
	}
	return fd, nil
}

// ListenAddr reports the local address of a listening socket; useful when
// binding to port 0.
func ListenAddr(fd int) (string, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", fmt.Errorf("getsockname: %w", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(a.Addr[:]).String(), a.Port), nil
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.Port), nil
	default:
		return "", fmt.Errorf("unexpected sockaddr %T", sa)
	}
}

// Accept waits up to timeout for an inbound connection and accepts it in
// non-blocking close-on-exec mode. ErrWouldBlock means the timeout elapsed,
// which is the normal idle case for an acceptor loop.
func Accept(lfd int, timeout time.Duration) (int, error) {
	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = -1
	}
	pfds := []unix.PollFd{{Fd: int32(lfd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if err == unix.EINTR {
			return -1, ErrWouldBlock
		}
		return -1, fmt.Errorf("poll accept: %w", err)
	}
	if n == 0 {
		return -1, ErrWouldBlock
	}
	fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.ECONNABORTED || err == unix.EINTR {
			return -1, ErrWouldBlock
		}
		return -1, fmt.Errorf("accept: %w", err)
	}
	return fd, nil
}

// IsResourceExhausted reports whether err is a descriptor-table exhaustion
// error (EMFILE/ENFILE) from accept.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}

// ApplyOptions sets TCP options on an accepted socket. Failures are
// reported but callers treat them as non-fatal.
func ApplyOptions(fd int, o SocketOptions) error {
	if o.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("setsockopt nodelay: %w", err)
		}
	}
	if o.Linger >= 0 {
		l := unix.Linger{Onoff: 1, Linger: int32(o.Linger)}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			return fmt.Errorf("setsockopt linger: %w", err)
		}
	}
	if o.RecvBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, o.RecvBuf); err != nil {
			return fmt.Errorf("setsockopt rcvbuf: %w", err)
		}
	}
	if o.SendBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, o.SendBuf); err != nil {
			return fmt.Errorf("setsockopt sndbuf: %w", err)
		}
	}
	return nil
}

func readFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, err
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func writeFd(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func closeFd(fd int) error {
	return unix.Close(fd)
}

// CloseFd closes a raw descriptor that was never wrapped in a channel.
func CloseFd(fd int) error { return closeFd(fd) }

// Sendfile transfers up to count bytes from src at *off to the dst socket
// without copying through user space. It advances *off and returns the
// number of bytes sent; ErrWouldBlock means the socket buffer is full.
func Sendfile(dst, src int, off *int64, count int) (int, error) {
	for {
		n, err := unix.Sendfile(dst, src, off, count)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if n > 0 {
				return n, nil
			}
			return 0, ErrWouldBlock
		}
		if err != nil {
			return n, err
		}
		return n, nil
	}
}
