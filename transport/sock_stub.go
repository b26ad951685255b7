//go:build !linux

// File: transport/sock_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"time"

	"github.com/momentics/hioload-reactor/api"
)

// SocketOptions are the per-connection TCP options applied after accept.
type SocketOptions struct {
	NoDelay bool
	Linger  int
	RecvBuf int
	SendBuf int
}

func Listen(addr string, backlog int) (int, error)       { return -1, api.ErrNotSupported }
func ListenAddr(fd int) (string, error)                  { return "", api.ErrNotSupported }
func Accept(lfd int, timeout time.Duration) (int, error) { return -1, api.ErrNotSupported }
func ApplyOptions(fd int, o SocketOptions) error         { return api.ErrNotSupported }
func readFd(fd int, p []byte) (int, error)               { return 0, api.ErrNotSupported }
func writeFd(fd int, p []byte) (int, error)              { return 0, api.ErrNotSupported }
func closeFd(fd int) error                               { return api.ErrNotSupported }
func Sendfile(dst, src int, off *int64, count int) (int, error) {
	return 0, api.ErrNotSupported
}
func IsResourceExhausted(err error) bool { return false }
func CloseFd(fd int) error               { return api.ErrNotSupported }
