// File: transport/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

// wouldBlockError reports a non-blocking operation that found no data or
// no buffer space. It satisfies net.Error with Timeout() == true so that
// crypto/tls treats it as transient instead of poisoning the connection.
type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

// ErrWouldBlock is returned by non-blocking reads and writes when the
// operation cannot make progress. Callers re-register interest and retry
// on the next readiness notification.
var ErrWouldBlock error = wouldBlockError{}

// IsWouldBlock reports whether err is the would-block sentinel.
func IsWouldBlock(err error) bool {
	return err == ErrWouldBlock
}
