// File: endpoint/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"os"
	"time"

	"github.com/momentics/hioload-reactor/api"
)

// connection is the api.Conn facade handed to the protocol handler. It is
// embedded in its Attachment so the pair recycles as one allocation.
type connection struct {
	att *Attachment
}

var _ api.Conn = (*connection)(nil)

func (c *connection) Read(p []byte) (int, error) {
	a := c.att
	if a.closed.Load() {
		return 0, api.ErrConnClosed
	}
	n, err := a.channel.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}

func (c *connection) Write(p []byte) (int, error) {
	a := c.att
	if a.closed.Load() {
		return 0, api.ErrConnClosed
	}
	n, err := a.channel.Write(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}

func (c *connection) Close() error {
	c.att.requestClose(api.StatusStop)
	return nil
}

func (c *connection) Fd() int {
	return c.att.channel.Fd()
}

func (c *connection) SetTimeout(d time.Duration) {
	c.att.setTimeout(d)
}

func (c *connection) Register(read, write bool) {
	bits := 0
	if read {
		bits |= opRead
	}
	if write {
		bits |= opWrite
	}
	if bits == 0 {
		return
	}
	c.att.requestInterest(bits)
}

func (c *connection) Resume() {
	c.att.requestInterest(opCallback)
}

func (c *connection) StartSendfile(path string, pos, length int64, keepAlive bool) error {
	a := c.att
	if a.closed.Load() {
		return api.ErrConnClosed
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	sf := &SendfileData{File: f, Pos: pos, Remaining: length, KeepAlive: keepAlive}
	if err := a.setSendfile(sf); err != nil {
		f.Close()
		return err
	}
	// writability drives the transfer
	a.requestInterest(opWrite)
	return nil
}

// AwaitReadable blocks until the poller signals read readiness or d
// elapses. It is the narrow escape hatch for callers that must wait
// synchronously; only one waiter per direction may be outstanding.
func (c *connection) AwaitReadable(d time.Duration) error {
	a := c.att
	if a.closed.Load() {
		return api.ErrConnClosed
	}
	if err := a.startReadLatch(); err != nil {
		return err
	}
	a.requestInterest(opRead)
	if !a.awaitReadLatch(d) {
		return api.ErrOperationTimeout
	}
	if a.closed.Load() {
		return api.ErrConnClosed
	}
	return nil
}

// AwaitWritable is the write-direction counterpart of AwaitReadable.
func (c *connection) AwaitWritable(d time.Duration) error {
	a := c.att
	if a.closed.Load() {
		return api.ErrConnClosed
	}
	if err := a.startWriteLatch(); err != nil {
		return err
	}
	a.requestInterest(opWrite)
	if !a.awaitWriteLatch(d) {
		return api.ErrOperationTimeout
	}
	if a.closed.Load() {
		return api.ErrConnClosed
	}
	return nil
}

// requestInterest queues an interest merge on the owning poller.
func (a *Attachment) requestInterest(bits int) {
	p := a.poller
	if p == nil || a.closed.Load() {
		return
	}
	p.add(a, bits)
}

// requestClose queues cancellation on the owning poller.
func (a *Attachment) requestClose(status api.Status) {
	p := a.poller
	if p == nil || a.closed.Load() {
		return
	}
	p.requestClose(a, status)
}
