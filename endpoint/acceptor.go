// File: endpoint/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor: blocking accept loop feeding accepted sockets to the pollers.

package endpoint

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-reactor/transport"
)

type acceptor struct {
	id  int
	ep  *Endpoint
	log zerolog.Logger
}

func newAcceptor(id int, ep *Endpoint) *acceptor {
	return &acceptor{
		id:  id,
		ep:  ep,
		log: ep.log.With().Int("acceptor", id).Logger(),
	}
}

func (a *acceptor) loop() {
	defer a.ep.stopLatch.CountDown()

	backoff := time.Duration(0)
	for a.ep.running() {
		if a.ep.paused() {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if backoff > 0 {
			time.Sleep(backoff)
			backoff = 0
		}

		fd, err := transport.Accept(a.ep.lfd, a.ep.cfg.AcceptTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				continue
			}
			if transport.IsResourceExhausted(err) {
				// out of descriptors: release pooled ones and back off so
				// in-flight closes can return fds to the process
				a.log.Warn().Err(err).Msg("descriptor table exhausted, clearing caches")
				a.ep.clearCaches()
				backoff = time.Second
				continue
			}
			if a.ep.running() {
				a.log.Error().Err(err).Msg("accept failed")
				backoff = 100 * time.Millisecond
			}
			continue
		}
		if !a.ep.running() || a.ep.paused() {
			transport.CloseFd(fd)
			continue
		}
		if err := a.setup(fd); err != nil {
			a.log.Warn().Err(err).Int("fd", fd).Msg("connection setup failed")
			transport.CloseFd(fd)
		}
	}
}

// setup wraps an accepted socket in a channel and hands it to the next
// poller. The channel and attachment come from the pools when available.
func (a *acceptor) setup(fd int) error {
	if err := transport.ApplyOptions(fd, a.ep.cfg.Socket); err != nil {
		return err
	}

	var ch transport.Channel
	if cached, ok := a.ep.channelPool.Get(); ok {
		if err := cached.Reset(fd, a.ep.tlsConfig); err != nil {
			return err
		}
		ch = cached
	} else if a.ep.tlsConfig != nil {
		ch = transport.NewSecureChannel(fd, a.ep.tlsConfig)
	} else {
		ch = transport.NewSocketChannel(fd)
	}

	att, ok := a.ep.attachmentPool.Get()
	if !ok {
		att = newAttachment()
	}
	p := a.ep.nextPoller()
	att.bind(p, ch)

	a.ep.connCount.Inc()
	a.ep.acceptCounter.Inc()
	p.register(att)
	return nil
}
