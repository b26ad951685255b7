// File: endpoint/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint: the listener life cycle. Owns the listening socket, the
// acceptor and poller goroutines, the worker pool, the four object caches
// and the metrics registry, and drives them through
// init → start → (pause ↔ resume) → stop → destroy.

package endpoint

import (
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/control"
	"github.com/momentics/hioload-reactor/internal/latch"
	"github.com/momentics/hioload-reactor/pool"
	"github.com/momentics/hioload-reactor/transport"
)

// Endpoint states. Transitions are linear except PAUSED, which is
// reversible back to RUNNING.
const (
	stateUninitialized int32 = iota
	stateInitialized
	stateRunning
	statePaused
	stateStopped
	stateDestroyed
)

type Endpoint struct {
	cfg     *Config
	handler api.Handler
	log     zerolog.Logger

	state    atomic.Int32
	pauseFlg atomic.Bool

	lfd       int
	boundAddr string
	tlsConfig *tls.Config

	pollers    []*Poller
	nextIdx    atomic.Uint64
	workers    *workerPool
	stopLatch  *latch.Countdown
	shutdownMu sync.Mutex

	channelPool    *pool.Bounded[transport.Channel]
	attachmentPool *pool.Bounded[*Attachment]
	eventPool      *pool.Bounded[*pollerEvent]
	taskPool       *pool.Bounded[*processingTask]

	connCount     *xsync.Counter
	keepAlive     *xsync.Counter
	acceptCounter *xsync.Counter
	closeCounter  *xsync.Counter

	metrics *control.Registry
	probes  *control.DebugProbes
}

// New builds an endpoint around handler. Options adjust a copy of
// DefaultConfig; pass a fully built Config through NewWithConfig instead
// when every knob matters.
func New(handler api.Handler, opts ...Option) *Endpoint {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return NewWithConfig(cfg, handler)
}

// NewWithConfig builds an endpoint from an explicit configuration.
func NewWithConfig(cfg *Config, handler api.Handler) *Endpoint {
	cfg.normalize()
	ep := &Endpoint{
		cfg:            cfg,
		handler:        handler,
		log:            cfg.Logger.With().Str("component", "endpoint").Logger(),
		lfd:            -1,
		channelPool:    pool.NewBounded[transport.Channel](cfg.ChannelPoolSize),
		attachmentPool: pool.NewBounded[*Attachment](cfg.AttachmentPoolSize),
		eventPool:      pool.NewBounded[*pollerEvent](cfg.EventPoolSize),
		taskPool:       pool.NewBounded[*processingTask](cfg.TaskPoolSize),
		connCount:      xsync.NewCounter(),
		keepAlive:      xsync.NewCounter(),
		acceptCounter:  xsync.NewCounter(),
		closeCounter:   xsync.NewCounter(),
		metrics:        control.NewRegistry(),
		probes:         control.NewDebugProbes(),
	}
	ep.state.Store(stateUninitialized)
	return ep
}

// Init binds the listening socket, loads TLS material and registers the
// observability surface. Valid only from the uninitialized state.
func (ep *Endpoint) Init() error {
	if !ep.state.CompareAndSwap(stateUninitialized, stateInitialized) {
		return api.ErrEndpointState
	}
	lfd, err := transport.Listen(ep.cfg.ListenAddr, ep.cfg.Backlog)
	if err != nil {
		ep.state.Store(stateUninitialized)
		return fmt.Errorf("endpoint init: %w", err)
	}
	ep.lfd = lfd
	if addr, err := transport.ListenAddr(lfd); err == nil {
		ep.boundAddr = addr
	} else {
		ep.boundAddr = ep.cfg.ListenAddr
	}

	if ep.cfg.TLS {
		if ep.cfg.TLSLoader == nil {
			ep.closeListener()
			ep.state.Store(stateUninitialized)
			return fmt.Errorf("endpoint init: TLS enabled without a loader")
		}
		tc, err := ep.cfg.TLSLoader.Load()
		if err != nil {
			ep.closeListener()
			ep.state.Store(stateUninitialized)
			return fmt.Errorf("endpoint init: tls material: %w", err)
		}
		ep.tlsConfig = tc
	}

	ep.prewarm()
	ep.registerProbes()
	ep.log.Info().Str("addr", ep.boundAddr).Bool("tls", ep.cfg.TLS).Msg("endpoint initialized")
	return nil
}

// prewarm seeds the allocation-free caches. Channels are excluded: they
// only make sense wrapped around a live descriptor.
func (ep *Endpoint) prewarm() {
	for i := 0; i < ep.cfg.AttachmentPoolSize/2; i++ {
		if !ep.attachmentPool.Put(newAttachment()) {
			break
		}
	}
	for i := 0; i < ep.cfg.EventPoolSize/2; i++ {
		if !ep.eventPool.Put(&pollerEvent{}) {
			break
		}
	}
	for i := 0; i < ep.cfg.TaskPoolSize/2; i++ {
		if !ep.taskPool.Put(&processingTask{}) {
			break
		}
	}
}

// Start spins up pollers, the worker pool and acceptors. Valid only from
// the initialized state.
func (ep *Endpoint) Start() error {
	if !ep.state.CompareAndSwap(stateInitialized, stateRunning) {
		return api.ErrEndpointState
	}

	ep.pollers = make([]*Poller, 0, ep.cfg.Pollers)
	for i := 0; i < ep.cfg.Pollers; i++ {
		p, err := newPoller(i, ep)
		if err != nil {
			for _, prev := range ep.pollers {
				prev.sel.Close()
			}
			ep.pollers = nil
			ep.state.Store(stateInitialized)
			return fmt.Errorf("endpoint start: %w", err)
		}
		ep.pollers = append(ep.pollers, p)
	}
	// pollers plus acceptors count this latch down on exit
	ep.stopLatch = latch.New(ep.cfg.Pollers + ep.cfg.Acceptors)

	if ep.cfg.Executor == nil {
		ep.workers = newWorkerPool(ep.cfg.Workers)
	}
	for _, p := range ep.pollers {
		go p.loop()
	}
	for i := 0; i < ep.cfg.Acceptors; i++ {
		go newAcceptor(i, ep).loop()
	}
	ep.log.Info().
		Int("pollers", ep.cfg.Pollers).
		Int("acceptors", ep.cfg.Acceptors).
		Msg("endpoint started")
	return nil
}

// Pause stops accepting new connections; established connections keep
// being serviced.
func (ep *Endpoint) Pause() error {
	if !ep.state.CompareAndSwap(stateRunning, statePaused) {
		return api.ErrEndpointState
	}
	ep.pauseFlg.Store(true)
	ep.log.Info().Msg("endpoint paused")
	return nil
}

// Resume re-enables accepting after a Pause.
func (ep *Endpoint) Resume() error {
	if !ep.state.CompareAndSwap(statePaused, stateRunning) {
		return api.ErrEndpointState
	}
	ep.pauseFlg.Store(false)
	ep.log.Info().Msg("endpoint resumed")
	return nil
}

// Stop drains the endpoint: acceptors and pollers are asked to exit,
// remaining connections are cancelled with a stop status, then worker and
// object caches are torn down. The wait for loop exits is bounded by
// PollTimeout plus StopGrace.
func (ep *Endpoint) Stop() error {
	ep.shutdownMu.Lock()
	defer ep.shutdownMu.Unlock()

	s := ep.state.Load()
	if s != stateRunning && s != statePaused {
		return api.ErrEndpointState
	}
	ep.state.Store(stateStopped)
	ep.pauseFlg.Store(true)

	for _, p := range ep.pollers {
		p.shutdown()
	}
	if ep.stopLatch != nil {
		grace := ep.cfg.PollTimeout + ep.cfg.AcceptTimeout + ep.cfg.StopGrace
		if !ep.stopLatch.Await(grace) {
			ep.log.Warn().Dur("grace", grace).Msg("loops did not stop within grace period")
		}
	}
	if ep.workers != nil {
		ep.workers.stop()
	}
	ep.clearCaches()
	ep.releaseHandlerCaches()
	ep.log.Info().Msg("endpoint stopped")
	return nil
}

// Destroy closes the listening socket. Terminal.
func (ep *Endpoint) Destroy() error {
	s := ep.state.Load()
	switch s {
	case stateDestroyed:
		return api.ErrEndpointState
	case stateRunning, statePaused:
		if err := ep.Stop(); err != nil {
			return err
		}
	}
	ep.state.Store(stateDestroyed)
	ep.closeListener()
	ep.log.Info().Msg("endpoint destroyed")
	return nil
}

func (ep *Endpoint) closeListener() {
	if ep.lfd >= 0 {
		transport.CloseFd(ep.lfd)
		ep.lfd = -1
	}
}

func (ep *Endpoint) running() bool {
	s := ep.state.Load()
	return s == stateRunning || s == statePaused
}

func (ep *Endpoint) paused() bool { return ep.pauseFlg.Load() }

// Addr reports the bound listen address, useful with a ":0" configuration.
func (ep *Endpoint) Addr() string { return ep.boundAddr }

// Connections reports the number of connections currently registered.
func (ep *Endpoint) Connections() int64 { return ep.connCount.Value() }

// KeepAliveCount reports connections retained past their first exchange.
func (ep *Endpoint) KeepAliveCount() int64 { return ep.keepAlive.Value() }

// BusyWorkers reports in-flight tasks on the internal pool, -1 when an
// external executor is in charge.
func (ep *Endpoint) BusyWorkers() int {
	if ep.workers == nil {
		return -1
	}
	return ep.workers.Busy()
}

// Metrics exposes the endpoint's metrics registry for scraping.
func (ep *Endpoint) Metrics() *control.Registry { return ep.metrics }

// Probes exposes the debug probe registry.
func (ep *Endpoint) Probes() *control.DebugProbes { return ep.probes }

func (ep *Endpoint) registerProbes() {
	ep.metrics.Gauge("reactor_connections", func() float64 {
		return float64(ep.connCount.Value())
	})
	ep.metrics.Gauge("reactor_keepalive_connections", func() float64 {
		return float64(ep.keepAlive.Value())
	})
	ep.metrics.Gauge("reactor_accepted_total", func() float64 {
		return float64(ep.acceptCounter.Value())
	})
	ep.metrics.Gauge("reactor_closed_total", func() float64 {
		return float64(ep.closeCounter.Value())
	})
	ep.metrics.Gauge("reactor_busy_workers", func() float64 {
		return float64(ep.BusyWorkers())
	})
	ep.metrics.Gauge("reactor_pollers", func() float64 {
		return float64(len(ep.pollers))
	})
	ep.probes.RegisterProbe("state", func() any { return ep.state.Load() })
	ep.probes.RegisterProbe("connections", func() any { return ep.connCount.Value() })
	ep.probes.RegisterProbe("pollers", func() any {
		out := make([]map[string]int, 0, len(ep.pollers))
		for _, p := range ep.pollers {
			out = append(out, map[string]int{
				"connections":  p.Size(),
				"queued_items": p.events.len(),
			})
		}
		return out
	})
	ep.probes.RegisterProbe("pools", func() any {
		return map[string]int{
			"channels":    ep.channelPool.Len(),
			"attachments": ep.attachmentPool.Len(),
			"events":      ep.eventPool.Len(),
			"tasks":       ep.taskPool.Len(),
		}
	})
}

// nextPoller distributes new connections round-robin.
func (ep *Endpoint) nextPoller() *Poller {
	n := ep.nextIdx.Add(1)
	return ep.pollers[int(n)%len(ep.pollers)]
}

// dispatch hands a task to the external executor when configured, else to
// the internal worker pool. A saturated executor degrades to running the
// task inline on the poller; a saturated worker pool reports false so the
// caller can rely on readiness re-delivery.
func (ep *Endpoint) dispatch(t *processingTask) bool {
	if ex := ep.cfg.Executor; ex != nil {
		if err := ex.Submit(t.runAndRecycle); err != nil {
			t.runAndRecycle()
		}
		return true
	}
	return ep.workers.dispatch(t)
}

func (ep *Endpoint) newEvent() *pollerEvent {
	if ev, ok := ep.eventPool.Get(); ok {
		return ev
	}
	return &pollerEvent{}
}

func (ep *Endpoint) recycleEvent(ev *pollerEvent) {
	ev.reset()
	ep.eventPool.Put(ev)
}

func (ep *Endpoint) newTask() *processingTask {
	if t, ok := ep.taskPool.Get(); ok {
		return t
	}
	return &processingTask{}
}

// clearCaches empties every object cache, dropping the pooled instances.
func (ep *Endpoint) clearCaches() {
	ep.channelPool.Clear(nil)
	ep.attachmentPool.Clear(nil)
	ep.eventPool.Clear(nil)
	ep.taskPool.Clear(nil)
}

func (ep *Endpoint) releaseHandlerCaches() {
	defer func() {
		if r := recover(); r != nil {
			ep.log.Error().Interface("panic", r).Msg("handler cache release panic")
		}
	}()
	ep.handler.ReleaseCaches()
}
