//go:build linux

// File: endpoint/endpoint_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/internal/tlstest"
)

// echoHandler reads whatever is available and writes it straight back.
type echoHandler struct {
	processed  atomic.Int64
	inFlight   atomic.Int64
	maxSeen    atomic.Int64
	delay      time.Duration
	closeAfter bool

	mu     sync.Mutex
	events []api.Status
}

func (h *echoHandler) Process(c api.Conn) api.State {
	cur := h.inFlight.Add(1)
	defer h.inFlight.Add(-1)
	for {
		prev := h.maxSeen.Load()
		if cur <= prev || h.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.processed.Add(1)

	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return api.StateClosed
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return api.StateOpen
		}
		return api.StateClosed
	}
	if _, err := c.Write(buf[:n]); err != nil {
		return api.StateClosed
	}
	if h.closeAfter {
		return api.StateClosed
	}
	return api.StateOpen
}

func (h *echoHandler) Event(c api.Conn, status api.Status) api.State {
	h.mu.Lock()
	h.events = append(h.events, status)
	h.mu.Unlock()
	return api.StateClosed
}

func (h *echoHandler) Release(api.Conn) {}
func (h *echoHandler) ReleaseCaches()   {}

func (h *echoHandler) statuses() []api.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]api.Status, len(h.events))
	copy(out, h.events)
	return out
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Pollers = 2
	cfg.Workers = 4
	cfg.AcceptTimeout = 100 * time.Millisecond
	cfg.PollTimeout = 100 * time.Millisecond
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.StopGrace = time.Second
	cfg.Logger = zerolog.Nop()
	return cfg
}

func startEndpoint(t *testing.T, cfg *Config, h api.Handler) *Endpoint {
	t.Helper()
	ep := NewWithConfig(cfg, h)
	if err := ep.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ep.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { ep.Destroy() })
	return ep
}

func dialEndpoint(t *testing.T, ep *Endpoint) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", ep.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", ep.Addr(), err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func expectEcho(t *testing.T, c net.Conn, payload string) {
	t.Helper()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != payload {
		t.Fatalf("echo mismatch: got %q want %q", buf, payload)
	}
}

func TestEndpointEcho(t *testing.T) {
	h := &echoHandler{}
	ep := startEndpoint(t, testConfig(), h)

	c := dialEndpoint(t, ep)
	expectEcho(t, c, "hello reactor")
	expectEcho(t, c, "second round")

	if got := h.processed.Load(); got < 2 {
		t.Fatalf("expected at least 2 process calls, got %d", got)
	}
}

func TestEndpointLifecycleStates(t *testing.T) {
	ep := NewWithConfig(testConfig(), &echoHandler{})
	if err := ep.Start(); !errors.Is(err, api.ErrEndpointState) {
		t.Fatalf("start before init: got %v", err)
	}
	if err := ep.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ep.Init(); !errors.Is(err, api.ErrEndpointState) {
		t.Fatalf("double init: got %v", err)
	}
	if err := ep.Pause(); !errors.Is(err, api.ErrEndpointState) {
		t.Fatalf("pause before start: got %v", err)
	}
	if err := ep.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ep.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := ep.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := ep.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ep.Stop(); !errors.Is(err, api.ErrEndpointState) {
		t.Fatalf("double stop: got %v", err)
	}
	if err := ep.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := ep.Destroy(); !errors.Is(err, api.ErrEndpointState) {
		t.Fatalf("double destroy: got %v", err)
	}
}

func TestEndpointIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = 300 * time.Millisecond
	h := &echoHandler{}
	ep := startEndpoint(t, cfg, h)

	c := dialEndpoint(t, ep)
	start := time.Now()

	// peer going silent: the sweep must cancel it and close the socket
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	_, err := c.Read(buf)
	if err == nil || !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF from reactor-side close, got %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 250*time.Millisecond {
		t.Fatalf("closed too early: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("closed too late: %v", elapsed)
	}
}

func TestEndpointPauseResume(t *testing.T) {
	h := &echoHandler{}
	ep := startEndpoint(t, testConfig(), h)

	established := dialEndpoint(t, ep)
	expectEcho(t, established, "before pause")

	if err := ep.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// existing connections keep being serviced while paused
	expectEcho(t, established, "during pause")

	// a new connection completes the TCP handshake in the kernel backlog
	// but gets no service until resume
	late, err := net.DialTimeout("tcp", ep.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial during pause: %v", err)
	}
	defer late.Close()
	if _, err := late.Write([]byte("ping")); err != nil {
		t.Fatalf("write during pause: %v", err)
	}
	late.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 4)
	if _, err := late.Read(buf); err == nil {
		t.Fatal("paused endpoint should not service new connections")
	}

	if err := ep.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	late.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(late, buf); err != nil {
		t.Fatalf("echo after resume: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("echo after resume: got %q", buf)
	}
}

func TestEndpointWorkerCap(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	h := &echoHandler{delay: 150 * time.Millisecond}
	ep := startEndpoint(t, cfg, h)

	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = dialEndpoint(t, ep)
	}
	for _, c := range conns {
		if _, err := c.Write([]byte("x")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, c := range conns {
		c.SetReadDeadline(time.Now().Add(3 * time.Second))
		buf := make([]byte, 1)
		if _, err := io.ReadFull(c, buf); err != nil {
			t.Fatalf("echo: %v", err)
		}
	}
	if max := h.maxSeen.Load(); max > 2 {
		t.Fatalf("worker cap exceeded: %d concurrent process calls", max)
	}
}

type inlineExecutor struct {
	submitted atomic.Int64
}

func (e *inlineExecutor) Submit(task func()) error {
	e.submitted.Add(1)
	go task()
	return nil
}

func (e *inlineExecutor) NumWorkers() int { return 0 }

func TestEndpointExternalExecutor(t *testing.T) {
	cfg := testConfig()
	ex := &inlineExecutor{}
	cfg.Executor = ex
	h := &echoHandler{}
	ep := startEndpoint(t, cfg, h)

	c := dialEndpoint(t, ep)
	expectEcho(t, c, "via executor")

	if ex.submitted.Load() == 0 {
		t.Fatal("external executor was never used")
	}
	if ep.BusyWorkers() != -1 {
		t.Fatalf("BusyWorkers with external executor: got %d want -1", ep.BusyWorkers())
	}
}

func TestEndpointTLSEcho(t *testing.T) {
	srv, err := tlstest.ServerConfig()
	if err != nil {
		t.Fatalf("server config: %v", err)
	}
	cfg := testConfig()
	cfg.TLS = true
	cfg.TLSLoader = api.StaticTLS{Config: srv}
	h := &echoHandler{}
	ep := startEndpoint(t, cfg, h)

	c, err := tls.Dial("tcp", ep.Addr(), tlstest.ClientConfig())
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer c.Close()

	payload := "secret payload"
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatalf("tls write: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("tls read: %v", err)
	}
	if string(buf) != payload {
		t.Fatalf("tls echo mismatch: got %q", buf)
	}
}

func TestEndpointHandlerClose(t *testing.T) {
	h := &echoHandler{closeAfter: true}
	ep := startEndpoint(t, testConfig(), h)

	c := dialEndpoint(t, ep)
	expectEcho(t, c, "one shot")

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after StateClosed, got %v", err)
	}
}

func TestEndpointStopNotifiesConnections(t *testing.T) {
	h := &echoHandler{}
	ep := startEndpoint(t, testConfig(), h)

	c := dialEndpoint(t, ep)
	expectEcho(t, c, "hi")

	if err := ep.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after stop, got %v", err)
	}
	if ep.Connections() != 0 {
		t.Fatalf("connections after stop: %d", ep.Connections())
	}
}

// longPollHandler parks every connection after its first request and
// releases it with a payload when the test broadcasts.
type longPollHandler struct {
	mu     sync.Mutex
	parked []api.Conn

	opens     atomic.Int64
	teardowns atomic.Int64
}

func (h *longPollHandler) Process(c api.Conn) api.State {
	buf := make([]byte, 256)
	if _, err := c.Read(buf); err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return api.StateClosed
		}
	}
	h.mu.Lock()
	h.parked = append(h.parked, c)
	h.mu.Unlock()
	return api.StateLong
}

func (h *longPollHandler) Event(c api.Conn, status api.Status) api.State {
	if status == api.StatusOpen {
		h.opens.Add(1)
		c.Write([]byte("tick"))
		return api.StateClosed
	}
	h.teardowns.Add(1)
	return api.StateClosed
}

func (h *longPollHandler) Release(api.Conn) {}
func (h *longPollHandler) ReleaseCaches()   {}

func (h *longPollHandler) broadcast() {
	h.mu.Lock()
	conns := h.parked
	h.parked = nil
	h.mu.Unlock()
	for _, c := range conns {
		c.Resume()
	}
}

func TestEndpointLongPoll(t *testing.T) {
	cfg := testConfig()
	// short enough that a non-exempt connection would be swept during the
	// parked phase
	cfg.ConnTimeout = 250 * time.Millisecond
	h := &longPollHandler{}
	ep := startEndpoint(t, cfg, h)

	c := dialEndpoint(t, ep)
	if _, err := c.Write([]byte("wait")); err != nil {
		t.Fatalf("request: %v", err)
	}

	// parked long-poll connections are exempt from the idle sweep
	c.SetReadDeadline(time.Now().Add(600 * time.Millisecond))
	buf := make([]byte, 4)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("parked connection produced data before resume")
	} else if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("parked connection dropped: %v", err)
	}

	h.broadcast()

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("resume payload: %v", err)
	}
	if string(buf) != "tick" {
		t.Fatalf("resume payload: got %q", buf)
	}
	// handler returned StateClosed from the open event
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after release, got %v", err)
	}

	if got := h.opens.Load(); got != 1 {
		t.Fatalf("open events: got %d want exactly 1", got)
	}
}

// sendfileHandler serves a fixed file on first readiness.
type sendfileHandler struct {
	path   string
	length int64
	keep   bool
}

func (h *sendfileHandler) Process(c api.Conn) api.State {
	buf := make([]byte, 256)
	if _, err := c.Read(buf); err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			return api.StateClosed
		}
	}
	if err := c.StartSendfile(h.path, 0, h.length, h.keep); err != nil {
		return api.StateClosed
	}
	return api.StateOpen
}

func (h *sendfileHandler) Event(api.Conn, api.Status) api.State { return api.StateClosed }
func (h *sendfileHandler) Release(api.Conn)                     {}
func (h *sendfileHandler) ReleaseCaches()                       {}

func TestEndpointSendfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	payload := make([]byte, 128*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	h := &sendfileHandler{path: path, length: int64(len(payload))}
	ep := startEndpoint(t, testConfig(), h)

	c := dialEndpoint(t, ep)
	if _, err := c.Write([]byte("GET")); err != nil {
		t.Fatalf("request: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("body length: got %d want %d", len(got), len(payload))
	}
	for i := range got {
		if got[i] != payload[i] {
			t.Fatalf("body corrupt at offset %d", i)
		}
	}
}

func TestEndpointMetricsExposed(t *testing.T) {
	h := &echoHandler{}
	ep := startEndpoint(t, testConfig(), h)

	c := dialEndpoint(t, ep)
	expectEcho(t, c, "count me")

	state := ep.Probes().DumpState()
	if _, ok := state["connections"]; !ok {
		t.Fatal("connections probe missing")
	}
	var sb testWriter
	ep.Metrics().WritePrometheus(&sb)
	if len(sb.data) == 0 {
		t.Fatal("expected prometheus output")
	}
}

type testWriter struct{ data []byte }

func (w *testWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}
