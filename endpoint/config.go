// File: endpoint/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package endpoint

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/transport"
)

// Config holds all endpoint configuration parameters.
type Config struct {
	ListenAddr string // TCP bind address, e.g. ":9000"
	Backlog    int    // listen(2) backlog

	Acceptors int // accept loops (rarely more than one)
	Pollers   int // readiness demultiplexer loops
	Workers   int // bounded internal worker pool size

	AcceptTimeout time.Duration // upper bound of one blocking accept
	PollTimeout   time.Duration // upper bound of one demultiplexer wait
	SweepInterval time.Duration // minimum gap between timeout sweeps
	ConnTimeout   time.Duration // default per-connection idle timeout
	StopGrace     time.Duration // extra wait past PollTimeout during Stop

	Socket transport.SocketOptions // per-connection TCP options

	ChannelPoolSize    int
	AttachmentPoolSize int
	EventPoolSize      int
	TaskPoolSize       int

	TLS       bool          // enable the TLS engine for this listener
	TLSLoader api.TLSLoader // key/trust material source, required when TLS

	// Executor, when set, replaces the internal worker pool.
	Executor api.Executor

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:         ":9000",
		Backlog:            128,
		Acceptors:          1,
		Pollers:            2,
		Workers:            16,
		AcceptTimeout:      time.Second,
		PollTimeout:        time.Second,
		SweepInterval:      250 * time.Millisecond,
		ConnTimeout:        30 * time.Second,
		StopGrace:          2 * time.Second,
		Socket:             transport.SocketOptions{NoDelay: true, Linger: -1},
		ChannelPoolSize:    512,
		AttachmentPoolSize: 512,
		EventPoolSize:      1024,
		TaskPoolSize:       1024,
		Logger:             zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// Option customizes endpoint construction.
type Option func(*Config)

// WithAddr sets the bind address.
func WithAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithPollers sets the number of poller loops.
func WithPollers(n int) Option {
	return func(c *Config) { c.Pollers = n }
}

// WithWorkers sets the internal worker pool size.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithExecutor delegates task dispatch to an external executor.
func WithExecutor(e api.Executor) Option {
	return func(c *Config) { c.Executor = e }
}

// WithTLS enables the TLS engine using material from loader.
func WithTLS(loader api.TLSLoader) Option {
	return func(c *Config) {
		c.TLS = true
		c.TLSLoader = loader
	}
}

// WithConnTimeout sets the default per-connection idle timeout.
func WithConnTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnTimeout = d }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func (c *Config) normalize() {
	if c.Acceptors < 1 {
		c.Acceptors = 1
	}
	if c.Pollers < 1 {
		c.Pollers = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 250 * time.Millisecond
	}
	if c.ChannelPoolSize < 1 {
		c.ChannelPoolSize = 1
	}
	if c.AttachmentPoolSize < 1 {
		c.AttachmentPoolSize = 1
	}
	if c.EventPoolSize < 1 {
		c.EventPoolSize = 1
	}
	if c.TaskPoolSize < 1 {
		c.TaskPoolSize = 1
	}
}
