// File: control/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Named diagnostic probes, evaluated lazily at dump time.

package control

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Probe is one evaluated diagnostic sample.
type Probe struct {
	Name  string
	Value any
}

// DebugProbes holds registered probe hooks. Hooks run outside the lock,
// so a probe may itself inspect the registry.
type DebugProbes struct {
	mu    sync.RWMutex
	hooks map[string]func() any
}

// NewDebugProbes creates an empty probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{hooks: make(map[string]func() any)}
}

// RegisterProbe inserts a named debug hook; registering an existing name
// replaces the previous hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	dp.hooks[name] = fn
	dp.mu.Unlock()
}

// Snapshot evaluates every probe and returns the samples in name order.
func (dp *DebugProbes) Snapshot() []Probe {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.hooks))
	fns := make(map[string]func() any, len(dp.hooks))
	for name, fn := range dp.hooks {
		names = append(names, name)
		fns[name] = fn
	}
	dp.mu.RUnlock()

	sort.Strings(names)
	out := make([]Probe, 0, len(names))
	for _, name := range names {
		out = append(out, Probe{Name: name, Value: fns[name]()})
	}
	return out
}

// DumpState returns the probe samples keyed by name.
func (dp *DebugProbes) DumpState() map[string]any {
	snap := dp.Snapshot()
	out := make(map[string]any, len(snap))
	for _, pr := range snap {
		out[pr.Name] = pr.Value
	}
	return out
}

// Log emits one debug record carrying every probe sample.
func (dp *DebugProbes) Log(l zerolog.Logger) {
	ev := l.Debug()
	for _, pr := range dp.Snapshot() {
		ev = ev.Interface(pr.Name, pr.Value)
	}
	ev.Msg("debug probes")
}
