package control

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistryGaugeAndCounter(t *testing.T) {
	r := NewRegistry()
	v := 3.0
	r.Gauge(`reactor_connections`, func() float64 { return v })
	c := r.Counter(`reactor_accepts_total`)
	c.Add(7)

	var buf bytes.Buffer
	r.WritePrometheus(&buf)
	out := buf.String()
	if !strings.Contains(out, "reactor_connections 3") {
		t.Fatalf("gauge missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, "reactor_accepts_total 7") {
		t.Fatalf("counter missing from exposition:\n%s", out)
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("pollers", func() any { return 2 })
	dp.RegisterProbe("connections", func() any { return 9 })
	state := dp.DumpState()
	if state["pollers"] != 2 || state["connections"] != 9 {
		t.Fatalf("probe output %v", state)
	}

	snap := dp.Snapshot()
	if len(snap) != 2 || snap[0].Name != "connections" || snap[1].Name != "pollers" {
		t.Fatalf("snapshot not in name order: %v", snap)
	}

	// re-registration replaces the hook
	dp.RegisterProbe("pollers", func() any { return 4 })
	if got := dp.DumpState()["pollers"]; got != 4 {
		t.Fatalf("replaced probe: got %v", got)
	}
}

func TestDebugProbesLog(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("state", func() any { return "running" })

	var buf bytes.Buffer
	dp.Log(zerolog.New(&buf))
	out := buf.String()
	if !strings.Contains(out, `"state":"running"`) {
		t.Fatalf("probe missing from log record:\n%s", out)
	}
}
