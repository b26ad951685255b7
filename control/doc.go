// File: control/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control exposes endpoint observability: gauge/counter registration
// in Prometheus exposition format and named debug probes for internal state
// inspection.
package control
