// File: endpoint/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package endpoint implements the non-blocking connection reactor: acceptor
// loops feeding freshly accepted sockets to epoll-backed pollers, a bounded
// worker pool executing protocol work, per-connection lifecycle state, and
// the start/pause/resume/stop controller that owns all of it. Protocol
// semantics stay behind api.Handler; the endpoint only transports opaque
// bytes.
package endpoint
