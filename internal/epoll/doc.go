// File: internal/epoll/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package epoll wraps the OS readiness demultiplexer used by the reactor's
// pollers. The Linux backend is epoll with an eventfd wakeup channel; other
// platforms compile against a stub that reports unsupported.
package epoll
