// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides bounded recyclable-object caches for the reactor's
// hot path: channel wrappers, connection attachments, poller events and
// processing tasks. Pools are lock-free rings guarded by an atomic size
// counter; the capacity bound is best-effort and may transiently drift by
// one element under concurrent offers.
package pool
