// File: transport/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package transport provides the socket channel abstraction used by the
// reactor: raw non-blocking descriptors, the listening socket, and an
// optional TLS layer with a uniform read/write/handshake/close contract.
package transport
