// File: api/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "crypto/tls"

// TLSLoader supplies key and trust material for a TLS-enabled listener.
// Loading policy (keystore paths, rotation, accepted protocols and cipher
// suites) stays outside the reactor; Load is called once during Init and
// its failure aborts endpoint initialization.
type TLSLoader interface {
	Load() (*tls.Config, error)
}

// StaticTLS wraps an already-built tls.Config as a TLSLoader.
type StaticTLS struct {
	Config *tls.Config
}

func (s StaticTLS) Load() (*tls.Config, error) { return s.Config, nil }
