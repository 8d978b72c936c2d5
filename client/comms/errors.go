// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import "decred.org/chandex/dex"

const (
	// ErrCorrelationTimeout is returned to a caller whose request got no
	// reply in time. The request may be retried.
	ErrCorrelationTimeout = dex.ErrorKind("request timed out")
	// ErrUnknownCorrelation describes a reply for an id that is not pending.
	// It is only logged.
	ErrUnknownCorrelation = dex.ErrorKind("reply for unknown request id")
	// ErrTransportClosed is returned to every caller still waiting when the
	// connection goes down, and to callers of a closed connection.
	ErrTransportClosed = dex.ErrorKind("connection closed")
	// ErrInvalidCert is returned when a TLS certificate cannot be parsed.
	ErrInvalidCert = dex.ErrorKind("invalid certificate")
)
