package vendorapi

import "errors"

// Error taxonomy for vendor calls. Transport failures retry; protocol and
// auth failures fail fast. An empty page is terminal, not an error.
var (
	ErrTransport = errors.New("vendor_transport")
	ErrProtocol  = errors.New("vendor_protocol")
	ErrAuth      = errors.New("vendor_auth")
)

// Kind maps an error to its low-cardinality taxonomy label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}

// Retriable reports whether a failed attempt should be retried.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransport)
}
