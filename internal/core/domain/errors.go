package domain

import "errors"

var (
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportProtocol = errors.New("transport protocol error")
	ErrDecode            = errors.New("decode error")
	ErrConfiguration     = errors.New("configuration error")
	ErrMissingInput      = errors.New("missing input")
	ErrPersistence       = errors.New("persistence error")
)

// ErrorClass returns a short label for the error kind, used in logs and metrics.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransportTimeout):
		return "timeout"
	case errors.Is(err, ErrTransportProtocol):
		return "protocol"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
