package fastcgi

import "errors"

// Sentinel errors returned by the codec. Callers match them with errors.Is;
// wrap adds the offending detail without losing the sentinel.
var (
	ErrUnsupportedVersion = errors.New("fastcgi: unsupported protocol version")
	ErrTruncated          = errors.New("fastcgi: truncated record or stream")
	ErrReservedBitSet     = errors.New("fastcgi: reserved flag bit set")
	ErrUnknownRole        = errors.New("fastcgi: unknown role")
	ErrUnknownStatus      = errors.New("fastcgi: unknown protocol status")
	ErrValueOutOfRange    = errors.New("fastcgi: value out of range")
)

func wrap(kind error, msg string) error {
	return &wrappedError{kind: kind, msg: msg}
}

type wrappedError struct {
	kind error
	msg  string
}

func (e *wrappedError) Error() string { return e.msg + ": " + e.kind.Error() }
func (e *wrappedError) Unwrap() error { return e.kind }
