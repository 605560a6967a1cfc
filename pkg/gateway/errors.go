package gateway

import "errors"

// Sentinel errors for protocol violations the connection handler detects
// above the wire-framing level.
var (
	ErrManagementRecordMidRequest = errors.New("gateway: management record arrived while a request is in flight")
	ErrUnknownManagementRecord    = errors.New("gateway: management record kind this responder does not answer")
	ErrConcurrentRequest          = errors.New("gateway: BeginRequest arrived while a request was already in flight")
	ErrUnknownRequestID           = errors.New("gateway: record referenced a request id with no request in flight")
	ErrUnexpectedRecord           = errors.New("gateway: record kind not valid in the connection's current state")
	ErrPrematureEOF               = errors.New("gateway: connection closed mid-request")
	ErrNilBody                    = errors.New("gateway: application returned a nil body without an error")
)
