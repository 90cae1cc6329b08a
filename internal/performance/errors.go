package performance

import (
	"context"
	"errors"
	"net"
)

// ErrorKind classifies a failed iteration.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindStatus     ErrorKind = "status"
	KindCheck      ErrorKind = "check"
	KindRequest    ErrorKind = "request"
)

// IterationError is a single iteration's failure. It is recorded, never
// retried and never propagated beyond the aggregator.
type IterationError struct {
	Kind ErrorKind
	Err  error
}

func (e *IterationError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *IterationError) Unwrap() error {
	return e.Err
}

// classifyTransportError maps an http.Client error to an ErrorKind.
func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}
