package progress

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyJobID is returned by Subscribe when no job id is given.
	ErrEmptyJobID = errors.New("job id must not be empty")

	// ErrClientClosed is returned by Subscribe after Client.Close.
	ErrClientClosed = errors.New("progress client is closed")
)

// TransportError reports a socket that failed to open or closed
// abnormally. It is recovered by reconnecting and never reaches the
// subscriber.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports a socket that stayed silent past a deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("socket %s timed out after %s", e.Op, e.After)
}

// NetworkError reports a failed status poll. The poller retries on the
// next tick.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is the cause of a NetworkError for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	// Detail is the server's {"detail": ...} message, when it sent one.
	Detail string
}

func (e *HTTPStatusError) Error() string {
	if e.Detail != "" {
		return "unexpected HTTP status " + e.Status + ": " + e.Detail
	}
	return "unexpected HTTP status " + e.Status
}

// ProtocolError reports an inbound payload that was discarded.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s): %v", e.Reason, e.Err)
	}
	return "protocol error (" + e.Reason + ")"
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Reasons carried by ProtocolError and the dropped-message metric.
const (
	reasonMalformed   = "malformed"
	reasonJobMismatch = "job_mismatch"
	reasonNoStatus    = "missing_status"
	reasonAfterClose  = "after_close"
)
