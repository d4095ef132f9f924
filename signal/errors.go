package signal

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded is returned by an ingestion buffer at capacity under
// the reject backpressure policy.
var ErrCapacityExceeded = errors.New("ingestion buffer capacity exceeded")

// ErrUnknownMetric is reported when an alert rule references a series that
// produced no snapshot in the evaluated window. Non-fatal: the rule holds
// its state.
var ErrUnknownMetric = errors.New("alert rule references unknown metric series")

// MalformedSignalError describes a signal rejected at ingestion because a
// required field is missing or invalid.
type MalformedSignalError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *MalformedSignalError) Error() string {
	return fmt.Sprintf("malformed %s signal: %s %s", e.Kind, e.Field, e.Reason)
}

// IsMalformed checks whether err is a malformed-signal rejection.
func IsMalformed(err error) bool {
	var m *MalformedSignalError
	return errors.As(err, &m)
}

// SinkUnavailableError is a transient sink failure; the dispatcher retries it
// with backoff.
type SinkUnavailableError struct {
	Sink string
	Err  error
}

func (e *SinkUnavailableError) Error() string {
	return fmt.Sprintf("sink %s unavailable: %v", e.Sink, e.Err)
}

func (e *SinkUnavailableError) Unwrap() error { return e.Err }

// SinkRejectedError is a permanent sink failure; the dispatcher dead-letters
// the batch immediately without retrying.
type SinkRejectedError struct {
	Sink   string
	Reason string
}

func (e *SinkRejectedError) Error() string {
	return fmt.Sprintf("sink %s rejected batch: %s", e.Sink, e.Reason)
}

// IsSinkUnavailable checks whether err is a transient sink failure.
func IsSinkUnavailable(err error) bool {
	var u *SinkUnavailableError
	return errors.As(err, &u)
}

// IsSinkRejected checks whether err is a permanent sink rejection.
func IsSinkRejected(err error) bool {
	var r *SinkRejectedError
	return errors.As(err, &r)
}
