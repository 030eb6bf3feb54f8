package mint

import (
	"errors"
	"fmt"
)

// Reason classifies why an attempt failed.
type Reason string

const (
	ReasonInvalidRequest  Reason = "InvalidRequest"
	ReasonAlreadyInFlight Reason = "AlreadyInFlight"
	ReasonSigningRejected Reason = "SigningRejected"
	ReasonNetworkError    Reason = "NetworkError"
	ReasonExecutionFailed Reason = "ExecutionFailed"
)

var (
	ErrInvalidRequest  = &Error{Reason: ReasonInvalidRequest}
	ErrAlreadyInFlight = &Error{Reason: ReasonAlreadyInFlight}
	ErrSigningRejected = &Error{Reason: ReasonSigningRejected}
	ErrNetworkError    = &Error{Reason: ReasonNetworkError}
	ErrExecutionFailed = &Error{Reason: ReasonExecutionFailed}

	// ErrEffectsAlreadyReported is returned by a reporter used a second time.
	ErrEffectsAlreadyReported = errors.New("effects already reported")
)

// Error is a terminal failure of a mint attempt.
type Error struct {
	Reason Reason
	Detail string
	// Digest is set for on-chain failures.
	Digest string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Digest != "" {
		msg += fmt.Sprintf(" (digest %s)", e.Digest)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Reason, so errors.Is(err, ErrNetworkError) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the Reason of err, or "" when err is not a mint error.
func ReasonOf(err error) Reason {
	var me *Error
	if errors.As(err, &me) {
		return me.Reason
	}
	return ""
}

// IncompleteExecutionError is returned by an Executor when the node answered
// but the response is not usable as a whole. Digest and RawEffects carry
// whatever was decoded so the wallet can still be told about the effects.
type IncompleteExecutionError struct {
	Digest     string
	RawEffects []byte
	Err        error
}

func (e *IncompleteExecutionError) Error() string { return e.Err.Error() }

func (e *IncompleteExecutionError) Unwrap() error { return e.Err }

func newError(reason Reason, cause error) *Error {
	e := &Error{Reason: reason, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}
