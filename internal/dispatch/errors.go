package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind categorizes dispatch failures.
type ErrorKind string

const (
	// KindEncode: the work order could not be built or serialized.
	KindEncode ErrorKind = "encode"
	// KindTransport: network error or timeout before a response arrived.
	KindTransport ErrorKind = "transport"
	// KindStatus: the receiver answered with a non-200 status.
	KindStatus ErrorKind = "status"
	// KindDecode: the 200 response body could not be parsed.
	KindDecode ErrorKind = "decode"
	// KindRejected: the receiver answered 200 with a non-success code.
	KindRejected ErrorKind = "rejected"
)

// Error is returned by Send for every unsuccessful dispatch.
type Error struct {
	Kind       ErrorKind
	OrderID    string
	StatusCode int
	Code       string // application code from the response body, if any
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("dispatch %s", e.Kind)
	if e.OrderID != "" {
		msg += fmt.Sprintf(" (order=%s)", e.OrderID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(": code %s", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransport returns true if the dispatch never got a response.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsRejected returns true if the receiver refused the order with an
// application code.
func IsRejected(err error) bool { return KindOf(err) == KindRejected }

// IsTimeout returns true if the dispatch failed because a deadline expired.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
