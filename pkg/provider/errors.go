package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Class buckets provider failures by how callers should react.
type Class int

const (
	// ClassAuth means credentials were rejected. Never retried.
	ClassAuth Class = iota
	// ClassRateLimit means the vendor throttled us. Retried with backoff.
	ClassRateLimit
	// ClassTransient covers network faults and 5xx responses. Retried.
	ClassTransient
	// ClassFatal is everything else: bad request, unknown model,
	// context overflow. Never retried.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassRateLimit:
		return "rate_limit"
	case ClassTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error wraps a vendor failure with its normalized class.
type Error struct {
	Provider string
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	return e.Class == ClassRateLimit || e.Class == ClassTransient
}

// wrapError attaches a class to a raw vendor error. Already-classified
// errors and context cancellation pass through untouched.
func wrapError(provider string, class Class, err error) error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Provider: provider, Class: class, Err: err}
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusRequestTimeout || code >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// classifyNetwork buckets non-HTTP failures. Connection-level faults
// are worth retrying; anything unrecognized is fatal.
func classifyNetwork(err error) Class {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ClassTransient
	}
	return ClassFatal
}
