// Package rpc invokes named remote operations on the function endpoint,
// transparently handling transient network failure and credential expiry
// so callers never see retry mechanics.
package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, rpc.ErrUnauthenticated) to check.
var (
	// ErrUnauthenticated marks a remote auth rejection (401/403).
	ErrUnauthenticated = errors.New("rpc: unauthenticated")
	// ErrTransient marks a retryable transport-level failure: timeout,
	// connection reset, DNS failure, 408/429/5xx.
	ErrTransient = errors.New("rpc: transient transport failure")
	// ErrExhausted is surfaced after the retry ceiling, wrapping the last cause.
	ErrExhausted = errors.New("rpc: retries exhausted")
	// ErrAuthExpired is surfaced when a call still fails auth after the
	// one permitted refresh-and-retry.
	ErrAuthExpired = errors.New("rpc: credentials expired")
)

// RemoteError wraps a sentinel error with the HTTP status and a body
// snippet for diagnostics.
type RemoteError struct {
	StatusCode int
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AppError is a deterministic business rejection reported by the remote
// operation. Never retried — repeating the call cannot change the answer.
type AppError struct {
	Message string
}

func (e *AppError) Error() string {
	return "rpc: remote error: " + e.Message
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func isAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}
