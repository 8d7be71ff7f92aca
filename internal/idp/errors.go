// Package idp is the HTTP client for the hosted identity provider:
// password sign-in, refresh-token exchange, and profile lookup, with
// provider error codes mapped to sentinel errors.
package idp

import (
	"errors"
	"fmt"
)

// Sentinel errors for identity-provider failures.
// Use errors.Is(err, idp.ErrInvalidCredentials) to check.
var (
	ErrInvalidCredentials = errors.New("idp: invalid email or password")
	ErrAccountDisabled    = errors.New("idp: account disabled")
	ErrRateLimited        = errors.New("idp: too many attempts, try again later")
	ErrRefreshRejected    = errors.New("idp: refresh token rejected")
	ErrUnauthorized       = errors.New("idp: identity token rejected")
	ErrNetwork            = errors.New("idp: network unavailable")
)

// ProviderError wraps a sentinel error with the provider's error code,
// HTTP status, and message body for diagnostics.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("idp: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("idp: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// mapSignInCode translates a provider sign-in error code to a sentinel.
// Unknown codes leave the ProviderError without a sentinel so callers see
// errors.Is fail for every known category.
func mapSignInCode(code string) error {
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return ErrInvalidCredentials
	case "USER_DISABLED":
		return ErrAccountDisabled
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return ErrRateLimited
	default:
		return nil
	}
}
