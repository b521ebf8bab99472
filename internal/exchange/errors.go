package exchange

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goSession/internal/rate"
)

var (
	// ErrAuthFailure reports credentials the provider unambiguously rejected.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrMFARequired reports a login paused on a second factor.
	ErrMFARequired = errors.New("multifactor authentication required")
	// ErrMFAAttemptFailed reports a wrong second-factor code. The challenge stays pending.
	ErrMFAAttemptFailed = errors.New("multifactor attempt failed")
	// ErrRateLimited reports an endpoint that is backing off.
	ErrRateLimited = rate.ErrRateLimited
	// ErrProviderBlocked reports that the provider flagged the caller's network origin.
	ErrProviderBlocked = rate.ErrBlocked
	// ErrTransport reports network faults and unexpected statuses.
	ErrTransport = errors.New("provider transport error")
	// ErrMalformedResponse reports a response missing required fields.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrInvalidCookies reports stored cookies the provider no longer accepts.
	ErrInvalidCookies = errors.New("invalid provider cookies")
	// ErrNoCredentials reports that no usable credentials or pending login exist.
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrProviderError reports an error code the provider returned that is not classified.
	ErrProviderError = errors.New("provider error")
)

// MFAChallengeError carries the challenge metadata of [ErrMFARequired].
type MFAChallengeError struct {
	Method string
	Email  string
}

func (e *MFAChallengeError) Error() string {
	return fmt.Sprintf("multifactor authentication required: method=%s", e.Method)
}

func (e *MFAChallengeError) Unwrap() error { return ErrMFARequired }
