package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited reports an endpoint that is backing off.
	ErrRateLimited = errors.New("rate limited")
	// ErrBlocked reports a provider block of the caller's network origin.
	ErrBlocked = errors.New("provider blocked")
)

// LimitedError carries the backoff deadline of a rate-limited endpoint.
type LimitedError struct {
	Endpoint string
	RetryAt  time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s until %s", e.Endpoint, e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }
