package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/exchange"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/internal/rate"
)

var (
	// ErrAuthFailure reports credentials the provider unambiguously rejected.
	// It is the only failure that purges stored credentials.
	ErrAuthFailure = exchange.ErrAuthFailure
	// ErrMFARequired reports a login paused on a second factor. See [MFAChallengeError].
	ErrMFARequired = exchange.ErrMFARequired
	// ErrMFAAttemptFailed reports a wrong second-factor code; the challenge stays pending.
	ErrMFAAttemptFailed = exchange.ErrMFAAttemptFailed
	// ErrRateLimited reports a provider endpoint that is backing off. See [RateLimitError].
	ErrRateLimited = exchange.ErrRateLimited
	// ErrProviderBlocked reports that the provider flagged this process's network origin.
	ErrProviderBlocked = exchange.ErrProviderBlocked
	// ErrTransport reports network faults, unexpected statuses and recovered panics.
	ErrTransport = exchange.ErrTransport
	// ErrMalformedResponse reports a provider response missing required fields.
	ErrMalformedResponse = exchange.ErrMalformedResponse
	// ErrInvalidCookies reports stored cookies the provider no longer accepts.
	ErrInvalidCookies = exchange.ErrInvalidCookies
	// ErrNoCredentials reports an account with nothing to refresh from, or no pending login.
	ErrNoCredentials = exchange.ErrNoCredentials
	// ErrProviderError reports an unclassified provider error code.
	ErrProviderError = exchange.ErrProviderError
	// ErrStaleCredentials reports a session a downstream caller found expired or revoked.
	ErrStaleCredentials = errors.New("stale credentials")

	// ErrOwnerNotFound reports an owner with no stored accounts.
	ErrOwnerNotFound = account.ErrOwnerNotFound
	// ErrAccountNotFound reports an owner without the requested account.
	ErrAccountNotFound = account.ErrAccountNotFound
	// ErrAccountIndex reports an account index outside [1, len(accounts)].
	ErrAccountIndex = account.ErrAccountIndex
	// ErrTooManyAccounts reports an owner at the configured account cap.
	ErrTooManyAccounts = account.ErrTooManyAccounts
	// ErrStoreUnavailable reports a storage backend fault.
	ErrStoreUnavailable = account.ErrBackendUnavailable

	// ErrQueueResultNotFound reports a correlation id never issued or already read.
	ErrQueueResultNotFound = queue.ErrNotFound
	// ErrEngineNotReady reports a nil or closed Manager.
	ErrEngineNotReady = errors.New("session manager not initialized")
)

// RateLimitError carries the endpoint and retry deadline of [ErrRateLimited].
type RateLimitError = rate.LimitedError

// MFAChallengeError carries the method and masked email of [ErrMFARequired].
type MFAChallengeError = exchange.MFAChallengeError
