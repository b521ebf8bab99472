package goSession

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/goSession/account"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	internalmetrics "github.com/MrEthical07/goSession/internal/metrics"
)

// Class classifies the outcome of a facade call.
type Class uint8

const (
	ClassNone Class = iota
	ClassAuthFailure
	ClassMFARequired
	ClassMFAAttemptFailed
	ClassRateLimited
	ClassProviderBlocked
	ClassTransport
	ClassMalformedResponse
	ClassInvalidCookies
	ClassNoCredentials
	ClassProviderError
	ClassNotFound
	ClassStorage
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassAuthFailure:
		return "auth_failure"
	case ClassMFARequired:
		return "mfa_required"
	case ClassMFAAttemptFailed:
		return "mfa_attempt_failed"
	case ClassRateLimited:
		return "rate_limited"
	case ClassProviderBlocked:
		return "provider_blocked"
	case ClassTransport:
		return "transport"
	case ClassMalformedResponse:
		return "malformed_response"
	case ClassInvalidCookies:
		return "invalid_cookies"
	case ClassNoCredentials:
		return "no_credentials"
	case ClassProviderError:
		return "provider_error"
	case ClassNotFound:
		return "not_found"
	case ClassStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a [Manager] to its [Class]. Unknown
// errors, including recovered panics, classify as transport failures.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrAuthFailure):
		return ClassAuthFailure
	case errors.Is(err, ErrMFARequired):
		return ClassMFARequired
	case errors.Is(err, ErrMFAAttemptFailed):
		return ClassMFAAttemptFailed
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrProviderBlocked):
		return ClassProviderBlocked
	case errors.Is(err, ErrMalformedResponse):
		return ClassMalformedResponse
	case errors.Is(err, ErrInvalidCookies):
		return ClassInvalidCookies
	case errors.Is(err, ErrNoCredentials):
		return ClassNoCredentials
	case errors.Is(err, ErrProviderError):
		return ClassProviderError
	case errors.Is(err, ErrOwnerNotFound), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountIndex), errors.Is(err, ErrQueueResultNotFound):
		return ClassNotFound
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, account.ErrCorruptRecord),
		errors.Is(err, ErrTooManyAccounts):
		return ClassStorage
	default:
		return ClassTransport
	}
}

// Result is the structured outcome of an authentication call.
//
// Success is true only when the account holds a usable session. Failures
// carry a Class and, depending on it, MFA or RetryAt details.
type Result struct {
	Success bool
	Class   Class

	// Account is a copy of the account after the call, when one is known.
	Account *account.Record
	// Index is the 1-based position of Account in the owner record.
	Index int
	// Fresh reports that the stored session was returned without a provider call.
	Fresh bool
	// Purged reports that the account's credentials were deleted.
	Purged bool

	MFA    bool
	Method string
	Email  string

	RetryAt time.Time

	// Queued reports that the operation was enqueued and has not run yet.
	// Poll CorrelationID with [Manager.PollAuth] for the outcome.
	Queued        bool
	CorrelationID uint64
	RequestID     string
}

// AccessToken returns the account's access token, or "" without a session.
func (r *Result) AccessToken() string {
	if r == nil || r.Account == nil {
		return ""
	}
	s, ok := r.Account.Session()
	if !ok {
		return ""
	}
	return s.AccessToken
}

func (r *Result) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Bool("success", r.Success),
		slog.String("class", r.Class.String()),
		slog.Int("index", r.Index),
		slog.Bool("fresh", r.Fresh),
	)
}

// QueueState reports where a queued operation is.
type QueueState uint8

const (
	// QueueStateQueued means the operation waits behind Ahead others.
	QueueStateQueued QueueState = iota + 1
	// QueueStateProcessing means the operation is executing.
	QueueStateProcessing
	// QueueStateDone means Result holds the outcome. It is reported once.
	QueueStateDone
)

func (s QueueState) String() string {
	switch s {
	case QueueStateQueued:
		return "queued"
	case QueueStateProcessing:
		return "processing"
	case QueueStateDone:
		return "done"
	default:
		return "unknown"
	}
}

// QueueStatus is returned by [Manager.PollAuth].
type QueueStatus struct {
	State QueueState
	// Ahead is the number of operations queued before this one.
	Ahead  int
	Result *Result
	Err    error
}

// AuditEvent is a structured audit record emitted by the manager.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the manager's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events at info level.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink] writing to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricAuthFresh           = internalmetrics.MetricAuthFresh
	MetricRefreshAttempt      = internalmetrics.MetricRefreshAttempt
	MetricRefreshSuccess      = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure      = internalmetrics.MetricRefreshFailure
	MetricLoginSuccess        = internalmetrics.MetricLoginSuccess
	MetricLoginFailure        = internalmetrics.MetricLoginFailure
	MetricMFARequired         = internalmetrics.MetricMFARequired
	MetricMFASuccess          = internalmetrics.MetricMFASuccess
	MetricMFAAttemptFailed    = internalmetrics.MetricMFAAttemptFailed
	MetricRateLimited         = internalmetrics.MetricRateLimited
	MetricProviderBlocked     = internalmetrics.MetricProviderBlocked
	MetricCredentialsPurged   = internalmetrics.MetricCredentialsPurged
	MetricSessionInvalidated  = internalmetrics.MetricSessionInvalidated
	MetricQueueEnqueued       = internalmetrics.MetricQueueEnqueued
	MetricQueueProcessed      = internalmetrics.MetricQueueProcessed
	MetricQueuePanicked       = internalmetrics.MetricQueuePanicked
	MetricQueueResultConsumed = internalmetrics.MetricQueueResultConsumed
	MetricAccountDeleted      = internalmetrics.MetricAccountDeleted
	MetricOwnerDeleted        = internalmetrics.MetricOwnerDeleted
	// MetricExchangeLatency is the only histogram. It needs EnableLatencyHistograms.
	MetricExchangeLatency = internalmetrics.MetricExchangeLatency
)

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot
