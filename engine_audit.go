package goSession

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/internal/logging"
)

const (
	auditEventAuthFresh          = "auth_fresh"
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventMFARequired        = "mfa_required"
	auditEventMFASuccess         = "mfa_success"
	auditEventMFAFailure         = "mfa_failure"
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshFailure     = "refresh_failure"
	auditEventRateLimited        = "rate_limited"
	auditEventProviderBlocked    = "provider_blocked"
	auditEventCredentialsPurged  = "credentials_purged"
	auditEventSessionInvalidated = "session_invalidated"
	auditEventAccountSwitched    = "account_switched"
	auditEventAccountDeleted     = "account_deleted"
	auditEventOwnerDeleted       = "owner_deleted"
)

// AuditErrorCode is the stable error label written to [AuditEvent].Error.
type AuditErrorCode string

const (
	auditErrAuthFailure     AuditErrorCode = "auth_failure"
	auditErrMFARequired     AuditErrorCode = "mfa_required"
	auditErrMFAInvalid      AuditErrorCode = "mfa_invalid"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrProviderBlocked AuditErrorCode = "provider_blocked"
	auditErrInvalidCookies  AuditErrorCode = "invalid_cookies"
	auditErrNoCredentials   AuditErrorCode = "no_credentials"
	auditErrMalformed       AuditErrorCode = "malformed_response"
	auditErrProvider        AuditErrorCode = "provider_error"
	auditErrNotFound        AuditErrorCode = "not_found"
	auditErrLimitExceeded   AuditErrorCode = "account_limit_exceeded"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrTransport       AuditErrorCode = "transport"
	auditErrInternal        AuditErrorCode = "internal_error"
)

type auditFields struct {
	puuid         string
	correlationID uint64
	requestID     string
	metadata      map[string]string
}

func (m *Manager) emitAudit(ctx context.Context, eventType, ownerID string, err error, f auditFields) {
	if m == nil || m.audit == nil {
		return
	}

	metadata := f.metadata
	if source := sourceFromContext(ctx); source != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["source"] = source
	}

	event := AuditEvent{
		Timestamp:     m.now().UTC(),
		EventType:     eventType,
		OwnerHash:     logging.HashOwner(ownerID),
		PUUID:         f.puuid,
		CorrelationID: f.correlationID,
		RequestID:     f.requestID,
		Success:       err == nil,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	m.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAuthFailure):
		return auditErrAuthFailure
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrMFAAttemptFailed):
		return auditErrMFAInvalid
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrProviderBlocked):
		return auditErrProviderBlocked
	case errors.Is(err, ErrInvalidCookies):
		return auditErrInvalidCookies
	case errors.Is(err, ErrNoCredentials):
		return auditErrNoCredentials
	case errors.Is(err, ErrMalformedResponse):
		return auditErrMalformed
	case errors.Is(err, ErrProviderError):
		return auditErrProvider
	case errors.Is(err, ErrOwnerNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountIndex):
		return auditErrNotFound
	case errors.Is(err, ErrTooManyAccounts):
		return auditErrLimitExceeded
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrTransport):
		return auditErrTransport
	default:
		return auditErrInternal
	}
}
