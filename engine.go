package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/goSession/account"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/exchange"
	"github.com/MrEthical07/goSession/internal/logging"
	internalmetrics "github.com/MrEthical07/goSession/internal/metrics"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/internal/rate"
)

// Manager is the session facade. It keeps each owner's linked accounts
// authenticated, serializing every provider exchange through one queue.
//
// A Manager is safe for concurrent use. Build one with [New].
type Manager struct {
	config    Config
	repo      *account.Repository
	limiter   *rate.Limiter
	exchanger *exchange.Exchanger
	queue     *queue.Queue[*Result]
	audit     *internalaudit.Dispatcher
	metrics   *internalmetrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	ticks     <-chan time.Time
	closed    atomic.Bool
}

// Close stops the audit dispatcher after draining buffered events. Calls
// made after Close return ErrEngineNotReady.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.audit.Close(ctx)
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (m *Manager) AuditDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process metrics.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
			Sums:       map[MetricID]time.Duration{},
		}
	}
	return m.metrics.Snapshot()
}

// RetryAt reports when the provider endpoint serving rawURL stops backing off.
func (m *Manager) RetryAt(rawURL string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	return m.limiter.RetryAt(rate.Endpoint(rawURL))
}

func (m *Manager) metricInc(id MetricID) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.Inc(id)
}

func (m *Manager) ready() error {
	if m == nil || m.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// AuthUser returns a usable session for the owner's account at index (1-based,
// 0 selects the current account). A session expiring later than the configured
// safety margin is returned without any provider call; otherwise the account
// is refreshed as by [Manager.RefreshToken].
func (m *Manager) AuthUser(ctx context.Context, ownerID string, index int) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}

	rec, idx, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return failure(err), err
	}
	if m.fresh(rec) {
		m.metricInc(MetricAuthFresh)
		m.emitAudit(ctx, auditEventAuthFresh, ownerID, nil, auditFields{puuid: rec.PUUID})
		return &Result{Success: true, Fresh: true, Account: rec, Index: idx}, nil
	}
	return m.refreshRecord(ctx, ownerID, rec, idx)
}

// RefreshToken renews the session of the owner's account at index (0 selects
// the current account) regardless of its expiry. Stored cookies are tried
// first, then a retained password. Credentials are purged only when every
// attempted path ends in an authentication failure; second-factor challenges,
// rate limits and provider blocks leave them untouched.
func (m *Manager) RefreshToken(ctx context.Context, ownerID string, index int) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}

	rec, idx, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return failure(err), err
	}
	return m.refreshRecord(ctx, ownerID, rec, idx)
}

func (m *Manager) refreshRecord(ctx context.Context, ownerID string, rec *account.Record, idx int) (*Result, error) {
	if pending, ok := rec.Pending(); ok {
		err := &MFAChallengeError{Method: pending.Method, Email: pending.MaskedEmail}
		res := failure(err)
		res.Account, res.Index = rec, idx
		return res, err
	}
	if !rec.HasCredentials() {
		err := fmt.Errorf("%w: account requires login", ErrNoCredentials)
		res := failure(err)
		res.Account, res.Index = rec, idx
		return res, err
	}

	puuid := rec.PUUID
	return m.run(ctx, queue.OpCookieRedeem, func(ctx context.Context) (*Result, error) {
		return m.refresh(ctx, ownerID, puuid)
	})
}

// refresh runs inside the queue. The record is re-read because an earlier
// queued operation may already have renewed or removed it.
func (m *Manager) refresh(ctx context.Context, ownerID, puuid string) (res *Result, err error) {
	ctx, span := m.startSpan(ctx, "session.refresh", ownerID)
	defer func() { endSpan(span, res, err) }()

	rec, idx, err := m.accountByPUUID(ctx, ownerID, puuid)
	if err != nil {
		return failure(err), err
	}
	if m.fresh(rec) {
		return &Result{Success: true, Fresh: true, Account: rec, Index: idx}, nil
	}

	m.metricInc(MetricRefreshAttempt)
	start := m.now()

	var attempts []error
	type path struct {
		name string
		has  bool
		run  func(context.Context, string, string) (*exchange.Completion, error)
	}
	_, hasCookies := rec.Cookies()
	_, hasPassword := rec.Password()
	for _, p := range []path{
		{"cookies", hasCookies, m.exchanger.ReauthCookies},
		{"password", hasPassword, m.exchanger.ReauthPassword},
	} {
		if !p.has {
			continue
		}
		c, err := p.run(ctx, ownerID, puuid)
		if err == nil {
			m.metricInc(MetricRefreshSuccess)
			m.emitAudit(ctx, auditEventRefreshSuccess, ownerID, nil, auditFields{
				puuid:    puuid,
				metadata: map[string]string{"path": p.name},
			})
			res := completed(c)
			m.logOutcome(ctx, "refresh", ownerID, res, nil, start)
			return res, nil
		}
		attempts = append(attempts, err)
		if stopsFallback(err) {
			break
		}
	}

	if len(attempts) == 0 {
		err = fmt.Errorf("%w: no reauth material", ErrNoCredentials)
	} else {
		err = attempts[len(attempts)-1]
	}
	res = failure(err)
	res.Account, res.Index = rec, idx

	m.metricInc(MetricRefreshFailure)
	m.noteFailure(ctx, ownerID, puuid, err)
	m.emitAudit(ctx, auditEventRefreshFailure, ownerID, err, auditFields{puuid: puuid})

	if purgeable(attempts) {
		if perr := m.repo.DeleteCredentials(ctx, ownerID, puuid); perr != nil {
			m.logger.ErrorContext(ctx, "purge credentials failed",
				logging.Operation("refresh"),
				logging.OwnerHash(ownerID),
				logging.PUUID(puuid),
				logging.Err(perr),
			)
		} else {
			res.Purged = true
			purged := rec.Clone()
			purged.Auth = account.NewUnauthenticated()
			res.Account = &purged
			m.metricInc(MetricCredentialsPurged)
			m.emitAudit(ctx, auditEventCredentialsPurged, ownerID, err, auditFields{puuid: puuid})
		}
	}
	m.logOutcome(ctx, "refresh", ownerID, res, err, start)
	return res, err
}

// stopsFallback reports outcomes that must not be retried on another path.
func stopsFallback(err error) bool {
	return errors.Is(err, ErrMFARequired) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderBlocked)
}

// purgeable reports whether every attempted path was rejected by the provider
// as an authentication failure or dead cookies.
func purgeable(attempts []error) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, err := range attempts {
		if !errors.Is(err, ErrAuthFailure) && !errors.Is(err, ErrInvalidCookies) {
			return false
		}
	}
	return true
}

// InvalidateSession discards the session of the owner's account at index after
// a downstream caller found it expired or revoked. Retained reauth material is
// kept, so the next [Manager.AuthUser] refreshes.
func (m *Manager) InvalidateSession(ctx context.Context, ownerID string, index int) error {
	if err := m.ready(); err != nil {
		return err
	}

	rec, _, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return err
	}
	err = m.repo.Update(ctx, ownerID, rec.PUUID, func(r *account.Record) error {
		s, ok := r.Session()
		if !ok {
			return nil
		}
		if s.Reauth != nil {
			r.Auth = s.Reauth
		} else {
			r.Auth = account.NewUnauthenticated()
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.metricInc(MetricSessionInvalidated)
	m.emitAudit(ctx, auditEventSessionInvalidated, ownerID, nil, auditFields{
		puuid:    rec.PUUID,
		metadata: map[string]string{"reason": ErrStaleCredentials.Error()},
	})
	return nil
}

func (m *Manager) fresh(rec *account.Record) bool {
	s, ok := rec.Session()
	if !ok {
		return false
	}
	return s.ExpiresAt.Sub(m.now()) > m.config.Session.ExpirySafetyMargin
}

func (m *Manager) lookup(ctx context.Context, ownerID string, index int) (*account.Record, int, error) {
	o, err := m.repo.Get(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	rec, err := o.Account(index)
	if err != nil {
		return nil, 0, err
	}
	if index == 0 {
		index = o.Current
	}
	cp := rec.Clone()
	return &cp, index, nil
}

func (m *Manager) accountByPUUID(ctx context.Context, ownerID, puuid string) (*account.Record, int, error) {
	o, err := m.repo.Get(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	idx := o.IndexOf(puuid)
	if idx == 0 {
		return nil, 0, ErrAccountNotFound
	}
	cp := o.Accounts[idx-1].Clone()
	return &cp, idx, nil
}

func failure(err error) *Result {
	res := &Result{Class: Classify(err)}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		res.RetryAt = limited.RetryAt
	}
	var challenge *MFAChallengeError
	if errors.As(err, &challenge) {
		res.MFA = true
		res.Method = challenge.Method
		res.Email = challenge.Email
	}
	return res
}

func completed(c *exchange.Completion) *Result {
	rec := c.Record.Clone()
	return &Result{Success: true, Account: &rec, Index: c.Index}
}

// noteFailure counts throttling outcomes, which are reported whatever the operation.
func (m *Manager) noteFailure(ctx context.Context, ownerID, puuid string, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		m.metricInc(MetricRateLimited)
		var limited *RateLimitError
		meta := map[string]string{}
		if errors.As(err, &limited) {
			meta["endpoint"] = limited.Endpoint
			meta["retry_at"] = limited.RetryAt.UTC().Format(time.RFC3339)
		}
		m.emitAudit(ctx, auditEventRateLimited, ownerID, err, auditFields{puuid: puuid, metadata: meta})
	case errors.Is(err, ErrProviderBlocked):
		m.metricInc(MetricProviderBlocked)
		m.emitAudit(ctx, auditEventProviderBlocked, ownerID, err, auditFields{puuid: puuid})
	}
}

func (m *Manager) logOutcome(ctx context.Context, op, ownerID string, res *Result, err error, start time.Time) {
	attrs := []slog.Attr{
		logging.Operation(op),
		logging.OwnerHash(ownerID),
		logging.Outcome(res.Class.String()),
		logging.Duration(m.now().Sub(start)),
	}
	if res.Account != nil && res.Account.PUUID != "" {
		attrs = append(attrs, logging.PUUID(res.Account.PUUID))
	}
	if source := sourceFromContext(ctx); source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	level := slog.LevelInfo
	switch res.Class {
	case ClassNone, ClassMFARequired:
	case ClassRateLimited:
		attrs = append(attrs, logging.RetryAt(res.RetryAt))
		level = slog.LevelWarn
	case ClassProviderBlocked, ClassTransport, ClassStorage:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	if err != nil {
		attrs = append(attrs, logging.Err(err))
	}
	m.logger.LogAttrs(ctx, level, op+" finished", attrs...)
}

func (m *Manager) startSpan(ctx context.Context, name, ownerID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String(logging.KeyOwnerHash, logging.HashOwner(ownerID)),
	))
}

func endSpan(span trace.Span, res *Result, err error) {
	if res != nil {
		span.SetAttributes(
			attribute.Bool("session.success", res.Success),
			attribute.String("session.class", res.Class.String()),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Classify(err).String())
	}
	span.End()
}
