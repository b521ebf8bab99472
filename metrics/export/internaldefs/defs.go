package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one counter.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricAuthFresh, Name: "gosession_auth_fresh_total", Help: "AuthUser calls served from a stored session."},
	{ID: goSession.MetricRefreshAttempt, Name: "gosession_refresh_attempt_total", Help: "Session refreshes that reached the provider."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful session refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed session refreshes."},
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful interactive logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Failed interactive logins."},
	{ID: goSession.MetricMFARequired, Name: "gosession_mfa_required_total", Help: "Logins paused on a second factor."},
	{ID: goSession.MetricMFASuccess, Name: "gosession_mfa_success_total", Help: "Second-factor submissions that completed a login."},
	{ID: goSession.MetricMFAAttemptFailed, Name: "gosession_mfa_attempt_failed_total", Help: "Rejected second-factor codes."},
	{ID: goSession.MetricRateLimited, Name: "gosession_rate_limited_total", Help: "Operations stopped by provider rate limiting."},
	{ID: goSession.MetricProviderBlocked, Name: "gosession_provider_blocked_total", Help: "Operations stopped by a provider origin block."},
	{ID: goSession.MetricCredentialsPurged, Name: "gosession_credentials_purged_total", Help: "Accounts whose credentials were deleted."},
	{ID: goSession.MetricSessionInvalidated, Name: "gosession_session_invalidated_total", Help: "Sessions discarded as stale."},
	{ID: goSession.MetricQueueEnqueued, Name: "gosession_queue_enqueued_total", Help: "Operations added to the auth queue."},
	{ID: goSession.MetricQueueProcessed, Name: "gosession_queue_processed_total", Help: "Operations executed by the auth queue, queued or inline."},
	{ID: goSession.MetricQueuePanicked, Name: "gosession_queue_panicked_total", Help: "Queued operations that panicked."},
	{ID: goSession.MetricQueueResultConsumed, Name: "gosession_queue_result_consumed_total", Help: "Queued outcomes read by callers."},
	{ID: goSession.MetricAccountDeleted, Name: "gosession_account_deleted_total", Help: "Linked accounts deleted."},
	{ID: goSession.MetricOwnerDeleted, Name: "gosession_owner_deleted_total", Help: "Owner records deleted."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricExchangeLatency, Name: "gosession_provider_call_latency_seconds", Help: "Latency of individual provider calls."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const AuditDroppedName = "gosession_audit_dropped_total"

// BucketCount is the number of histogram buckets, including +Inf.
const BucketCount = 8

// HistogramBounds are the upper bounds in seconds, matching the in-process buckets.
var HistogramBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// NormalizeBuckets pads or truncates raw to BucketCount buckets.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
