// Package rate tracks provider rate-limit backoff deadlines per endpoint host
// and classifies provider responses as rate limited or blocked.
//
// # Deadline semantics
//
// A deadline is stored per host and evicted lazily: the first check at or
// after retryAt removes it. Retry-After is honored when it parses (delta
// seconds or HTTP date), plus a safety margin, clamped to a ceiling. A
// missing or unparseable header falls back to the default backoff; an
// explicit "0" waits only the safety margin.
//
// # What this package must NOT do
//
//   - Issue network calls; callers hand it responses after the fact.
//   - Coordinate across processes. The table is in-memory and per instance.
//   - Record anything for provider blocks; a block flags the caller's origin,
//     not the endpoint's budget.
package rate
