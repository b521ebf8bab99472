package rate

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds backoff tuning parameters.
type Config struct {
	DefaultBackoff time.Duration
	MaxBackoff     time.Duration
	SafetyMargin   time.Duration
	Rules          Rules
}

// DefaultConfig returns a 60s default backoff, a 10m ceiling and a 1s margin.
func DefaultConfig() Config {
	return Config{
		DefaultBackoff: 60 * time.Second,
		MaxBackoff:     10 * time.Minute,
		SafetyMargin:   time.Second,
		Rules:          DefaultRules(),
	}
}

// Verdict is the result of recording a response.
type Verdict struct {
	Signal  Signal
	RetryAt time.Time
}

// Limiter is the per-process table of endpoint backoff deadlines.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	now     func() time.Time
	entries map[string]time.Time
}

// New creates a [Limiter]. A nil clock uses time.Now.
func New(cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		cfg:     cfg,
		now:     now,
		entries: make(map[string]time.Time),
	}
}

// Rules returns the classification rules in use.
func (l *Limiter) Rules() Rules { return l.cfg.Rules }

// Endpoint returns the table key for a URL: its host, or the input unchanged
// when it does not parse as an absolute URL.
func Endpoint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Host)
}

// RetryAt returns the endpoint's deadline while it is still in the future.
// A deadline that has elapsed is evicted.
func (l *Limiter) RetryAt(endpoint string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	retryAt, ok := l.entries[endpoint]
	if !ok {
		return time.Time{}, false
	}
	if !l.now().Before(retryAt) {
		delete(l.entries, endpoint)
		return time.Time{}, false
	}
	return retryAt, true
}

// Check returns a *LimitedError while endpoint is backing off.
func (l *Limiter) Check(endpoint string) error {
	if retryAt, ok := l.RetryAt(endpoint); ok {
		return &LimitedError{Endpoint: endpoint, RetryAt: retryAt}
	}
	return nil
}

// Record classifies a response and stores a deadline when it is rate limited.
func (l *Limiter) Record(endpoint string, resp *http.Response) Verdict {
	if resp == nil {
		return Verdict{}
	}
	sig := l.cfg.Rules.Classify(resp.StatusCode, resp.Header)
	if sig != SignalRateLimited {
		return Verdict{Signal: sig}
	}
	return Verdict{Signal: sig, RetryAt: l.set(endpoint, resp.Header.Get("Retry-After"))}
}

// RecordCode stores a deadline when a JSON error code signals a rate limit.
func (l *Limiter) RecordCode(endpoint string, header http.Header, code string) Verdict {
	if !l.cfg.Rules.IsRateLimitCode(code) {
		return Verdict{}
	}
	return Verdict{Signal: SignalRateLimited, RetryAt: l.set(endpoint, header.Get("Retry-After"))}
}

func (l *Limiter) set(endpoint, retryAfter string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	retryAt := now.Add(l.backoff(retryAfter, now))
	l.entries[endpoint] = retryAt
	return retryAt
}

func (l *Limiter) backoff(raw string, now time.Time) time.Duration {
	wait, ok := parseRetryAfter(raw, now)
	if !ok {
		wait = l.cfg.DefaultBackoff
	} else {
		wait += l.cfg.SafetyMargin
	}
	if l.cfg.MaxBackoff > 0 && wait > l.cfg.MaxBackoff {
		wait = l.cfg.MaxBackoff
	}
	return wait
}

func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		if at.After(now) {
			return at.Sub(now), true
		}
		return 0, true
	}
	return 0, false
}

// Len returns the number of stored deadlines, including ones not yet evicted.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
