package goSession

import (
	"errors"
	"net/url"
	"time"

	"github.com/MrEthical07/goSession/internal/exchange"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/password"
)

// Config holds every recognized option of a [Manager].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Provider    ProviderConfig
	Queue       QueueConfig
	RateLimit   RateLimitConfig
	Session     SessionConfig
	Credentials CredentialsConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig describes the upstream authentication provider.
type ProviderConfig struct {
	AuthURL         string
	AuthorizeURL    string
	UserInfoURL     string
	EntitlementsURL string
	RegionURL       string
	ClientID        string
	RedirectURI     string
	UserAgent       string

	// LoginPathPrefix marks a cookie reauth redirect as rejected cookies.
	LoginPathPrefix string
	// RateLimitPathPrefix marks a redirect as rate limited.
	RateLimitPathPrefix string
	// RateLimitErrorCode marks a JSON error body as rate limited.
	RateLimitErrorCode string
	// BlockHeader and BlockHeaderValue mark a 403 as a provider block.
	BlockHeader      string
	BlockHeaderValue string
}

/*
====================================
QUEUE CONFIG
====================================
*/

// QueueConfig controls serialization of credential exchanges.
//
// When Enabled is false every exchange runs inline on the caller's goroutine,
// still one at a time.
type QueueConfig struct {
	Enabled  bool
	Interval time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls per-endpoint backoff after provider throttling.
type RateLimitConfig struct {
	// DefaultBackoff applies when Retry-After is absent or unparseable.
	DefaultBackoff time.Duration
	// MaxBackoff caps any Retry-After value.
	MaxBackoff time.Duration
	// SafetyMargin is added to explicit Retry-After values.
	SafetyMargin time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls account storage and freshness.
type SessionConfig struct {
	// ExpirySafetyMargin is how long before expiry a session counts as stale.
	ExpirySafetyMargin  time.Duration
	MaxAccountsPerOwner int
	RedisPrefix         string
	// StorageDir selects the file backend when no Redis client or backend is supplied.
	StorageDir string
}

/*
====================================
CREDENTIALS CONFIG
====================================
*/

// Retention selects which reauth material is kept after a successful exchange.
type Retention = exchange.Retention

const (
	// RetainCookies keeps provider cookies only.
	RetainCookies = exchange.RetainCookies
	// RetainPassword keeps the login and a sealed password when no second factor is involved.
	RetainPassword = exchange.RetainPassword
)

// CredentialsConfig controls credential retention.
type CredentialsConfig struct {
	Retention Retention
	// SealKey encrypts retained passwords. Required with RetainPassword.
	SealKey []byte
	// Seal tunes the key derivation of sealed passwords.
	Seal password.Config
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls asynchronous audit event dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a configuration targeting the production provider.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	ep := exchange.DefaultEndpoints()
	rules := rate.DefaultRules()
	limits := rate.DefaultConfig()
	return Config{
		Provider: ProviderConfig{
			AuthURL:             ep.AuthURL,
			AuthorizeURL:        ep.AuthorizeURL,
			UserInfoURL:         ep.UserInfoURL,
			EntitlementsURL:     ep.EntitlementsURL,
			RegionURL:           ep.RegionURL,
			ClientID:            ep.ClientID,
			RedirectURI:         ep.RedirectURI,
			UserAgent:           ep.UserAgent,
			LoginPathPrefix:     ep.LoginPathPrefix,
			RateLimitPathPrefix: rules.RateLimitPathPrefix,
			RateLimitErrorCode:  rules.RateLimitErrorCode,
			BlockHeader:         rules.BlockHeader,
			BlockHeaderValue:    rules.BlockHeaderValue,
		},
		Queue: QueueConfig{
			Enabled:  true,
			Interval: 100 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			DefaultBackoff: limits.DefaultBackoff,
			MaxBackoff:     limits.MaxBackoff,
			SafetyMargin:   limits.SafetyMargin,
		},
		Session: SessionConfig{
			ExpirySafetyMargin:  10 * time.Second,
			MaxAccountsPerOwner: 5,
			RedisPrefix:         "acct",
		},
		Credentials: CredentialsConfig{
			Retention: RetainCookies,
			Seal:      password.DefaultConfig(),
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Credentials.SealKey = cloneBytes(cfg.Credentials.SealKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Config) endpoints() exchange.Endpoints {
	p := c.Provider
	return exchange.Endpoints{
		AuthURL:         p.AuthURL,
		AuthorizeURL:    p.AuthorizeURL,
		UserInfoURL:     p.UserInfoURL,
		EntitlementsURL: p.EntitlementsURL,
		RegionURL:       p.RegionURL,
		ClientID:        p.ClientID,
		RedirectURI:     p.RedirectURI,
		UserAgent:       p.UserAgent,
		LoginPathPrefix: p.LoginPathPrefix,
	}
}

func (c *Config) rateConfig() rate.Config {
	return rate.Config{
		DefaultBackoff: c.RateLimit.DefaultBackoff,
		MaxBackoff:     c.RateLimit.MaxBackoff,
		SafetyMargin:   c.RateLimit.SafetyMargin,
		Rules: rate.Rules{
			RateLimitPathPrefix: c.Provider.RateLimitPathPrefix,
			RateLimitErrorCode:  c.Provider.RateLimitErrorCode,
			BlockHeader:         c.Provider.BlockHeader,
			BlockHeaderValue:    c.Provider.BlockHeaderValue,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid option, or nil.
func (c *Config) Validate() error {
	// Provider
	for _, f := range []struct{ name, raw string }{
		{"AuthURL", c.Provider.AuthURL},
		{"AuthorizeURL", c.Provider.AuthorizeURL},
		{"UserInfoURL", c.Provider.UserInfoURL},
		{"EntitlementsURL", c.Provider.EntitlementsURL},
		{"RegionURL", c.Provider.RegionURL},
	} {
		u, err := url.Parse(f.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Provider " + f.name + " must be an absolute URL")
		}
	}
	if c.Provider.ClientID == "" {
		return errors.New("Provider ClientID must be set")
	}
	if (c.Provider.BlockHeader == "") != (c.Provider.BlockHeaderValue == "") {
		return errors.New("Provider BlockHeader and BlockHeaderValue must be set together")
	}

	// Queue
	if c.Queue.Enabled && c.Queue.Interval <= 0 {
		return errors.New("Queue Interval must be > 0 when Enabled is true")
	}

	// Rate limit
	if c.RateLimit.DefaultBackoff <= 0 {
		return errors.New("RateLimit DefaultBackoff must be > 0")
	}
	if c.RateLimit.MaxBackoff < c.RateLimit.DefaultBackoff {
		return errors.New("RateLimit MaxBackoff must be >= DefaultBackoff")
	}
	if c.RateLimit.SafetyMargin < 0 {
		return errors.New("RateLimit SafetyMargin must be >= 0")
	}

	// Session
	if c.Session.ExpirySafetyMargin < 0 {
		return errors.New("Session ExpirySafetyMargin must be >= 0")
	}
	if c.Session.MaxAccountsPerOwner <= 0 {
		return errors.New("Session MaxAccountsPerOwner must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}

	// Credentials
	switch c.Credentials.Retention {
	case RetainCookies:
	case RetainPassword:
		if len(c.Credentials.SealKey) < 16 {
			return errors.New("Credentials SealKey must be >= 16 bytes when retaining passwords")
		}
	default:
		return errors.New("unsupported Credentials Retention")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Enabled is true")
	}
	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a valid but questionable configuration choice.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint returns warnings for settings that validate but are likely mistakes.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Queue.Enabled {
		add("queue_disabled", "exchanges run inline; bursts reach the provider unpaced")
	}
	if c.Queue.Enabled && c.Queue.Interval < 20*time.Millisecond {
		add("queue_interval_short", "queue interval below 20ms barely paces provider traffic")
	}
	if c.RateLimit.SafetyMargin == 0 {
		add("rate_limit_no_margin", "retries may land exactly on the provider's Retry-After boundary")
	}
	if c.RateLimit.MaxBackoff > time.Hour {
		add("rate_limit_ceiling_long", "backoff ceiling above one hour can stall all logins")
	}
	if c.Session.ExpirySafetyMargin == 0 {
		add("expiry_margin_zero", "sessions may be handed out at the instant they expire")
	}
	if c.Credentials.Retention == RetainPassword {
		add("password_retained", "sealed passwords are stored; protect SealKey and the account store")
	}
	if c.Provider.BlockHeader == "" {
		add("block_detection_disabled", "provider blocks are reported as transport errors")
	}
	if c.Audit.Enabled && !c.Audit.DropIfFull {
		add("audit_blocking", "audit emission blocks callers when the buffer is full")
	}
	return ws
}
