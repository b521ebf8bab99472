package rate

import (
	"net/http"
	"strings"
)

// Signal is the defensive classification of a provider response.
type Signal uint8

const (
	SignalNone Signal = iota
	SignalRateLimited
	SignalBlocked
)

func (s Signal) String() string {
	switch s {
	case SignalRateLimited:
		return "rate_limited"
	case SignalBlocked:
		return "blocked"
	default:
		return "none"
	}
}

// Rules describe how the provider surfaces rate limits and blocks.
type Rules struct {
	// RateLimitPathPrefix matches redirect Locations that signal a rate limit.
	RateLimitPathPrefix string
	// RateLimitErrorCode matches the "error" field of JSON bodies.
	RateLimitErrorCode string
	// BlockHeader and BlockHeaderValue identify a 403 as an origin block.
	BlockHeader      string
	BlockHeaderValue string
}

// DefaultRules returns the rules for the supported provider.
func DefaultRules() Rules {
	return Rules{
		RateLimitPathPrefix: "/auth-error?error_description=rate_limited",
		RateLimitErrorCode:  "rate_limited",
		BlockHeader:         "X-Frame-Options",
		BlockHeaderValue:    "SAMEORIGIN",
	}
}

// Classify inspects status and headers. It does not read the body.
func (r Rules) Classify(status int, header http.Header) Signal {
	switch {
	case status == http.StatusTooManyRequests:
		return SignalRateLimited
	case status == http.StatusForbidden && r.BlockHeader != "" &&
		strings.EqualFold(header.Get(r.BlockHeader), r.BlockHeaderValue):
		return SignalBlocked
	case status >= 300 && status < 400 && r.RateLimitPathPrefix != "" &&
		r.locationLimited(header.Get("Location")):
		return SignalRateLimited
	}
	return SignalNone
}

func (r Rules) locationLimited(location string) bool {
	if location == "" {
		return false
	}
	if strings.HasPrefix(location, r.RateLimitPathPrefix) {
		return true
	}
	// absolute Locations carry the path after the host
	if i := strings.Index(location, "://"); i >= 0 {
		rest := location[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return strings.HasPrefix(rest[j:], r.RateLimitPathPrefix)
		}
	}
	return false
}

// IsRateLimitCode reports whether a JSON error code signals a rate limit.
func (r Rules) IsRateLimitCode(code string) bool {
	return r.RateLimitErrorCode != "" && code == r.RateLimitErrorCode
}
