package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/internal/rate"
)

// Store is the account persistence the exchanger needs.
type Store interface {
	Get(ctx context.Context, ownerID string) (*account.Owner, error)
	AddOrMerge(ctx context.Context, ownerID string, rec account.Record, makeCurrent bool) (int, error)
	SetPending(ctx context.Context, ownerID string, mfa account.AwaitingMFA) (int, error)
	Pending(ctx context.Context, ownerID string) (account.AwaitingMFA, error)
	ResolvePending(ctx context.Context, ownerID string, rec account.Record) (int, error)
	ClearPending(ctx context.Context, ownerID string) error
}

// Sealer seals retained passwords.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(encoded string) (string, error)
}

// Deps groups what an [Exchanger] is built from.
type Deps struct {
	Config  Config
	Client  *http.Client
	Limiter *rate.Limiter
	Store   Store
	Sealer  Sealer
	Tracer  trace.Tracer
	Logger  *slog.Logger
	Now     func() time.Time
	// OnCall observes every provider call with its latency and error.
	OnCall func(step string, d time.Duration, err error)
}

// Exchanger performs credential exchanges against the provider.
type Exchanger struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	store   Store
	sealer  Sealer
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
	onCall  func(string, time.Duration, error)
}

// New validates deps and returns an [Exchanger].
func New(d Deps) (*Exchanger, error) {
	if d.Limiter == nil {
		return nil, errors.New("exchange: limiter is required")
	}
	if d.Store == nil {
		return nil, errors.New("exchange: store is required")
	}
	if d.Config.Retention == RetainPassword && d.Sealer == nil {
		return nil, errors.New("exchange: password retention requires a sealer")
	}
	x := &Exchanger{
		cfg:     d.Config,
		client:  withoutRedirects(d.Client),
		limiter: d.Limiter,
		store:   d.Store,
		sealer:  d.Sealer,
		tracer:  d.Tracer,
		logger:  logging.OrDefault(d.Logger),
		now:     d.Now,
		onCall:  d.OnCall,
	}
	if x.tracer == nil {
		x.tracer = noop.NewTracerProvider().Tracer("")
	}
	if x.now == nil {
		x.now = time.Now
	}
	return x, nil
}

// Completion is a persisted, successful exchange.
type Completion struct {
	Record account.Record
	// Index is the 1-based position of the account in the owner record.
	Index int
}

type loginCreds struct {
	login  string
	plain  string
	sealed string
}

type finishMode struct {
	fromMFA     bool
	interactive bool
}

type authResponse struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Response struct {
		Parameters struct {
			URI string `json:"uri"`
		} `json:"parameters"`
	} `json:"response"`
	Multifactor struct {
		Method string `json:"method"`
		Email  string `json:"email"`
	} `json:"multifactor"`
}

// Login runs an interactive username and password exchange. A second-factor
// challenge is persisted as the owner's pending login and reported as
// *MFAChallengeError.
func (x *Exchanger) Login(ctx context.Context, ownerID, login, password string) (*Completion, error) {
	if login == "" || password == "" {
		return nil, fmt.Errorf("%w: empty login", ErrAuthFailure)
	}
	return x.passwordLogin(ctx, ownerID, &loginCreds{login: login, plain: password}, finishMode{interactive: true})
}

// ReauthPassword renews the account's session with its retained sealed password.
func (x *Exchanger) ReauthPassword(ctx context.Context, ownerID, puuid string) (*Completion, error) {
	rec, err := x.account(ctx, ownerID, puuid)
	if err != nil {
		return nil, err
	}
	retained, ok := rec.Password()
	if !ok || x.sealer == nil {
		return nil, fmt.Errorf("%w: no retained password", ErrNoCredentials)
	}
	plain, err := x.sealer.Open(retained.EncodedPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: retained password: %v", ErrNoCredentials, err)
	}
	creds := &loginCreds{login: retained.Login, plain: plain, sealed: retained.EncodedPassword}
	return x.passwordLogin(ctx, ownerID, creds, finishMode{})
}

func (x *Exchanger) passwordLogin(ctx context.Context, ownerID string, creds *loginCreds, mode finishMode) (*Completion, error) {
	ep := x.cfg.Endpoints

	primed, err := x.do(ctx, call{
		name:   "prime_cookies",
		method: http.MethodPost,
		url:    ep.AuthURL,
		body: map[string]string{
			"client_id":     ep.ClientID,
			"nonce":         "1",
			"redirect_uri":  ep.RedirectURI,
			"response_type": "token id_token",
			"scope":         "account openid",
		},
	})
	if err != nil {
		return nil, err
	}
	if !primed.ok() {
		return nil, fmt.Errorf("%w: prime_cookies status %d", ErrTransport, primed.status)
	}
	cookies := account.Cookies(nil).With(primed.cookies)

	r, err := x.do(ctx, call{
		name:    "submit_credentials",
		method:  http.MethodPut,
		url:     ep.AuthURL,
		cookies: cookies,
		body: map[string]any{
			"type":     "auth",
			"username": creds.login,
			"password": creds.plain,
			"remember": true,
			"language": "en_US",
		},
	})
	if err != nil {
		return nil, err
	}
	return x.handleAuthResponse(ctx, ownerID, r, cookies.With(r.cookies), creds, mode)
}

// SubmitMFA completes the owner's pending login with a second-factor code.
// A wrong code returns ErrMFAAttemptFailed and keeps the challenge pending.
func (x *Exchanger) SubmitMFA(ctx context.Context, ownerID, code string) (*Completion, error) {
	pending, err := x.store.Pending(ctx, ownerID)
	if err != nil {
		if errors.Is(err, account.ErrNoPendingLogin) {
			return nil, fmt.Errorf("%w: no pending login", ErrNoCredentials)
		}
		return nil, err
	}

	r, err := x.do(ctx, call{
		name:    "submit_mfa",
		method:  http.MethodPut,
		url:     x.cfg.Endpoints.AuthURL,
		cookies: pending.Cookies,
		body: map[string]any{
			"type":           "multifactor",
			"code":           code,
			"rememberDevice": true,
		},
	})
	if err != nil {
		return nil, err
	}
	return x.handleAuthResponse(ctx, ownerID, r, pending.Cookies.With(r.cookies), nil, finishMode{fromMFA: true, interactive: true})
}

func (x *Exchanger) handleAuthResponse(ctx context.Context, ownerID string, r *reply, cookies account.Cookies, creds *loginCreds, mode finishMode) (*Completion, error) {
	var ar authResponse
	if err := json.Unmarshal(r.body, &ar); err != nil {
		if !r.ok() {
			return nil, fmt.Errorf("%w: auth status %d", ErrTransport, r.status)
		}
		return nil, fmt.Errorf("%w: auth body: %v", ErrMalformedResponse, err)
	}

	if ar.Error != "" {
		if err := x.rateLimitCode(r, ar.Error); err != nil {
			return nil, err
		}
		switch ar.Error {
		case "auth_failure":
			return nil, ErrAuthFailure
		case "multifactor_attempt_failed":
			return nil, ErrMFAAttemptFailed
		default:
			return nil, fmt.Errorf("%w: %s", ErrProviderError, ar.Error)
		}
	}

	switch ar.Type {
	case "response":
		ts, err := parseTokenURI(ar.Response.Parameters.URI)
		if err != nil {
			return nil, err
		}
		return x.finish(ctx, ownerID, ts, cookies, creds, mode)
	case "multifactor":
		challenge := account.AwaitingMFA{
			Cookies:     cookies,
			Method:      ar.Multifactor.Method,
			MaskedEmail: ar.Multifactor.Email,
			RequestedAt: x.now(),
		}
		if _, err := x.store.SetPending(ctx, ownerID, challenge); err != nil {
			return nil, err
		}
		x.logger.InfoContext(ctx, "provider requested second factor",
			logging.OwnerHash(ownerID),
			slog.String("method", ar.Multifactor.Method),
		)
		return nil, &MFAChallengeError{Method: ar.Multifactor.Method, Email: ar.Multifactor.Email}
	case "error":
		return nil, fmt.Errorf("%w: error response without code", ErrProviderError)
	default:
		return nil, fmt.Errorf("%w: response type %q", ErrMalformedResponse, ar.Type)
	}
}

// ReauthCookies renews the account's session by replaying its stored cookies
// against the authorize endpoint. Rejected cookies return ErrInvalidCookies
// and leave the stored record untouched.
func (x *Exchanger) ReauthCookies(ctx context.Context, ownerID, puuid string) (*Completion, error) {
	rec, err := x.account(ctx, ownerID, puuid)
	if err != nil {
		return nil, err
	}
	cookies, ok := rec.Cookies()
	if !ok {
		return nil, fmt.Errorf("%w: no stored cookies", ErrNoCredentials)
	}

	r, err := x.do(ctx, call{
		name:    "cookie_reauth",
		method:  http.MethodGet,
		url:     x.cfg.Endpoints.AuthorizeURL,
		cookies: cookies,
	})
	if err != nil {
		return nil, err
	}
	location := r.header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: cookie_reauth status %d without location", ErrMalformedResponse, r.status)
	}
	if x.isLoginRedirect(location) {
		return nil, ErrInvalidCookies
	}
	ts, err := parseTokenURI(location)
	if err != nil {
		return nil, err
	}
	return x.finish(ctx, ownerID, ts, cookies.With(r.cookies), nil, finishMode{})
}

func (x *Exchanger) isLoginRedirect(location string) bool {
	prefix := x.cfg.Endpoints.LoginPathPrefix
	if prefix == "" {
		return false
	}
	if strings.HasPrefix(location, prefix) {
		return true
	}
	if i := strings.Index(location, "://"); i >= 0 {
		rest := location[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return strings.HasPrefix(rest[j:], prefix)
		}
	}
	return false
}

func (x *Exchanger) account(ctx context.Context, ownerID, puuid string) (*account.Record, error) {
	o, err := x.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	idx := o.IndexOf(puuid)
	if idx == 0 {
		return nil, account.ErrAccountNotFound
	}
	rec := o.Accounts[idx-1].Clone()
	return &rec, nil
}
