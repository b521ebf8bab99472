package account

import (
	"sort"
	"strings"
	"time"
)

// StateKind tags the active [AuthState] variant.
type StateKind uint8

const (
	StateUnauthenticated StateKind = iota
	StateAuthenticated
	StateAwaitingMFA
	StateUsingCookies
	StateUsingPassword
)

func (k StateKind) String() string {
	switch k {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateAwaitingMFA:
		return "awaiting_mfa"
	case StateUsingCookies:
		return "using_cookies"
	case StateUsingPassword:
		return "using_password"
	default:
		return "unknown"
	}
}

// AuthState is the credential state of one account. Exactly one variant is
// active at a time; the set of variants is closed.
type AuthState interface {
	Kind() StateKind
	isAuthState()
}

// ReauthState is the subset of [AuthState] variants that can re-establish a
// session without user interaction.
type ReauthState interface {
	AuthState
	isReauth()
}

// Unauthenticated holds no credentials. The account must be logged in again.
type Unauthenticated struct{}

// Authenticated is a live provider session.
type Authenticated struct {
	AccessToken       string
	IDToken           string
	EntitlementsToken string
	Region            string
	ExpiresAt         time.Time

	// Reauth is the material the session can be renewed with, or nil.
	Reauth ReauthState
}

// AwaitingMFA is a login paused on a provider-issued second factor.
type AwaitingMFA struct {
	Cookies     Cookies
	Method      string
	MaskedEmail string
	RequestedAt time.Time
}

// UsingCookies renews sessions by replaying provider cookies.
type UsingCookies struct {
	Cookies Cookies
}

// UsingPassword renews sessions by resubmitting a retained login.
// EncodedPassword is always a sealed value, never plaintext.
type UsingPassword struct {
	Login           string
	EncodedPassword string
}

func (Unauthenticated) Kind() StateKind { return StateUnauthenticated }
func (Authenticated) Kind() StateKind   { return StateAuthenticated }
func (AwaitingMFA) Kind() StateKind     { return StateAwaitingMFA }
func (UsingCookies) Kind() StateKind    { return StateUsingCookies }
func (UsingPassword) Kind() StateKind   { return StateUsingPassword }

func (Unauthenticated) isAuthState() {}
func (Authenticated) isAuthState()   {}
func (AwaitingMFA) isAuthState()     {}
func (UsingCookies) isAuthState()    {}
func (UsingPassword) isAuthState()   {}

func (UsingCookies) isReauth()  {}
func (UsingPassword) isReauth() {}

// NewUnauthenticated returns the empty credential state.
func NewUnauthenticated() AuthState { return Unauthenticated{} }

// NewAuthenticated returns a live session state.
func NewAuthenticated(accessToken, idToken, entitlementsToken, region string, expiresAt time.Time, reauth ReauthState) AuthState {
	return Authenticated{
		AccessToken:       accessToken,
		IDToken:           idToken,
		EntitlementsToken: entitlementsToken,
		Region:            region,
		ExpiresAt:         expiresAt,
		Reauth:            reauth,
	}
}

// NewAwaitingMFA returns a paused-login state.
func NewAwaitingMFA(cookies Cookies, method, maskedEmail string, requestedAt time.Time) AuthState {
	return AwaitingMFA{
		Cookies:     cookies.Clone(),
		Method:      method,
		MaskedEmail: maskedEmail,
		RequestedAt: requestedAt,
	}
}

// NewUsingCookies returns cookie-based reauth material.
func NewUsingCookies(cookies Cookies) ReauthState {
	return UsingCookies{Cookies: cookies.Clone()}
}

// NewUsingPassword returns password-based reauth material. encodedPassword must be sealed.
func NewUsingPassword(login, encodedPassword string) ReauthState {
	return UsingPassword{Login: login, EncodedPassword: encodedPassword}
}

// Cookies is a name to value map of provider cookies.
type Cookies map[string]string

// Clone returns an independent copy.
func (c Cookies) Clone() Cookies {
	if c == nil {
		return nil
	}
	out := make(Cookies, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of c overlaid with next. Empty values delete the cookie.
func (c Cookies) With(next Cookies) Cookies {
	out := c.Clone()
	if out == nil {
		out = Cookies{}
	}
	for k, v := range next {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Header renders the cookies as a Cookie request header value in stable order.
func (c Cookies) Header() string {
	if len(c) == 0 {
		return ""
	}
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c[k])
	}
	return b.String()
}

// Alert is an owner-specific subscription attached to an account. Its contents
// are opaque to this package; equality is by value.
type Alert struct {
	ID      string
	Channel string
}

// Record is one linked provider account.
type Record struct {
	OwnerID       string
	PUUID         string
	Auth          AuthState
	Username      string
	Region        string
	Alerts        []Alert
	FailedFetches int
	LastFetchedAt time.Time
}

// State returns the active auth state, treating nil as Unauthenticated.
func (r *Record) State() AuthState {
	if r == nil || r.Auth == nil {
		return Unauthenticated{}
	}
	return r.Auth
}

// Session returns the live session, if any.
func (r *Record) Session() (Authenticated, bool) {
	s, ok := r.State().(Authenticated)
	return s, ok
}

// Pending returns the paused MFA login, if any.
func (r *Record) Pending() (AwaitingMFA, bool) {
	s, ok := r.State().(AwaitingMFA)
	return s, ok
}

// Reauth returns the retained reauth material, whether the account currently
// holds a session or only the material itself.
func (r *Record) Reauth() ReauthState {
	switch s := r.State().(type) {
	case Authenticated:
		return s.Reauth
	case UsingCookies:
		return s
	case UsingPassword:
		return s
	default:
		return nil
	}
}

// Cookies returns the retained provider cookies.
func (r *Record) Cookies() (Cookies, bool) {
	if c, ok := r.Reauth().(UsingCookies); ok && len(c.Cookies) > 0 {
		return c.Cookies, true
	}
	return nil, false
}

// Password returns the retained login.
func (r *Record) Password() (UsingPassword, bool) {
	p, ok := r.Reauth().(UsingPassword)
	if !ok || p.Login == "" || p.EncodedPassword == "" {
		return UsingPassword{}, false
	}
	return p, true
}

// HasCredentials reports whether the account holds anything that can produce a session.
func (r *Record) HasCredentials() bool {
	return r.State().Kind() != StateUnauthenticated
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Auth = cloneState(r.Auth)
	if r.Alerts != nil {
		out.Alerts = append([]Alert(nil), r.Alerts...)
	}
	return out
}

func cloneState(s AuthState) AuthState {
	switch v := s.(type) {
	case Authenticated:
		if v.Reauth != nil {
			v.Reauth = cloneState(v.Reauth).(ReauthState)
		}
		return v
	case AwaitingMFA:
		v.Cookies = v.Cookies.Clone()
		return v
	case UsingCookies:
		v.Cookies = v.Cookies.Clone()
		return v
	default:
		return s
	}
}

// Owner is the persisted set of accounts for one caller.
type Owner struct {
	ID       string
	Accounts []Record
	// Current is a 1-based index into Accounts.
	Current int
}

// Clone returns a deep copy.
func (o *Owner) Clone() *Owner {
	if o == nil {
		return nil
	}
	out := &Owner{ID: o.ID, Current: o.Current, Accounts: make([]Record, len(o.Accounts))}
	for i := range o.Accounts {
		out.Accounts[i] = o.Accounts[i].Clone()
	}
	return out
}

// Account returns the account at a 1-based index; 0 selects the current account.
func (o *Owner) Account(index int) (*Record, error) {
	if o == nil || len(o.Accounts) == 0 {
		return nil, ErrAccountNotFound
	}
	if index == 0 {
		index = o.Current
	}
	if index < 1 || index > len(o.Accounts) {
		return nil, ErrAccountIndex
	}
	return &o.Accounts[index-1], nil
}

// IndexOf returns the 1-based index of the account with puuid, or 0.
func (o *Owner) IndexOf(puuid string) int {
	if o == nil || puuid == "" {
		return 0
	}
	for i := range o.Accounts {
		if o.Accounts[i].PUUID == puuid {
			return i + 1
		}
	}
	return 0
}

// Linked returns the number of accounts with a known puuid. The MFA
// placeholder is not counted.
func (o *Owner) Linked() int {
	if o == nil {
		return 0
	}
	n := 0
	for i := range o.Accounts {
		if o.Accounts[i].PUUID != "" {
			n++
		}
	}
	return n
}

// PendingIndex returns the 1-based index of the MFA placeholder, or 0.
func (o *Owner) PendingIndex() int {
	if o == nil {
		return 0
	}
	for i := range o.Accounts {
		if _, ok := o.Accounts[i].Pending(); ok && o.Accounts[i].PUUID == "" {
			return i + 1
		}
	}
	return 0
}

func (o *Owner) clampCurrent() {
	switch {
	case len(o.Accounts) == 0:
		o.Current = 0
	case o.Current < 1:
		o.Current = 1
	case o.Current > len(o.Accounts):
		o.Current = len(o.Accounts)
	}
}
