package account

import (
	"encoding/json"
	"fmt"
	"time"
)

const ownerFormatVersionCurrent = 1

type ownerWire struct {
	Version  int          `json:"v"`
	ID       string       `json:"id"`
	Current  int          `json:"current"`
	Accounts []recordWire `json:"accounts"`
}

type recordWire struct {
	PUUID         string     `json:"puuid,omitempty"`
	Auth          *stateWire `json:"auth,omitempty"`
	Username      string     `json:"username,omitempty"`
	Region        string     `json:"region,omitempty"`
	Alerts        []Alert    `json:"alerts,omitempty"`
	FailedFetches int        `json:"failedFetches,omitempty"`
	LastFetchedAt int64      `json:"lastFetchedAt,omitempty"`
}

type stateWire struct {
	Kind              string            `json:"kind"`
	AccessToken       string            `json:"accessToken,omitempty"`
	IDToken           string            `json:"idToken,omitempty"`
	EntitlementsToken string            `json:"entitlementsToken,omitempty"`
	Region            string            `json:"region,omitempty"`
	ExpiresAt         int64             `json:"expiresAt,omitempty"`
	Reauth            *stateWire        `json:"reauth,omitempty"`
	Cookies           map[string]string `json:"cookies,omitempty"`
	Method            string            `json:"method,omitempty"`
	MaskedEmail       string            `json:"email,omitempty"`
	RequestedAt       int64             `json:"requestedAt,omitempty"`
	Login             string            `json:"login,omitempty"`
	Password          string            `json:"password,omitempty"`
}

// Encode serializes an owner into the versioned storage format.
func Encode(o *Owner) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil owner", ErrCorruptRecord)
	}
	w := ownerWire{
		Version:  ownerFormatVersionCurrent,
		ID:       o.ID,
		Current:  o.Current,
		Accounts: make([]recordWire, 0, len(o.Accounts)),
	}
	for i := range o.Accounts {
		r := &o.Accounts[i]
		w.Accounts = append(w.Accounts, recordWire{
			PUUID:         r.PUUID,
			Auth:          encodeState(r.State()),
			Username:      r.Username,
			Region:        r.Region,
			Alerts:        r.Alerts,
			FailedFetches: r.FailedFetches,
			LastFetchedAt: unixMilli(r.LastFetchedAt),
		})
	}
	return json.Marshal(w)
}

// Decode parses the storage format produced by [Encode].
func Decode(data []byte) (*Owner, error) {
	var w ownerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if w.Version < 1 || w.Version > ownerFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRecord, w.Version)
	}
	o := &Owner{ID: w.ID, Current: w.Current, Accounts: make([]Record, 0, len(w.Accounts))}
	for _, rw := range w.Accounts {
		st, err := decodeState(rw.Auth)
		if err != nil {
			return nil, err
		}
		o.Accounts = append(o.Accounts, Record{
			OwnerID:       w.ID,
			PUUID:         rw.PUUID,
			Auth:          st,
			Username:      rw.Username,
			Region:        rw.Region,
			Alerts:        rw.Alerts,
			FailedFetches: rw.FailedFetches,
			LastFetchedAt: fromUnixMilli(rw.LastFetchedAt),
		})
	}
	o.clampCurrent()
	return o, nil
}

func encodeState(s AuthState) *stateWire {
	switch v := s.(type) {
	case Authenticated:
		w := &stateWire{
			Kind:              StateAuthenticated.String(),
			AccessToken:       v.AccessToken,
			IDToken:           v.IDToken,
			EntitlementsToken: v.EntitlementsToken,
			Region:            v.Region,
			ExpiresAt:         unixMilli(v.ExpiresAt),
		}
		if v.Reauth != nil {
			w.Reauth = encodeState(v.Reauth)
		}
		return w
	case AwaitingMFA:
		return &stateWire{
			Kind:        StateAwaitingMFA.String(),
			Cookies:     v.Cookies,
			Method:      v.Method,
			MaskedEmail: v.MaskedEmail,
			RequestedAt: unixMilli(v.RequestedAt),
		}
	case UsingCookies:
		return &stateWire{Kind: StateUsingCookies.String(), Cookies: v.Cookies}
	case UsingPassword:
		return &stateWire{Kind: StateUsingPassword.String(), Login: v.Login, Password: v.EncodedPassword}
	default:
		return &stateWire{Kind: StateUnauthenticated.String()}
	}
}

func decodeState(w *stateWire) (AuthState, error) {
	if w == nil {
		return Unauthenticated{}, nil
	}
	switch w.Kind {
	case StateUnauthenticated.String():
		return Unauthenticated{}, nil
	case StateAuthenticated.String():
		var reauth ReauthState
		if w.Reauth != nil {
			st, err := decodeState(w.Reauth)
			if err != nil {
				return nil, err
			}
			r, ok := st.(ReauthState)
			if !ok {
				return nil, fmt.Errorf("%w: reauth kind %q", ErrCorruptRecord, w.Reauth.Kind)
			}
			reauth = r
		}
		return Authenticated{
			AccessToken:       w.AccessToken,
			IDToken:           w.IDToken,
			EntitlementsToken: w.EntitlementsToken,
			Region:            w.Region,
			ExpiresAt:         fromUnixMilli(w.ExpiresAt),
			Reauth:            reauth,
		}, nil
	case StateAwaitingMFA.String():
		return AwaitingMFA{
			Cookies:     Cookies(w.Cookies),
			Method:      w.Method,
			MaskedEmail: w.MaskedEmail,
			RequestedAt: fromUnixMilli(w.RequestedAt),
		}, nil
	case StateUsingCookies.String():
		return UsingCookies{Cookies: Cookies(w.Cookies)}, nil
	case StateUsingPassword.String():
		return UsingPassword{Login: w.Login, EncodedPassword: w.Password}, nil
	default:
		return nil, fmt.Errorf("%w: unknown auth kind %q", ErrCorruptRecord, w.Kind)
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
