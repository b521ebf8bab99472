package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/jwt"
)

type userInfo struct {
	Sub  string `json:"sub"`
	Acct struct {
		GameName string `json:"game_name"`
		TagLine  string `json:"tag_line"`
	} `json:"acct"`
}

type entitlementsReply struct {
	Token string `json:"entitlements_token"`
}

type regionReply struct {
	Affinities struct {
		Live string `json:"live"`
	} `json:"affinities"`
}

// finish completes a session from fresh tokens: identity, entitlements and
// region lookups, then persistence. Any lookup failure aborts without writes.
// Entitlements, username and region already known for the same account are
// reused instead of fetched.
func (x *Exchanger) finish(ctx context.Context, ownerID string, ts tokenSet, cookies account.Cookies, creds *loginCreds, mode finishMode) (*Completion, error) {
	ep := x.cfg.Endpoints
	issuedAt := x.now()

	var info userInfo
	if err := x.getJSON(ctx, call{name: "userinfo", method: http.MethodGet, url: ep.UserInfoURL, bearer: ts.AccessToken}, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo without sub", ErrMalformedResponse)
	}

	var known account.Record
	if o, err := x.store.Get(ctx, ownerID); err == nil {
		if idx := o.IndexOf(info.Sub); idx > 0 {
			known = o.Accounts[idx-1]
		}
	} else if !errors.Is(err, account.ErrOwnerNotFound) {
		return nil, err
	}

	username := known.Username
	if info.Acct.GameName != "" {
		username = info.Acct.GameName + "#" + info.Acct.TagLine
	}

	var entitlements string
	if prev, ok := known.Session(); ok {
		entitlements = prev.EntitlementsToken
	}
	if entitlements == "" {
		var ent entitlementsReply
		if err := x.getJSON(ctx, call{name: "entitlements", method: http.MethodPost, url: ep.EntitlementsURL, bearer: ts.AccessToken, body: struct{}{}}, &ent); err != nil {
			return nil, err
		}
		if ent.Token == "" {
			return nil, fmt.Errorf("%w: entitlements token missing", ErrMalformedResponse)
		}
		entitlements = ent.Token
	}

	region := known.Region
	if region == "" {
		var reg regionReply
		if err := x.getJSON(ctx, call{
			name:   "region",
			method: http.MethodPut,
			url:    ep.RegionURL,
			bearer: ts.AccessToken,
			body:   map[string]string{"id_token": ts.IDToken},
		}, &reg); err != nil {
			return nil, err
		}
		if reg.Affinities.Live == "" {
			return nil, fmt.Errorf("%w: region affinity missing", ErrMalformedResponse)
		}
		region = reg.Affinities.Live
	}

	reauth, err := x.reauthMaterial(cookies, creds, mode.fromMFA)
	if err != nil {
		return nil, err
	}

	rec := account.Record{
		OwnerID:  ownerID,
		PUUID:    info.Sub,
		Username: username,
		Region:   region,
		Auth: account.NewAuthenticated(
			ts.AccessToken,
			ts.IDToken,
			entitlements,
			region,
			jwt.ExpiresAtOr(ts.AccessToken, issuedAt, ts.ExpiresIn),
			reauth,
		),
	}

	var idx int
	switch {
	case mode.fromMFA:
		idx, err = x.store.ResolvePending(ctx, ownerID, rec)
	case mode.interactive:
		if err = x.store.ClearPending(ctx, ownerID); err == nil {
			idx, err = x.store.AddOrMerge(ctx, ownerID, rec, true)
		}
	default:
		idx, err = x.store.AddOrMerge(ctx, ownerID, rec, false)
	}
	if err != nil {
		return nil, err
	}

	x.logger.DebugContext(ctx, "session established",
		logging.OwnerHash(ownerID),
		logging.PUUID(rec.PUUID),
		logging.Outcome("success"),
	)
	return &Completion{Record: rec, Index: idx}, nil
}

// reauthMaterial applies the retention policy: a sealed password when password
// retention is on and no second factor was involved, cookies otherwise.
func (x *Exchanger) reauthMaterial(cookies account.Cookies, creds *loginCreds, fromMFA bool) (account.ReauthState, error) {
	if x.cfg.Retention == RetainPassword && !fromMFA && creds != nil {
		sealed := creds.sealed
		if sealed == "" {
			var err error
			if sealed, err = x.sealer.Seal(creds.plain); err != nil {
				return nil, fmt.Errorf("seal retained password: %w", err)
			}
		}
		return account.NewUsingPassword(creds.login, sealed), nil
	}
	return account.NewUsingCookies(cookies), nil
}
