package exchange

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type tokenSet struct {
	AccessToken string
	IDToken     string
	ExpiresIn   time.Duration
}

// parseTokenURI extracts tokens from a redirect URI. Parameters are read from
// the fragment, or from the query when the fragment is empty.
func parseTokenURI(raw string) (tokenSet, error) {
	if raw == "" {
		return tokenSet{}, fmt.Errorf("%w: empty redirect uri", ErrMalformedResponse)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return tokenSet{}, fmt.Errorf("%w: redirect uri: %v", ErrMalformedResponse, err)
	}
	params := u.EscapedFragment()
	if params == "" {
		params = u.RawQuery
	}
	values, err := url.ParseQuery(params)
	if err != nil {
		return tokenSet{}, fmt.Errorf("%w: redirect parameters: %v", ErrMalformedResponse, err)
	}

	ts := tokenSet{
		AccessToken: values.Get("access_token"),
		IDToken:     values.Get("id_token"),
	}
	if ts.AccessToken == "" {
		return tokenSet{}, fmt.Errorf("%w: access_token missing", ErrMalformedResponse)
	}
	if ts.IDToken == "" {
		return tokenSet{}, fmt.Errorf("%w: id_token missing", ErrMalformedResponse)
	}
	if raw := values.Get("expires_in"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			return tokenSet{}, fmt.Errorf("%w: expires_in %q", ErrMalformedResponse, raw)
		}
		ts.ExpiresIn = time.Duration(secs) * time.Second
	}
	return ts, nil
}
