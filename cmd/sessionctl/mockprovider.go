package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

const (
	mockAuthPath         = "/api/v1/authorization"
	mockAuthorizePath    = "/authorize"
	mockUserInfoPath     = "/userinfo"
	mockEntitlementsPath = "/entitlements"
	mockRegionPath       = "/region"

	mockSessionCookie = "ssid"
	mockTokenPrefix   = "tok-"

	// MockMFAPassword makes the mock provider demand a second factor.
	MockMFAPassword = "mfa"
	// MockMFACode is the only second-factor code the mock accepts.
	MockMFACode = "000000"
	// MockBadPassword is always rejected.
	MockBadPassword = "wrong"
)

// mockProvider imitates the upstream provider. Logins succeed for any
// username; the username doubles as the account identity.
type mockProvider struct {
	latency time.Duration
	calls   atomic.Int64
}

func newMockProvider(latency time.Duration) *mockProvider {
	return &mockProvider{latency: latency}
}

func (p *mockProvider) Calls() int64 { return p.calls.Load() }

func (p *mockProvider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+mockAuthPath, p.prime)
	mux.HandleFunc("PUT "+mockAuthPath, p.submit)
	mux.HandleFunc("GET "+mockAuthorizePath, p.authorize)
	mux.HandleFunc("GET "+mockUserInfoPath, p.userInfo)
	mux.HandleFunc("POST "+mockEntitlementsPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"entitlements_token": "mock-entitlements"})
	})
	mux.HandleFunc("PUT "+mockRegionPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"affinities": map[string]string{"live": "eu"}})
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		if p.latency > 0 {
			select {
			case <-time.After(p.latency):
			case <-r.Context().Done():
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

func (p *mockProvider) prime(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "asid", Value: "primed"})
	w.WriteHeader(http.StatusOK)
}

func (p *mockProvider) submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type     string `json:"type"`
		Username string `json:"username"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch body.Type {
	case "multifactor":
		if body.Code != MockMFACode {
			writeJSON(w, http.StatusOK, map[string]string{"error": "multifactor_attempt_failed"})
			return
		}
		user := "mfa-user"
		if c, err := r.Cookie(mockSessionCookie); err == nil {
			user = c.Value
		}
		p.grant(w, user)
	default:
		switch body.Password {
		case MockBadPassword:
			writeJSON(w, http.StatusOK, map[string]string{"error": "auth_failure"})
		case MockMFAPassword:
			http.SetCookie(w, &http.Cookie{Name: mockSessionCookie, Value: body.Username})
			writeJSON(w, http.StatusOK, map[string]any{
				"type":        "multifactor",
				"multifactor": map[string]string{"method": "email", "email": "p***@example.com"},
			})
		default:
			p.grant(w, body.Username)
		}
	}
}

func (p *mockProvider) grant(w http.ResponseWriter, user string) {
	http.SetCookie(w, &http.Cookie{Name: mockSessionCookie, Value: user})
	writeJSON(w, http.StatusOK, map[string]any{
		"type": "response",
		"response": map[string]any{"parameters": map[string]string{
			"uri": tokenURI(user),
		}},
	})
}

func (p *mockProvider) authorize(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(mockSessionCookie)
	if err != nil || c.Value == "" {
		w.Header().Set("Location", "https://auth.example.test/login")
		w.WriteHeader(http.StatusSeeOther)
		return
	}
	w.Header().Set("Location", tokenURI(c.Value))
	w.WriteHeader(http.StatusSeeOther)
}

func (p *mockProvider) userInfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, ok := strings.CutPrefix(token, mockTokenPrefix)
	if !ok || user == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":  "puuid-" + user,
		"acct": map[string]string{"game_name": user, "tag_line": "MOCK"},
	})
}

func tokenURI(user string) string {
	v := url.Values{}
	v.Set("access_token", mockTokenPrefix+user)
	v.Set("id_token", "id-"+user)
	v.Set("expires_in", "3600")
	return "https://playvalorant.com/opt_in#" + v.Encode()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
