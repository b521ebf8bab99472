package goSession

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/password"
)

const (
	routePrime     = "POST /api/v1/authorization"
	routeSubmit    = "PUT /api/v1/authorization"
	routeAuthorize = "GET /authorize"
	routeUserInfo  = "GET /userinfo"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type handler = func(http.ResponseWriter, *http.Request)

// provider scripts upstream routes. Each call pops the next handler; the last repeats.
type provider struct {
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string][]handler
	calls  map[string]int
}

func newProvider(t testing.TB) *provider {
	t.Helper()
	p := &provider{routes: map[string][]handler{}, calls: map[string]int{}}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)

	p.on(routePrime, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ssid", Value: "cookie-1"})
		w.WriteHeader(http.StatusOK)
	})
	p.on(routeUserInfo, reply(http.StatusOK, `{"sub":"puuid-1","acct":{"game_name":"Player","tag_line":"EUW"}}`))
	p.on("POST /entitlements", reply(http.StatusOK, `{"entitlements_token":"ENT"}`))
	p.on("PUT /region", reply(http.StatusOK, `{"affinities":{"live":"eu"}}`))
	p.on(routeSubmit, reply(http.StatusOK, tokens("AAA", "BBB")))
	p.on(routeAuthorize, redirect("https://playvalorant.com/opt_in#access_token=CCC&id_token=DDD&expires_in=3600"))
	return p
}

func (p *provider) on(route string, hs ...handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[route] = hs
	p.calls[route] = 0
}

func (p *provider) count(route string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[route]
}

func (p *provider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *provider) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	_, _ = io.Copy(io.Discard, r.Body)

	p.mu.Lock()
	n := p.calls[route]
	p.calls[route] = n + 1
	hs := p.routes[route]
	p.mu.Unlock()

	if len(hs) == 0 {
		http.NotFound(w, r)
		return
	}
	if n >= len(hs) {
		n = len(hs) - 1
	}
	hs[n](w, r)
}

func reply(status int, body string, kv ...string) handler {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i+1 < len(kv); i += 2 {
			w.Header().Set(kv[i], kv[i+1])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func redirect(location string) handler {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusSeeOther)
	}
}

func tokens(access, id string) string {
	raw, _ := json.Marshal(map[string]any{
		"type": "response",
		"response": map[string]any{"parameters": map[string]string{
			"uri": "https://playvalorant.com/opt_in#access_token=" + access + "&id_token=" + id + "&expires_in=3600",
		}},
	})
	return string(raw)
}

func testConfig(p *provider) Config {
	cfg := DefaultConfig()
	cfg.Provider.AuthURL = p.srv.URL + "/api/v1/authorization"
	cfg.Provider.AuthorizeURL = p.srv.URL + "/authorize?client_id=test"
	cfg.Provider.UserInfoURL = p.srv.URL + "/userinfo"
	cfg.Provider.EntitlementsURL = p.srv.URL + "/entitlements"
	cfg.Provider.RegionURL = p.srv.URL + "/region"
	cfg.Queue.Enabled = false
	cfg.Metrics.Enabled = true
	return cfg
}

func retainPasswords(cfg *Config) {
	cfg.Credentials.Retention = RetainPassword
	cfg.Credentials.SealKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Credentials.Seal = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1}
}

type testEnv struct {
	m        *Manager
	provider *provider
	clock    *testClock
	redis    *miniredis.Miniredis
}

func newTestEnv(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()
	env := &testEnv{
		provider: newProvider(t),
		clock:    &testClock{now: time.Unix(1_700_000_000, 0)},
		redis:    miniredis.RunT(t),
	}
	cfg := testConfig(env.provider)
	if mutate != nil {
		mutate(&cfg)
	}

	rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithHTTPClient(env.provider.srv.Client()).
		WithClock(env.clock.Now).
		WithLogger(logging.Discard())
	for _, opt := range opts {
		opt(b)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	env.m = m
	return env
}

// login links puuid-1 to owner and fails the test on error.
func (e *testEnv) login(t testing.TB, owner string) *Result {
	t.Helper()
	res, err := e.m.Login(context.Background(), owner, "player", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.Success {
		t.Fatalf("login not successful: %+v", res)
	}
	return res
}
