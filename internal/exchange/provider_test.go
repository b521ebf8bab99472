package exchange

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/password"
)

// scripted is a handler for one provider route. Each call pops the next
// response; the last one repeats.
type scripted []func(w http.ResponseWriter, r *http.Request)

type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]scripted
	calls  map[string]int
	bodies map[string][]string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		t:      t,
		routes: make(map[string]scripted),
		calls:  make(map[string]int),
		bodies: make(map[string][]string),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)

	p.on("POST /api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A", Value: "1"})
		w.WriteHeader(http.StatusOK)
	})
	p.on("GET /userinfo", jsonReply(http.StatusOK, `{"sub":"puuid-1","acct":{"game_name":"Player","tag_line":"EUW"}}`))
	p.on("POST /entitlements", jsonReply(http.StatusOK, `{"entitlements_token":"ENT"}`))
	p.on("PUT /region", jsonReply(http.StatusOK, `{"token":"x","affinities":{"pbe":"na","live":"eu"}}`))
	return p
}

func (p *fakeProvider) on(route string, handlers ...func(http.ResponseWriter, *http.Request)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[route] = handlers
}

func (p *fakeProvider) count(route string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[route]
}

func (p *fakeProvider) lastBody(route string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bodies[route]
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

func (p *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	p.mu.Lock()
	n := p.calls[route]
	p.calls[route] = n + 1
	p.bodies[route] = append(p.bodies[route], string(body))
	handlers := p.routes[route]
	p.mu.Unlock()

	if len(handlers) == 0 {
		http.NotFound(w, r)
		return
	}
	if n >= len(handlers) {
		n = len(handlers) - 1
	}
	handlers[n](w, r)
}

func (p *fakeProvider) endpoints() Endpoints {
	ep := DefaultEndpoints()
	ep.AuthURL = p.srv.URL + "/api/v1/authorization"
	ep.AuthorizeURL = p.srv.URL + "/authorize?client_id=test"
	ep.UserInfoURL = p.srv.URL + "/userinfo"
	ep.EntitlementsURL = p.srv.URL + "/entitlements"
	ep.RegionURL = p.srv.URL + "/region"
	return ep
}

func jsonReply(status int, body string, kv ...string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i+1 < len(kv); i += 2 {
			w.Header().Set(kv[i], kv[i+1])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func redirectTo(location string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusSeeOther)
	}
}

func tokenResponse(access, id string) string {
	uri := "https://playvalorant.com/opt_in#access_token=" + access +
		"&scope=openid&iss=https%3A%2F%2Fauth.riotgames.com&id_token=" + id +
		"&token_type=Bearer&session_state=s&expires_in=3600"
	raw, _ := json.Marshal(map[string]any{
		"type":     "response",
		"response": map[string]any{"parameters": map[string]string{"uri": uri}},
	})
	return string(raw)
}

type harness struct {
	provider *fakeProvider
	repo     *account.Repository
	limiter  *rate.Limiter
	x        *Exchanger
	spans    *tracetest.SpanRecorder
	clock    time.Time
}

func newHarness(t *testing.T, retention Retention) *harness {
	t.Helper()
	h := &harness{provider: newFakeProvider(t), clock: time.Unix(1_700_000_000, 0)}

	backend, err := account.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	h.repo = account.NewRepository(backend, 5)
	now := func() time.Time { return h.clock }
	h.limiter = rate.New(rate.DefaultConfig(), now)
	h.spans = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))

	var sealer Sealer
	if retention == RetainPassword {
		cfg := password.DefaultConfig()
		cfg.Memory = 8 * 1024
		cfg.Time = 1
		s, err := password.NewSealer([]byte("0123456789abcdef0123456789abcdef"), cfg)
		if err != nil {
			t.Fatalf("sealer: %v", err)
		}
		sealer = s
	}

	h.x, err = New(Deps{
		Config:  Config{Endpoints: h.provider.endpoints(), Retention: retention},
		Client:  h.provider.srv.Client(),
		Limiter: h.limiter,
		Store:   h.repo,
		Sealer:  sealer,
		Tracer:  tp.Tracer("exchange-test"),
		Logger:  logging.Discard(),
		Now:     now,
	})
	if err != nil {
		t.Fatalf("new exchanger: %v", err)
	}
	return h
}
