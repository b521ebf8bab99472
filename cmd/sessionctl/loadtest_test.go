package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunLoadtestAgainstMock(t *testing.T) {
	mock := newMockProvider(0)
	provider := httptestServer(t, mock)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goSession.DefaultConfig()
	applyProviderBase(&cfg, provider)
	cfg.Queue.Interval = time.Millisecond

	m, err := goSession.New().WithConfig(cfg).WithRedis(rdb).WithLogger(discardLogger()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer m.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.RunQueue(ctx) }()

	report, err := runLoadtest(ctx, m, loadtestConfig{owners: 4, concurrency: 2, authOps: 50, refreshes: 3})
	if err != nil {
		t.Fatalf("runLoadtest: %v", err)
	}
	if report.login.ops != 4 || report.login.failures != 0 {
		t.Fatalf("login phase: %+v", report.login)
	}
	if report.auth.ops != 50 || report.auth.failures != 0 {
		t.Fatalf("auth phase: %+v", report.auth)
	}
	if report.refresh.ops != 3 || report.refresh.failures != 0 {
		t.Fatalf("refresh phase: %+v", report.refresh)
	}
	if mock.Calls() == 0 {
		t.Fatal("expected provider calls")
	}

	var out bytes.Buffer
	report.print(&out)
	for _, phase := range []string{"login:", "auth:", "refresh:"} {
		if !strings.Contains(out.String(), phase) {
			t.Fatalf("report missing %s:\n%s", phase, out.String())
		}
	}
}

func TestComputeStats(t *testing.T) {
	samples := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	s := computeStats(time.Second, samples, 2)

	if s.ops != 100 || s.failures != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.p50 != 50*time.Millisecond || s.p99 != 99*time.Millisecond {
		t.Fatalf("unexpected percentiles: p50=%s p99=%s", s.p50, s.p99)
	}
	if s.opsPerS != 100 {
		t.Fatalf("ops/sec = %v", s.opsPerS)
	}
	if empty := computeStats(time.Second, nil, 3); empty.ops != 0 || empty.failures != 3 {
		t.Fatalf("empty stats: %+v", empty)
	}
}

func TestOptionsConfig(t *testing.T) {
	o := &options{
		providerBase:   "http://127.0.0.1:9999/",
		queueEnabled:   false,
		queueInterval:  50 * time.Millisecond,
		defaultBackoff: time.Minute,
		maxBackoff:     5 * time.Minute,
		expiryMargin:   30 * time.Second,
		maxAccounts:    3,
		redisPrefix:    "demo",
	}
	cfg := o.config()

	if cfg.Provider.AuthURL != "http://127.0.0.1:9999"+mockAuthPath {
		t.Fatalf("AuthURL = %q", cfg.Provider.AuthURL)
	}
	if !strings.HasPrefix(cfg.Provider.AuthorizeURL, "http://127.0.0.1:9999"+mockAuthorizePath+"?client_id=") {
		t.Fatalf("AuthorizeURL = %q", cfg.Provider.AuthorizeURL)
	}
	if cfg.Queue.Enabled || cfg.Queue.Interval != 50*time.Millisecond {
		t.Fatalf("queue config not applied: %+v", cfg.Queue)
	}
	if cfg.Session.MaxAccountsPerOwner != 3 || cfg.Session.RedisPrefix != "demo" {
		t.Fatalf("session config not applied: %+v", cfg.Session)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestRootCommandRejectsBadLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"loadtest", "--log-level", "loud"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "log-level") {
		t.Fatalf("expected log-level error, got %v", err)
	}
}

func httptestServer(t *testing.T, mock *mockProvider) string {
	t.Helper()
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}
