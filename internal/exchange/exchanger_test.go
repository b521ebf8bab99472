package exchange

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/rate"
)

func TestLoginSuccessYieldsTokensAndPersists(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK, tokenResponse("AAA", "BBB")))

	done, err := h.x.Login(context.Background(), "owner", "user", "pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, ok := done.Record.Session()
	if !ok {
		t.Fatalf("expected authenticated record, got %s", done.Record.State().Kind())
	}
	if sess.AccessToken != "AAA" || sess.IDToken != "BBB" {
		t.Fatalf("unexpected tokens %q %q", sess.AccessToken, sess.IDToken)
	}
	if want := h.clock.Add(time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sess.ExpiresAt)
	}
	if sess.EntitlementsToken != "ENT" || sess.Region != "eu" {
		t.Fatalf("finish sequence incomplete: %+v", sess)
	}
	if done.Record.Username != "Player#EUW" || done.Record.PUUID != "puuid-1" {
		t.Fatalf("unexpected identity: %+v", done.Record)
	}

	stored, err := h.repo.Account(context.Background(), "owner", 0)
	if err != nil {
		t.Fatalf("stored account: %v", err)
	}
	cookies, ok := stored.Cookies()
	if !ok || cookies["A"] != "1" {
		t.Fatalf("expected stored cookies, got %v", cookies)
	}
	if _, ok := stored.Password(); ok {
		t.Fatalf("cookie retention must not keep the password")
	}
	if body := h.provider.lastBody("PUT /region"); !strings.Contains(body, `"id_token":"BBB"`) {
		t.Fatalf("region lookup must send id token, got %s", body)
	}

	names := map[string]bool{}
	for _, s := range h.spans.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"exchange.prime_cookies", "exchange.submit_credentials", "exchange.userinfo", "exchange.entitlements", "exchange.region"} {
		if !names[want] {
			t.Fatalf("missing span %s in %v", want, names)
		}
	}
}

func TestLoginMFARecordsChallengeWithoutTokens(t *testing.T) {
	h := newHarness(t, RetainPassword)
	h.provider.on("PUT /api/v1/authorization",
		jsonReply(http.StatusOK, `{"type":"multifactor","multifactor":{"method":"email","email":"a***@b.com"}}`))

	_, err := h.x.Login(context.Background(), "owner", "user", "pass")
	var mfa *MFAChallengeError
	if !errors.As(err, &mfa) || !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected MFAChallengeError, got %v", err)
	}
	if mfa.Method != "email" || mfa.Email != "a***@b.com" {
		t.Fatalf("unexpected challenge %+v", mfa)
	}
	pending, err := h.repo.Pending(context.Background(), "owner")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cookies["A"] != "1" || !pending.RequestedAt.Equal(h.clock) {
		t.Fatalf("unexpected pending state %+v", pending)
	}
	o, _ := h.repo.Get(context.Background(), "owner")
	for _, rec := range o.Accounts {
		if _, ok := rec.Session(); ok {
			t.Fatalf("no session may be stored while mfa is pending")
		}
		if _, ok := rec.Password(); ok {
			t.Fatalf("password must not be retained alongside a pending challenge")
		}
	}
	if h.provider.count("GET /userinfo") != 0 {
		t.Fatalf("finish sequence must not run on mfa")
	}
}

func TestSubmitMFAWrongCodeThenSuccess(t *testing.T) {
	h := newHarness(t, RetainPassword)
	h.provider.on("PUT /api/v1/authorization",
		jsonReply(http.StatusOK, `{"type":"multifactor","multifactor":{"method":"email","email":"a***@b.com"}}`),
		jsonReply(http.StatusOK, `{"type":"multifactor","error":"multifactor_attempt_failed"}`),
		jsonReply(http.StatusOK, tokenResponse("AAA", "BBB")),
	)
	ctx := context.Background()

	if _, err := h.x.Login(ctx, "owner", "user", "pass"); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected mfa, got %v", err)
	}
	if _, err := h.x.SubmitMFA(ctx, "owner", "000000"); !errors.Is(err, ErrMFAAttemptFailed) {
		t.Fatalf("expected attempt failed, got %v", err)
	}
	if _, err := h.repo.Pending(ctx, "owner"); err != nil {
		t.Fatalf("challenge must stay pending after a wrong code: %v", err)
	}

	done, err := h.x.SubmitMFA(ctx, "owner", "123456")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(h.provider.lastBody("PUT /api/v1/authorization"), `"code":"123456"`) {
		t.Fatalf("code not submitted")
	}
	if _, err := h.repo.Pending(ctx, "owner"); !errors.Is(err, account.ErrNoPendingLogin) {
		t.Fatalf("placeholder must be resolved, got %v", err)
	}
	o, _ := h.repo.Get(ctx, "owner")
	if len(o.Accounts) != 1 || o.Accounts[0].PUUID != "puuid-1" || done.Index != 1 {
		t.Fatalf("unexpected accounts after mfa: %+v", o.Accounts)
	}
	if _, ok := o.Accounts[0].Password(); ok {
		t.Fatalf("mfa logins keep cookies, not passwords")
	}
	if _, err := h.x.SubmitMFA(ctx, "owner", "123456"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials without a pending login, got %v", err)
	}
}

func TestRateLimitRecordsRetryAtAndShortCircuits(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusTooManyRequests, ``, "Retry-After", "30"))
	ctx := context.Background()

	_, err := h.x.Login(ctx, "owner", "user", "pass")
	var le *rate.LimitedError
	if !errors.As(err, &le) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if want := h.clock.Add(31 * time.Second); !le.RetryAt.Equal(want) {
		t.Fatalf("expected retryAt %v, got %v", want, le.RetryAt)
	}

	primes := h.provider.count("POST /api/v1/authorization")
	if _, err := h.x.Login(ctx, "owner", "user", "pass"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected short circuit, got %v", err)
	}
	if h.provider.count("POST /api/v1/authorization") != primes {
		t.Fatalf("no call may be issued while backing off")
	}
	if _, err := h.repo.Get(ctx, "owner"); !errors.Is(err, account.ErrOwnerNotFound) {
		t.Fatalf("rate limit must not persist anything, got %v", err)
	}

	h.clock = h.clock.Add(31 * time.Second)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK, tokenResponse("AAA", "BBB")))
	if _, err := h.x.Login(ctx, "owner", "user", "pass"); err != nil {
		t.Fatalf("login after backoff: %v", err)
	}
}

func TestRateLimitSignalledInBodyAndRedirect(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK, `{"type":"error","error":"rate_limited"}`))
	if _, err := h.x.Login(context.Background(), "owner", "user", "pass"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected body rate limit, got %v", err)
	}

	h2 := newHarness(t, RetainCookies)
	seedCookies(t, h2)
	h2.provider.on("GET /authorize", redirectTo("/auth-error?error_description=rate_limited"))
	if _, err := h2.x.ReauthCookies(context.Background(), "owner", "puuid-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected redirect rate limit, got %v", err)
	}
}

func TestProviderBlockIsDistinct(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("POST /api/v1/authorization", jsonReply(http.StatusForbidden, `{}`, "X-Frame-Options", "SAMEORIGIN"))

	_, err := h.x.Login(context.Background(), "owner", "user", "pass")
	if !errors.Is(err, ErrProviderBlocked) {
		t.Fatalf("expected block, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("block must not be reported as a rate limit")
	}
	if h.limiter.Len() != 0 {
		t.Fatalf("block must not record a backoff")
	}
}

func TestAuthFailureAndUnknownError(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization",
		jsonReply(http.StatusOK, `{"type":"error","error":"auth_failure","country":"usa"}`),
		jsonReply(http.StatusOK, `{"type":"error","error":"something_new"}`),
	)
	if _, err := h.x.Login(context.Background(), "owner", "user", "bad"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	_, err := h.x.Login(context.Background(), "owner", "user", "bad")
	if !errors.Is(err, ErrProviderError) || errors.Is(err, ErrAuthFailure) {
		t.Fatalf("unknown codes must not classify as auth failure, got %v", err)
	}
}

func TestMalformedSuccessIsHardFailure(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK,
		`{"type":"response","response":{"parameters":{"uri":"https://playvalorant.com/opt_in#access_token=AAA&expires_in=3600"}}}`))

	if _, err := h.x.Login(context.Background(), "owner", "user", "pass"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
	if _, err := h.repo.Get(context.Background(), "owner"); !errors.Is(err, account.ErrOwnerNotFound) {
		t.Fatalf("malformed success must not persist, got %v", err)
	}
}

func TestFinishLookupFailureAbortsWithoutWrites(t *testing.T) {
	h := newHarness(t, RetainCookies)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK, tokenResponse("AAA", "BBB")))
	h.provider.on("POST /entitlements", jsonReply(http.StatusUnauthorized, `{"errorCode":"CREDENTIALS_INVALID"}`))

	if _, err := h.x.Login(context.Background(), "owner", "user", "pass"); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if h.provider.count("PUT /region") != 0 {
		t.Fatalf("region must not be fetched after entitlements failed")
	}
	if _, err := h.repo.Get(context.Background(), "owner"); !errors.Is(err, account.ErrOwnerNotFound) {
		t.Fatalf("failed finish must not persist, got %v", err)
	}
}

func seedCookies(t *testing.T, h *harness) account.Record {
	t.Helper()
	rec := account.Record{
		PUUID:    "puuid-1",
		Username: "Player#EUW",
		Region:   "eu",
		Auth: account.NewAuthenticated("OLD", "OLDID", "OLDENT", "eu", h.clock.Add(-time.Minute),
			account.NewUsingCookies(account.Cookies{"ssid": "s1"})),
	}
	if _, err := h.repo.AddOrMerge(context.Background(), "owner", rec, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestCookieReauthLoginRedirectLeavesRecordUntouched(t *testing.T) {
	h := newHarness(t, RetainCookies)
	seedCookies(t, h)
	h.provider.on("GET /authorize", redirectTo("/login?error=invalid_session"))

	_, err := h.x.ReauthCookies(context.Background(), "owner", "puuid-1")
	if !errors.Is(err, ErrInvalidCookies) {
		t.Fatalf("expected invalid cookies, got %v", err)
	}
	stored, _ := h.repo.Account(context.Background(), "owner", 1)
	sess, ok := stored.Session()
	if !ok || sess.AccessToken != "OLD" {
		t.Fatalf("record must not change, got %+v", stored.Auth)
	}
	if c, ok := stored.Cookies(); !ok || c["ssid"] != "s1" {
		t.Fatalf("cookies must not change")
	}
}

func TestCookieReauthCarriesOverKnownFields(t *testing.T) {
	h := newHarness(t, RetainCookies)
	seedCookies(t, h)
	h.provider.on("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("ssid"); err != nil || c.Value != "s1" {
			t.Errorf("expected stored cookie on reauth, got %v %v", c, err)
		}
		http.SetCookie(w, &http.Cookie{Name: "ssid", Value: "s2"})
		redirectTo("https://playvalorant.com/opt_in#access_token=CCC&id_token=DDD&expires_in=3600")(w, r)
	})

	done, err := h.x.ReauthCookies(context.Background(), "owner", "puuid-1")
	if err != nil {
		t.Fatalf("reauth: %v", err)
	}
	sess, _ := done.Record.Session()
	if sess.AccessToken != "CCC" || sess.EntitlementsToken != "OLDENT" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if h.provider.count("POST /entitlements") != 0 || h.provider.count("PUT /region") != 0 {
		t.Fatalf("known entitlements and region must be reused")
	}
	stored, _ := h.repo.Account(context.Background(), "owner", 1)
	if c, _ := stored.Cookies(); c["ssid"] != "s2" {
		t.Fatalf("rotated cookies must be stored, got %v", c)
	}
}

func TestPasswordRetentionStoresSealedLogin(t *testing.T) {
	h := newHarness(t, RetainPassword)
	h.provider.on("PUT /api/v1/authorization", jsonReply(http.StatusOK, tokenResponse("AAA", "BBB")))
	ctx := context.Background()

	if _, err := h.x.Login(ctx, "owner", "user", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	stored, _ := h.repo.Account(ctx, "owner", 0)
	retained, ok := stored.Password()
	if !ok || retained.Login != "user" {
		t.Fatalf("expected retained login, got %+v", stored.Auth)
	}
	if strings.Contains(retained.EncodedPassword, "hunter2") {
		t.Fatalf("password stored in plaintext")
	}
	if _, ok := stored.Cookies(); ok {
		t.Fatalf("password retention drops cookies")
	}

	if _, err := h.x.ReauthPassword(ctx, "owner", "puuid-1"); err != nil {
		t.Fatalf("reauth password: %v", err)
	}
	if !strings.Contains(h.provider.lastBody("PUT /api/v1/authorization"), `"password":"hunter2"`) {
		t.Fatalf("retained password not replayed")
	}
	again, _ := h.repo.Account(ctx, "owner", 0)
	if p, _ := again.Password(); p.EncodedPassword != retained.EncodedPassword {
		t.Fatalf("reauth must reuse the sealed value")
	}
	if _, err := h.x.ReauthCookies(ctx, "owner", "puuid-1"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials for cookie reauth, got %v", err)
	}
}

func TestNewRequiresSealerForPasswordRetention(t *testing.T) {
	_, err := New(Deps{
		Config:  Config{Retention: RetainPassword},
		Limiter: rate.New(rate.DefaultConfig(), nil),
		Store:   account.NewRepository(nil, 1),
	})
	if err == nil {
		t.Fatalf("expected error without sealer")
	}
}
