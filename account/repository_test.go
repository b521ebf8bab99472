package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRepositoryTest(t *testing.T, max int) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRepository(NewRedisBackend(rdb, "acct"), max), mr
}

func authedRecord(puuid, username string, alerts ...Alert) Record {
	return Record{
		PUUID:    puuid,
		Username: username,
		Region:   "eu",
		Alerts:   alerts,
		Auth: NewAuthenticated("at-"+puuid, "id-"+puuid, "ent-"+puuid, "eu",
			time.Now().Add(time.Hour), NewUsingCookies(Cookies{"ssid": "s-" + puuid})),
	}
}

func TestAddOrMergeDedupesByPUUIDAndUnionsAlerts(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	a1 := Alert{ID: "skin-1", Channel: "c1"}
	a2 := Alert{ID: "skin-2", Channel: "c1"}

	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One#EU", a1), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p2", "Two#EU"), true); err != nil {
		t.Fatalf("add second: %v", err)
	}
	idx, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "", a1, a2), false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected merge in place at index 1, got %d", idx)
	}

	o, err := repo.Get(ctx, "owner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(o.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(o.Accounts))
	}
	merged := o.Accounts[0]
	if merged.Username != "One#EU" {
		t.Fatalf("empty incoming username must keep existing, got %q", merged.Username)
	}
	if len(merged.Alerts) != 2 || merged.Alerts[0] != a1 || merged.Alerts[1] != a2 {
		t.Fatalf("unexpected alerts: %+v", merged.Alerts)
	}
	if o.Current != 2 {
		t.Fatalf("merge without makeCurrent must keep current=2, got %d", o.Current)
	}
}

func TestAddOrMergeEnforcesCap(t *testing.T) {
	repo, _ := newRepositoryTest(t, 2)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2"} {
		if _, err := repo.AddOrMerge(ctx, "owner", authedRecord(p, p), false); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p3", "p3"), false); !errors.Is(err, ErrTooManyAccounts) {
		t.Fatalf("expected ErrTooManyAccounts, got %v", err)
	}
	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p2", "p2"), false); err != nil {
		t.Fatalf("merge at cap must succeed: %v", err)
	}
}

func TestPendingPlaceholderOutsideCap(t *testing.T) {
	repo, _ := newRepositoryTest(t, 1)
	ctx := context.Background()

	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One"), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := repo.SetPending(ctx, "owner", AwaitingMFA{Cookies: Cookies{"asid": "1"}}); err != nil {
		t.Fatalf("set pending at cap: %v", err)
	}
	if _, err := repo.ResolvePending(ctx, "owner", authedRecord("p2", "Two")); !errors.Is(err, ErrTooManyAccounts) {
		t.Fatalf("expected ErrTooManyAccounts for a new puuid, got %v", err)
	}
	idx, err := repo.ResolvePending(ctx, "owner", authedRecord("p1", "One"))
	if err != nil {
		t.Fatalf("resolve linked puuid at cap: %v", err)
	}
	o, _ := repo.Get(ctx, "owner")
	if idx != 1 || len(o.Accounts) != 1 || o.Linked() != 1 {
		t.Fatalf("expected one linked account, got idx=%d %+v", idx, o.Accounts)
	}
}

func TestDeleteLastAccountRemovesOwner(t *testing.T) {
	repo, mr := newRepositoryTest(t, 5)
	ctx := context.Background()

	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One"), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := repo.DeleteAccount(ctx, "owner", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("acct:owner") {
		t.Fatalf("owner key must be removed with last account")
	}
	if _, err := repo.Get(ctx, "owner"); !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestDeleteAccountClampsCurrent(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		if _, err := repo.AddOrMerge(ctx, "owner", authedRecord(p, p), true); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	// current=3; deleting it clamps to the new last entry.
	if _, err := repo.DeleteAccount(ctx, "owner", 3); err != nil {
		t.Fatalf("delete current: %v", err)
	}
	o, _ := repo.Get(ctx, "owner")
	if o.Current != 2 || len(o.Accounts) != 2 {
		t.Fatalf("expected current=2 of 2, got %d of %d", o.Current, len(o.Accounts))
	}

	// deleting an entry before current shifts the selector with its account.
	if _, err := repo.DeleteAccount(ctx, "owner", 1); err != nil {
		t.Fatalf("delete first: %v", err)
	}
	o, _ = repo.Get(ctx, "owner")
	if o.Current != 1 || o.Accounts[0].PUUID != "p2" {
		t.Fatalf("expected p2 current at 1, got current=%d puuid=%s", o.Current, o.Accounts[0].PUUID)
	}

	if _, err := repo.DeleteAccount(ctx, "owner", 5); !errors.Is(err, ErrAccountIndex) {
		t.Fatalf("expected ErrAccountIndex, got %v", err)
	}
}

func TestSwitchBoundsChecked(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	for _, p := range []string{"p1", "p2"} {
		if _, err := repo.AddOrMerge(ctx, "owner", authedRecord(p, p), false); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	rec, err := repo.Switch(ctx, "owner", 2)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if rec.PUUID != "p2" {
		t.Fatalf("expected p2, got %s", rec.PUUID)
	}
	for _, bad := range []int{0, 3, -1} {
		if _, err := repo.Switch(ctx, "owner", bad); !errors.Is(err, ErrAccountIndex) {
			t.Fatalf("switch(%d): expected ErrAccountIndex, got %v", bad, err)
		}
	}
	if _, err := repo.Switch(ctx, "nobody", 1); !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestPendingPlaceholderLifecycle(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One"), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	first := AwaitingMFA{Cookies: Cookies{"asid": "1"}, Method: "email", MaskedEmail: "a***@b.com"}
	if _, err := repo.SetPending(ctx, "owner", first); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	second := AwaitingMFA{Cookies: Cookies{"asid": "2"}, Method: "email"}
	idx, err := repo.SetPending(ctx, "owner", second)
	if err != nil {
		t.Fatalf("replace pending: %v", err)
	}
	if idx != 2 {
		t.Fatalf("placeholder must be replaced in place, got index %d", idx)
	}
	got, err := repo.Pending(ctx, "owner")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if got.Cookies["asid"] != "2" {
		t.Fatalf("expected latest placeholder, got %+v", got)
	}

	// completing MFA for an already linked puuid merges and drops the placeholder
	idx, err = repo.ResolvePending(ctx, "owner", authedRecord("p1", "One#New"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	o, _ := repo.Get(ctx, "owner")
	if len(o.Accounts) != 1 || idx != 1 || o.Current != 1 {
		t.Fatalf("expected single merged account current, got %d accounts idx=%d current=%d", len(o.Accounts), idx, o.Current)
	}
	if o.Accounts[0].Username != "One#New" {
		t.Fatalf("expected merged username, got %q", o.Accounts[0].Username)
	}
	if _, err := repo.Pending(ctx, "owner"); !errors.Is(err, ErrNoPendingLogin) {
		t.Fatalf("expected ErrNoPendingLogin after resolve, got %v", err)
	}
}

func TestDeleteCredentialsKeepsSideData(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	alert := Alert{ID: "skin", Channel: "c"}
	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One", alert), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.DeleteCredentials(ctx, "owner", "p1"); err != nil {
		t.Fatalf("delete credentials: %v", err)
	}
	rec, err := repo.Account(ctx, "owner", 0)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if rec.State().Kind() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", rec.State().Kind())
	}
	if rec.Username != "One" || len(rec.Alerts) != 1 {
		t.Fatalf("side data lost: %+v", rec)
	}
	if _, ok := rec.Cookies(); ok {
		t.Fatalf("cookies must be purged")
	}
}

func TestMarkFetchCountsAndResets(t *testing.T) {
	repo, _ := newRepositoryTest(t, 5)
	ctx := context.Background()

	if _, err := repo.AddOrMerge(ctx, "owner", authedRecord("p1", "One"), true); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 1; i <= 2; i++ {
		n, err := repo.MarkFetch(ctx, "owner", "p1", false, time.Time{})
		if err != nil {
			t.Fatalf("mark fail: %v", err)
		}
		if n != i {
			t.Fatalf("expected %d failures, got %d", i, n)
		}
	}
	at := time.UnixMilli(1_700_000_000_000)
	if n, err := repo.MarkFetch(ctx, "owner", "p1", true, at); err != nil || n != 0 {
		t.Fatalf("mark ok: n=%d err=%v", n, err)
	}
	rec, _ := repo.Account(ctx, "owner", 1)
	if !rec.LastFetchedAt.Equal(at) {
		t.Fatalf("expected last fetch %v, got %v", at, rec.LastFetchedAt)
	}
	if _, err := repo.MarkFetch(ctx, "owner", "missing", true, at); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	repo, mr := newRepositoryTest(t, 5)
	mr.Close()
	if _, err := repo.Get(context.Background(), "owner"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
