package account

import (
	"testing"
	"time"
)

func TestMergeFieldPrecedence(t *testing.T) {
	fetched := time.UnixMilli(1_700_000_000_000)
	existing := Record{
		OwnerID:       "owner",
		PUUID:         "p1",
		Username:      "Old#1",
		Region:        "na",
		Alerts:        []Alert{{ID: "a"}},
		FailedFetches: 3,
		LastFetchedAt: fetched,
		Auth:          NewUsingPassword("login", "$sealed"),
	}
	incoming := Record{
		PUUID:  "p1",
		Region: "eu",
		Alerts: []Alert{{ID: "a"}, {ID: "b"}},
		Auth:   NewAwaitingMFA(Cookies{"asid": "x"}, "email", "", time.Time{}),
	}

	got := Merge(existing, incoming)
	if got.Username != "Old#1" || got.Region != "eu" {
		t.Fatalf("unexpected identity fields: %q %q", got.Username, got.Region)
	}
	if got.State().Kind() != StateAwaitingMFA {
		t.Fatalf("incoming auth must win, got %s", got.State().Kind())
	}
	if _, ok := got.Password(); ok {
		t.Fatalf("password must not survive alongside a pending mfa challenge")
	}
	if got.FailedFetches != 3 || !got.LastFetchedAt.Equal(fetched) || got.OwnerID != "owner" {
		t.Fatalf("bookkeeping fields must be kept: %+v", got)
	}
	if len(got.Alerts) != 2 {
		t.Fatalf("expected alert union of 2, got %+v", got.Alerts)
	}
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	existing := Record{PUUID: "p1", Alerts: []Alert{{ID: "a"}}}
	incoming := Record{PUUID: "p1", Auth: NewUsingCookies(Cookies{"ssid": "1"})}

	got := Merge(existing, incoming)
	got.Alerts[0].ID = "changed"
	c, _ := got.Cookies()
	c["ssid"] = "changed"

	if existing.Alerts[0].ID != "a" {
		t.Fatalf("merge aliased existing alerts")
	}
	if incoming.Auth.(UsingCookies).Cookies["ssid"] != "1" {
		t.Fatalf("merge aliased incoming cookies")
	}
}

func TestRecordReauthFromEitherShape(t *testing.T) {
	cookies := Cookies{"ssid": "1"}
	live := Record{Auth: NewAuthenticated("at", "id", "", "", time.Now(), NewUsingCookies(cookies))}
	demoted := Record{Auth: NewUsingCookies(cookies)}

	for name, rec := range map[string]Record{"live": live, "demoted": demoted} {
		got, ok := rec.Cookies()
		if !ok || got["ssid"] != "1" {
			t.Fatalf("%s: expected cookies, got %v %v", name, got, ok)
		}
	}
	if (&Record{}).HasCredentials() {
		t.Fatalf("nil auth must read as unauthenticated")
	}
}

func TestCookiesHeaderStableOrder(t *testing.T) {
	c := Cookies{"tdid": "3", "asid": "1", "clid": "2"}
	if got := c.Header(); got != "asid=1; clid=2; tdid=3" {
		t.Fatalf("unexpected header %q", got)
	}
	next := c.With(Cookies{"asid": "", "ssid": "4"})
	if _, ok := next["asid"]; ok {
		t.Fatalf("empty value must delete cookie")
	}
	if c["asid"] != "1" {
		t.Fatalf("With must not mutate receiver")
	}
}
