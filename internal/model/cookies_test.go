package model

import (
	"testing"
	"time"
)

func TestLiveCookiesSkipsExpiredAndUnnamed(t *testing.T) {
	now := time.UnixMilli(10_000)
	entries := []CookieJarEntry{
		{URL: "https://a.example", Cookies: []Cookie{
			{Name: "sid", Value: "1"},
			{Name: "old", Value: "2", Expires: 9_000},
			{Name: "", Value: "3"},
		}},
		{URL: "https://b.example", Cookies: []Cookie{
			{Name: "tok", Value: "4", Expires: 20_000},
		}},
	}
	got := LiveCookies(entries, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(got))
	}
	if got[0].Name != "sid" || got[0].URL != "https://a.example" {
		t.Errorf("unexpected first cookie: %+v", got[0])
	}
	if got[1].Name != "tok" || got[1].URL != "https://b.example" {
		t.Errorf("unexpected second cookie: %+v", got[1])
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	cases := map[TaskStatus]bool{
		TaskStatusPending:   false,
		TaskStatusRunning:   false,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusStopped:   true,
	}
	for st, want := range cases {
		if st.IsTerminal() != want {
			t.Errorf("%s: IsTerminal() = %v, want %v", st, !want, want)
		}
	}
}
