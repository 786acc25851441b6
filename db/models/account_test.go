package models

import (
	"testing"
	"time"
)

func TestAccountWorkable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	cases := []struct {
		name     string
		mutate   func(*Account)
		workable bool
	}{
		{"inactive", func(a *Account) {}, false},
		{"ready", func(a *Account) { a.Status = AccountReady }, true},
		{"active", func(a *Account) { a.Status = AccountActive }, true},
		{"paused", func(a *Account) { a.Status = AccountPaused }, false},
		{"banned", func(a *Account) { a.MarkBanned("spam block") }, false},
		{"cooldown pending", func(a *Account) {
			a.Status = AccountReady
			a.CooldownUntil = &later
		}, false},
		{"cooldown elapsed", func(a *Account) {
			a.Status = AccountReady
			a.CooldownUntil = &past
		}, true},
	}
	for _, c := range cases {
		a := NewAccount("probe", "+10000000001")
		c.mutate(a)
		if got := a.Workable(now); got != c.workable {
			t.Fatalf("%s: Workable = %v, want %v", c.name, got, c.workable)
		}
	}
}

func TestAccountDailyCounterRollover(t *testing.T) {
	a := NewAccount("probe", "+10000000001")
	a.DailyLimit = 3

	day1 := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	a.CountSent(day1, 1)
	a.CountSent(day1, 1)
	if a.SentToday != 2 {
		t.Fatalf("sent today = %d, want 2", a.SentToday)
	}
	if got := a.DailyBudgetLeft(day1); got != 1 {
		t.Fatalf("budget left = %d, want 1", got)
	}

	day2 := day1.Add(time.Hour)
	if got := a.DailyBudgetLeft(day2); got != 3 {
		t.Fatalf("budget after rollover = %d, want 3", got)
	}
	a.CountSent(day2, 1)
	if a.SentToday != 1 {
		t.Fatalf("sent today after rollover = %d, want 1", a.SentToday)
	}
	if a.CounterDay != "2025-06-02" {
		t.Fatalf("counter day = %q, want 2025-06-02", a.CounterDay)
	}
}

func TestAccountUnlimitedBudget(t *testing.T) {
	a := NewAccount("probe", "+10000000001")
	a.DailyLimit = 0
	if got := a.DailyBudgetLeft(time.Now()); got <= 0 {
		t.Fatalf("unlimited budget = %d, want positive", got)
	}
}

func TestAccountTerminal(t *testing.T) {
	a := NewAccount("probe", "+10000000001")
	if a.Terminal() {
		t.Fatal("fresh account must not be terminal")
	}
	a.MarkError("session corrupt")
	if !a.Terminal() {
		t.Fatal("errored account must be terminal")
	}
	a.MarkBanned("spam block")
	if !a.Terminal() {
		t.Fatal("banned account must be terminal")
	}
}
