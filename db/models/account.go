package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountInactive AccountStatus = "inactive"
	AccountReady    AccountStatus = "ready"
	AccountActive   AccountStatus = "active"
	AccountPaused   AccountStatus = "paused"
	AccountBanned   AccountStatus = "banned"
	AccountError    AccountStatus = "error"
	AccountCooldown AccountStatus = "cooldown"
)

// Account is one messaging-platform identity driven by at most one worker task.
type Account struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string        `gorm:"size:128" json:"name"`
	Phone       string        `gorm:"size:32;uniqueIndex" json:"phone"`
	Username    string        `gorm:"size:128" json:"username"`
	SessionName string        `gorm:"size:128" json:"session_name"`
	ProxyLabel  string        `gorm:"size:128" json:"proxy_label"`
	Status      AccountStatus `gorm:"size:16;index;default:inactive" json:"status"`
	StatusNote  string        `gorm:"size:256" json:"status_note"`

	DailyLimit    int        `gorm:"default:40" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	CounterDay    string     `gorm:"size:10" json:"counter_day"`
	LastActiveAt  *time.Time `json:"last_active_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewAccount(name, phone string) *Account {
	return &Account{
		ID:     uuid.New(),
		Name:   strings.TrimSpace(name),
		Phone:  strings.TrimSpace(phone),
		Status: AccountInactive,
	}
}

// Workable reports whether the manager may run a worker for this account.
func (a *Account) Workable(now time.Time) bool {
	switch a.Status {
	case AccountReady, AccountActive:
	default:
		return false
	}
	if a.CooldownUntil != nil && now.Before(*a.CooldownUntil) {
		return false
	}
	return true
}

// Terminal reports whether the account may never be auto-restarted.
func (a *Account) Terminal() bool {
	return a.Status == AccountBanned || a.Status == AccountError
}

func (a *Account) MarkBanned(note string) {
	a.Status = AccountBanned
	a.StatusNote = strings.TrimSpace(note)
}

func (a *Account) MarkError(note string) {
	a.Status = AccountError
	a.StatusNote = strings.TrimSpace(note)
}

// MarkCooldown pauses the account until the given time, typically while a
// re-login is pending.
func (a *Account) MarkCooldown(until time.Time, note string) {
	a.Status = AccountCooldown
	a.StatusNote = strings.TrimSpace(note)
	a.CooldownUntil = &until
}

// CountSent bumps the daily counter, resetting it on day rollover.
func (a *Account) CountSent(now time.Time, n int) {
	day := now.UTC().Format("2006-01-02")
	if a.CounterDay != day {
		a.CounterDay = day
		a.SentToday = 0
	}
	a.SentToday += n
	t := now.UTC()
	a.LastActiveAt = &t
}

// DailyBudgetLeft reports how many messages the account may still send today.
func (a *Account) DailyBudgetLeft(now time.Time) int {
	if a.DailyLimit <= 0 {
		return int(^uint(0) >> 1)
	}
	day := now.UTC().Format("2006-01-02")
	if a.CounterDay != day {
		return a.DailyLimit
	}
	left := a.DailyLimit - a.SentToday
	if left < 0 {
		return 0
	}
	return left
}
