package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/knapabuse2-cmd/outreach/db/models"
)

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	if err := s.session(ctx).Take(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("account %s", id))
	}
	return &a, nil
}

func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	phone = strings.TrimSpace(phone)
	var a models.Account
	if err := s.session(ctx).Take(&a, "phone = ?", phone).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("account %s", phone))
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	return s.session(ctx).Create(a).Error
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	err := s.session(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

// ListWorkableAccounts returns accounts the manager may run workers for.
func (s *Store) ListWorkableAccounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	err := s.session(ctx).
		Where("status IN ?", []models.AccountStatus{models.AccountReady, models.AccountActive}).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	now := s.now()
	workable := out[:0]
	for _, a := range out {
		if a.Workable(now) {
			workable = append(workable, a)
		}
	}
	return workable, nil
}

// UpdateAccountStatus transitions the account's lifecycle state.
func (s *Store) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, note string) error {
	res := s.session(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      status,
			"status_note": strings.TrimSpace(note),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveAccountSession records a fresh login: session name, platform
// identity, and a clean lifecycle state.
func (s *Store) SaveAccountSession(ctx context.Context, a *models.Account) error {
	res := s.session(ctx).Model(&models.Account{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"session_name":   a.SessionName,
			"username":       a.Username,
			"status":         a.Status,
			"status_note":    a.StatusNote,
			"cooldown_until": a.CooldownUntil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// SaveAccountActivity flushes the daily counters and activity timestamps.
func (s *Store) SaveAccountActivity(ctx context.Context, a *models.Account) error {
	return s.session(ctx).Model(&models.Account{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"sent_today":     a.SentToday,
			"counter_day":    a.CounterDay,
			"last_active_at": a.LastActiveAt,
			"cooldown_until": a.CooldownUntil,
		}).Error
}
