package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knapabuse2-cmd/outreach/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimNext assigns one pending target to the account inside a single
// transaction. The SKIP LOCKED read lets concurrent claimers from any
// process each take a different row instead of blocking or double-assigning.
func (s *Store) ClaimNext(ctx context.Context, accountID uuid.UUID) (*models.Target, error) {
	var claimed *models.Target

	err := s.session(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Target
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND assigned_account_id IS NULL", models.TargetPending).
			Order("priority DESC, created_at ASC").
			Limit(1).
			Take(&t).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoPendingTargets
			}
			return err
		}

		res := tx.Model(&models.Target{}).
			Where("id = ?", t.ID).
			Updates(map[string]any{
				"status":              models.TargetAssigned,
				"assigned_account_id": accountID,
				"version":             gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}

		t.Status = models.TargetAssigned
		t.AssignedAccountID = &accountID
		t.Version++
		claimed = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SaveTarget persists the target only while its version is unchanged. On a
// match the row and the in-memory version advance by one; otherwise nothing
// is written and ErrVersionConflict surfaces.
func (s *Store) SaveTarget(ctx context.Context, t *models.Target) error {
	res := s.session(ctx).Model(&models.Target{}).
		Where("id = ? AND version = ?", t.ID, t.Version).
		Updates(map[string]any{
			"status":              t.Status,
			"assigned_account_id": t.AssignedAccountID,
			"priority":            t.Priority,
			"attempts":            t.Attempts,
			"fail_reason":         t.FailReason,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("target %s: %w", t.ID, ErrVersionConflict)
	}
	t.Version++
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id uuid.UUID) (*models.Target, error) {
	var t models.Target
	if err := s.session(ctx).Take(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("target %s", id))
	}
	return &t, nil
}

// CreateTargets inserts new pending targets, skipping peers the campaign
// already has.
func (s *Store) CreateTargets(ctx context.Context, targets []*models.Target) (int64, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	res := s.session(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&targets)
	return res.RowsAffected, res.Error
}

func (s *Store) CountTargetsByStatus(ctx context.Context, campaignID uuid.UUID) (map[models.TargetStatus]int64, error) {
	type row struct {
		Status models.TargetStatus
		N      int64
	}
	var rows []row
	q := s.session(ctx).Model(&models.Target{}).
		Select("status, count(*) as n").
		Group("status")
	if campaignID != uuid.Nil {
		q = q.Where("campaign_id = ?", campaignID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[models.TargetStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// ReclaimStale returns assigned or in-progress targets with no activity for
// longer than olderThan to the pending pool. The version bump makes any
// still-running claimant's next save conflict instead of resurrecting the
// row.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("reclaim timeout must be positive")
	}
	cutoff := s.now().UTC().Add(-olderThan)
	res := s.session(ctx).Model(&models.Target{}).
		Where("status IN ? AND updated_at < ?",
			[]models.TargetStatus{models.TargetAssigned, models.TargetInProgress}, cutoff).
		Updates(map[string]any{
			"status":              models.TargetPending,
			"assigned_account_id": nil,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Info("targets_reclaimed", "count", res.RowsAffected, "cutoff", cutoff.Format(time.RFC3339))
	}
	return res.RowsAffected, nil
}
