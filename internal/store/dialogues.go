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

// GetDialogue loads a dialogue with its ordered history.
func (s *Store) GetDialogue(ctx context.Context, id uuid.UUID) (*models.Dialogue, error) {
	var d models.Dialogue
	err := s.session(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Take(&d, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("dialogue %s", id))
	}
	return &d, nil
}

// GetDialogueByTarget loads the dialogue owned by the (account, target)
// pair, if one exists.
func (s *Store) GetDialogueByTarget(ctx context.Context, accountID, targetID uuid.UUID) (*models.Dialogue, error) {
	var d models.Dialogue
	err := s.session(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Take(&d, "account_id = ? AND target_id = ?", accountID, targetID).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("dialogue for target %s", targetID))
	}
	return &d, nil
}

// GetDialogueByPeer loads the dialogue an account holds with a peer, if
// one exists. This is the lookup path for inbound messages.
func (s *Store) GetDialogueByPeer(ctx context.Context, accountID uuid.UUID, peerID int64) (*models.Dialogue, error) {
	var d models.Dialogue
	err := s.session(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Take(&d, "account_id = ? AND peer_id = ?", accountID, peerID).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("dialogue with peer %d", peerID))
	}
	return &d, nil
}

// ListDialoguesDue returns the account's initiated dialogues whose
// next_action_at has passed, oldest first. Used for scripted follow-ups
// on conversations the peer never answered.
func (s *Store) ListDialoguesDue(ctx context.Context, accountID uuid.UUID, now time.Time, limit int) ([]models.Dialogue, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []models.Dialogue
	err := s.session(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("account_id = ? AND status = ? AND next_action_at IS NOT NULL AND next_action_at <= ?",
			accountID, models.DialogueInitiated, now).
		Order("next_action_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateDialogue inserts a fresh dialogue at version zero together with any
// seeded messages.
func (s *Store) CreateDialogue(ctx context.Context, d *models.Dialogue) error {
	d.Version = 0
	return s.session(ctx).Create(d).Error
}

// SaveDialogue persists the dialogue state and appends new history rows in
// one transaction, guarded by the version check. On conflict nothing is
// written, including messages.
func (s *Store) SaveDialogue(ctx context.Context, d *models.Dialogue) error {
	return s.session(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Dialogue{}).
			Where("id = ? AND version = ?", d.ID, d.Version).
			Updates(map[string]any{
				"status":            d.Status,
				"goal_message_sent": d.GoalMessageSent,
				"creative_sent":     d.CreativeSent,
				"needs_review":      d.NeedsReview,
				"interest_score":    d.InterestScore,
				"fail_reason":       d.FailReason,
				"last_message_at":   d.LastMessageAt,
				"next_action_at":    d.NextActionAt,
				"version":           gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("dialogue %s: %w", d.ID, ErrVersionConflict)
		}

		if len(d.Messages) > 0 {
			// History is append-only; rows already persisted are left alone.
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&d.Messages).Error; err != nil {
				return err
			}
		}

		d.Version++
		return nil
	})
}

// MarkMessagesRead flags inbound history rows up to and including the given
// peer message id.
func (s *Store) MarkMessagesRead(ctx context.Context, dialogueID uuid.UUID, maxPeerMessageID int64) error {
	return s.session(ctx).Model(&models.DialogueMessage{}).
		Where("dialogue_id = ? AND role = ? AND peer_message_id <= ? AND read = false",
			dialogueID, models.RoleUser, maxPeerMessageID).
		Update("read", true).Error
}

// ListDialoguesNeedingReview returns paused dialogues awaiting an operator.
func (s *Store) ListDialoguesNeedingReview(ctx context.Context, limit int) ([]models.Dialogue, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Dialogue
	err := s.session(ctx).
		Where("needs_review = true AND status = ?", models.DialoguePaused).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// IsConflict reports whether err is an optimistic-version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
