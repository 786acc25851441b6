package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/knapabuse2-cmd/outreach/db/models"
	"gorm.io/gorm"
)

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.session(ctx).Take(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("campaign %s", id))
	}
	return &c, nil
}

func (s *Store) GetCampaignByName(ctx context.Context, name string) (*models.Campaign, error) {
	name = strings.TrimSpace(name)
	var c models.Campaign
	if err := s.session(ctx).Take(&c, "name = ?", name).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("campaign %q", name))
	}
	return &c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	return s.session(ctx).Create(c).Error
}

func (s *Store) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var out []models.Campaign
	err := s.session(ctx).Order("created_at ASC").Find(&out).Error
	return out, err
}

// AddCampaignTargets bumps the denormalized target counter after an import.
func (s *Store) AddCampaignTargets(ctx context.Context, id uuid.UUID, n int64) error {
	if n == 0 {
		return nil
	}
	return s.session(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Update("total_targets", gorm.Expr("total_targets + ?", n)).Error
}

// UpdateCampaignStats applies counter deltas atomically so concurrent
// workers never lose increments.
func (s *Store) UpdateCampaignStats(ctx context.Context, id uuid.UUID, delta models.CampaignStatsDelta) error {
	updates := map[string]any{}
	if delta.Contacted != 0 {
		updates["contacted"] = gorm.Expr("contacted + ?", delta.Contacted)
	}
	if delta.Responded != 0 {
		updates["responded"] = gorm.Expr("responded + ?", delta.Responded)
	}
	if delta.GoalReached != 0 {
		updates["goal_reached"] = gorm.Expr("goal_reached + ?", delta.GoalReached)
	}
	if delta.Failed != 0 {
		updates["failed"] = gorm.Expr("failed + ?", delta.Failed)
	}
	if delta.MessagesSent != 0 {
		updates["messages_sent"] = gorm.Expr("messages_sent + ?", delta.MessagesSent)
	}
	if delta.TokensUsed != 0 {
		updates["tokens_used"] = gorm.Expr("tokens_used + ?", delta.TokensUsed)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.session(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}
