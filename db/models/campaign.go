package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignRunning CampaignStatus = "running"
	CampaignPaused  CampaignStatus = "paused"
	CampaignDone    CampaignStatus = "done"
)

// Campaign groups targets under one scenario and one set of goal links.
type Campaign struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string         `gorm:"size:128;uniqueIndex" json:"name"`
	Status       CampaignStatus `gorm:"size:16;index;default:draft" json:"status"`
	Links        []string       `gorm:"serializer:json" json:"links"`
	ScenarioPath string         `gorm:"size:256" json:"scenario_path"`

	TotalTargets int `gorm:"default:0" json:"total_targets"`
	Contacted    int `gorm:"default:0" json:"contacted"`
	Responded    int `gorm:"default:0" json:"responded"`
	GoalReached  int `gorm:"default:0" json:"goal_reached"`
	Failed       int `gorm:"default:0" json:"failed"`
	MessagesSent int `gorm:"default:0" json:"messages_sent"`
	TokensUsed   int `gorm:"default:0" json:"tokens_used"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewCampaign(name, scenarioPath string, links []string) *Campaign {
	return &Campaign{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(name),
		Status:       CampaignDraft,
		Links:        links,
		ScenarioPath: strings.TrimSpace(scenarioPath),
	}
}

// CampaignStatsDelta is applied atomically by the store.
type CampaignStatsDelta struct {
	Contacted    int
	Responded    int
	GoalReached  int
	Failed       int
	MessagesSent int
	TokensUsed   int
}
