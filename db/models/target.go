package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TargetStatus string

const (
	TargetPending    TargetStatus = "pending"
	TargetAssigned   TargetStatus = "assigned"
	TargetContacted  TargetStatus = "contacted"
	TargetInProgress TargetStatus = "in_progress"
	TargetConverted  TargetStatus = "converted"
	TargetCompleted  TargetStatus = "completed"
	TargetFailed     TargetStatus = "failed"
	TargetSkipped    TargetStatus = "skipped"
	TargetBlocked    TargetStatus = "blocked"
)

// Target is one assignable unit of outreach work. Rows are claimed
// transactionally; all later writes go through the optimistic save, so
// Version must accompany every update.
type Target struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID uuid.UUID    `gorm:"type:uuid;index;uniqueIndex:uniq_target_campaign_peer,priority:1;uniqueIndex:uniq_target_campaign_username,priority:1" json:"campaign_id"`
	PeerID     int64        `gorm:"index;uniqueIndex:uniq_target_campaign_peer,priority:2,where:peer_id <> 0" json:"peer_id"`
	Username   string       `gorm:"size:128;uniqueIndex:uniq_target_campaign_username,priority:2,where:username <> ''" json:"username"`
	Status     TargetStatus `gorm:"size:16;index;default:pending" json:"status"`

	AssignedAccountID *uuid.UUID `gorm:"type:uuid;index" json:"assigned_account_id,omitempty"`
	Priority          int        `gorm:"default:0;index" json:"priority"`
	Attempts          int        `gorm:"default:0" json:"attempts"`
	FailReason        string     `gorm:"size:256" json:"fail_reason"`

	Version   int64     `gorm:"default:0" json:"version"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTarget(campaignID uuid.UUID, peerID int64, username string) *Target {
	return &Target{
		ID:         uuid.New(),
		CampaignID: campaignID,
		PeerID:     peerID,
		Username:   strings.TrimSpace(username),
		Status:     TargetPending,
	}
}

func (t *Target) MarkContacted() {
	t.Status = TargetContacted
	t.Attempts++
}

func (t *Target) MarkInProgress() {
	t.Status = TargetInProgress
}

func (t *Target) MarkConverted() {
	t.Status = TargetConverted
}

func (t *Target) MarkCompleted() {
	t.Status = TargetCompleted
}

func (t *Target) MarkFailed(reason string) {
	t.Status = TargetFailed
	t.FailReason = strings.TrimSpace(reason)
}

// Release returns the target to the pending pool, clearing the assignee.
// Used by the staleness reclaim cycle.
func (t *Target) Release() {
	t.Status = TargetPending
	t.AssignedAccountID = nil
}

// Open reports whether the target still belongs to an in-flight
// assignment cycle.
func (t *Target) Open() bool {
	switch t.Status {
	case TargetAssigned, TargetContacted, TargetInProgress:
		return true
	default:
		return false
	}
}
