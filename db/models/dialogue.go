package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type DialogueStatus string

const (
	DialoguePending     DialogueStatus = "pending"
	DialogueInitiated   DialogueStatus = "initiated"
	DialogueActive      DialogueStatus = "active"
	DialogueGoalReached DialogueStatus = "goal_reached"
	DialogueCompleted   DialogueStatus = "completed"
	DialogueFailed      DialogueStatus = "failed"
	DialoguePaused      DialogueStatus = "paused"
	DialogueExpired     DialogueStatus = "expired"
)

type MessageRole string

const (
	RoleAccount MessageRole = "account"
	RoleUser    MessageRole = "user"
	RoleSystem  MessageRole = "system"
)

// Dialogue is the conversation state for one (account, target) pair. It is
// created on first assignment, mutated only by the owning worker, and never
// deleted. Version guards every save.
type Dialogue struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID  uuid.UUID      `gorm:"type:uuid;index:idx_dialogue_account_peer" json:"account_id"`
	TargetID   uuid.UUID      `gorm:"type:uuid;index" json:"target_id"`
	CampaignID uuid.UUID      `gorm:"type:uuid;index" json:"campaign_id"`
	PeerID     int64          `gorm:"index:idx_dialogue_account_peer" json:"peer_id"`
	Status     DialogueStatus `gorm:"size:16;index;default:pending" json:"status"`

	GoalMessageSent bool   `gorm:"default:false" json:"goal_message_sent"`
	CreativeSent    bool   `gorm:"default:false" json:"creative_sent"`
	NeedsReview     bool   `gorm:"default:false" json:"needs_review"`
	InterestScore   int    `gorm:"default:0" json:"interest_score"`
	FailReason      string `gorm:"size:256" json:"fail_reason"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	NextActionAt  *time.Time `json:"next_action_at,omitempty"`

	Messages []DialogueMessage `gorm:"foreignKey:DialogueID" json:"messages,omitempty"`

	Version   int64     `gorm:"default:0" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DialogueMessage is one immutable entry of a dialogue's history.
type DialogueMessage struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	DialogueID    uuid.UUID   `gorm:"type:uuid;index" json:"dialogue_id"`
	Role          MessageRole `gorm:"size:16" json:"role"`
	Content       string      `gorm:"type:text" json:"content"`
	PeerMessageID int64       `json:"peer_message_id"`
	AIGenerated   bool        `gorm:"default:false" json:"ai_generated"`
	TokensUsed    int         `gorm:"default:0" json:"tokens_used"`
	Read          bool        `gorm:"default:false" json:"read"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
}

func NewDialogue(accountID, targetID, campaignID uuid.UUID, peerID int64) *Dialogue {
	return &Dialogue{
		ID:         uuid.New(),
		AccountID:  accountID,
		TargetID:   targetID,
		CampaignID: campaignID,
		PeerID:     peerID,
		Status:     DialoguePending,
	}
}

// AddMessage appends to the in-memory history; the store persists new rows
// alongside the optimistic dialogue save.
func (d *Dialogue) AddMessage(role MessageRole, content string, peerMessageID int64, aiGenerated bool, tokensUsed int, at time.Time) *DialogueMessage {
	msg := DialogueMessage{
		ID:            uuid.New(),
		DialogueID:    d.ID,
		Role:          role,
		Content:       content,
		PeerMessageID: peerMessageID,
		AIGenerated:   aiGenerated,
		TokensUsed:    tokensUsed,
		CreatedAt:     at,
	}
	d.Messages = append(d.Messages, msg)
	t := at
	d.LastMessageAt = &t
	return &d.Messages[len(d.Messages)-1]
}

// Finished reports whether no further turns may run.
func (d *Dialogue) Finished() bool {
	switch d.Status {
	case DialogueCompleted, DialogueFailed, DialogueExpired, DialogueGoalReached:
		return true
	default:
		return false
	}
}

func (d *Dialogue) MarkInitiated() {
	d.Status = DialogueInitiated
}

// MarkActive records the first inbound response.
func (d *Dialogue) MarkActive() {
	d.Status = DialogueActive
}

// MarkGoalReached flags the goal message as delivered.
func (d *Dialogue) MarkGoalReached() {
	d.Status = DialogueGoalReached
	d.GoalMessageSent = true
}

func (d *Dialogue) MarkFailed(reason string) {
	d.Status = DialogueFailed
	d.FailReason = strings.TrimSpace(reason)
}

// MarkPaused hands the conversation to manual review.
func (d *Dialogue) MarkPaused() {
	d.Status = DialoguePaused
	d.NeedsReview = true
}

func (d *Dialogue) MarkExpired() {
	d.Status = DialogueExpired
}

// CountByRole reports how many history entries the given side produced.
func (d *Dialogue) CountByRole(role MessageRole) int {
	n := 0
	for _, m := range d.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
