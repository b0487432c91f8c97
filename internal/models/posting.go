package models

import (
	"time"

	"github.com/google/uuid"
)

// Posting tracks the published placement for a deal, at most one per deal.
// posted_at and verified_at are each set exactly once.
type Posting struct {
	ID                uuid.UUID  `json:"id"`
	DealID            uuid.UUID  `json:"deal_id"`
	ChannelID         uuid.UUID  `json:"channel_id"`
	TelegramChatID    *int64     `json:"telegram_chat_id,omitempty"`
	TelegramMessageID *int64     `json:"telegram_message_id,omitempty"`
	PostURL           *string    `json:"post_url,omitempty"`
	ContentHash       *string    `json:"content_hash,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	PostedAt          *time.Time `json:"posted_at,omitempty"`
	RetentionHours    int        `json:"retention_hours"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	Retained          *bool      `json:"retained,omitempty"`
	VerificationError *string    `json:"verification_error,omitempty"`
	PublishAttempts   int        `json:"publish_attempts"`
	CreatedAt         time.Time  `json:"created_at"`
}

// RetentionDeadline is the earliest moment verification may produce an outcome.
func (p *Posting) RetentionDeadline() (time.Time, bool) {
	if p.PostedAt == nil {
		return time.Time{}, false
	}
	return p.PostedAt.Add(time.Duration(p.RetentionHours) * time.Hour), true
}
