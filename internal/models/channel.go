package models

import (
	"time"

	"github.com/google/uuid"
)

type Channel struct {
	ID             uuid.UUID  `json:"id"`
	TelegramChatID *int64     `json:"telegram_chat_id,omitempty"`
	Username       string     `json:"username"`
	Title          *string    `json:"title,omitempty"`
	AddedByUserID  *uuid.UUID `json:"added_by_user_id,omitempty"`
	BotStatus      string     `json:"bot_status"` // pending/active/removed
	UserbotStatus  string     `json:"userbot_status"`
	BotAddedAt     *time.Time `json:"bot_added_at,omitempty"`
	BotRemovedAt   *time.Time `json:"bot_removed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ChannelMember struct {
	ID               uuid.UUID  `json:"id"`
	ChannelID        uuid.UUID  `json:"channel_id"`
	UserID           uuid.UUID  `json:"user_id"`
	Role             string     `json:"role"` // owner / manager
	CanPost          bool       `json:"can_post"`
	LastAdminCheckAt *time.Time `json:"last_admin_check_at,omitempty"`
}
