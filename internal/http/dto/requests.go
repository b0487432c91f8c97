package dto

import "time"

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

type CreateChannelRequest struct {
	Username string `json:"username"`
}

type AddManagerRequest struct {
	TelegramUserID int64 `json:"telegram_user_id"`
}

type CreateDealRequest struct {
	ChannelID   string     `json:"channel_id"`
	CampaignID  *string    `json:"campaign_id,omitempty"`
	PriceTON    string     `json:"price_ton"`
	Brief       *string    `json:"brief,omitempty"`
	PublishFrom *time.Time `json:"publish_from,omitempty"`
	PublishTo   *time.Time `json:"publish_to,omitempty"`
}

type UpdateBriefRequest struct {
	Brief       *string    `json:"brief,omitempty"`
	PublishFrom *time.Time `json:"publish_from,omitempty"`
	PublishTo   *time.Time `json:"publish_to,omitempty"`
}

type RequestEscrowRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type SubmitCreativeRequest struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type RequestCreativeChangesRequest struct {
	Feedback string `json:"feedback"`
}

type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

type MarkPostedRequest struct {
	ChatID    int64  `json:"chat_id,omitempty"`
	MessageID int64  `json:"message_id"`
	PostURL   string `json:"post_url,omitempty"`
}

type SetDealWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// Campaigns

type CreateCampaignRequest struct {
	Title          string     `json:"title"`
	TargetAudience string     `json:"target_audience"`
	KeyMessages    *string    `json:"key_messages,omitempty"`
	BudgetTON      string     `json:"budget_ton"`
	PreferredDate  *time.Time `json:"preferred_date,omitempty"`
}

type UpdateCampaignRequest struct {
	Title          string     `json:"title"`
	TargetAudience string     `json:"target_audience"`
	KeyMessages    *string    `json:"key_messages,omitempty"`
	BudgetTON      string     `json:"budget_ton"`
	PreferredDate  *time.Time `json:"preferred_date,omitempty"`
	Status         string     `json:"status,omitempty"`
}
