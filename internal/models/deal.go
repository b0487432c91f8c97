package models

import (
	"time"

	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
)

// Deal is the aggregate root of one advertising placement between an
// advertiser and a channel owner. Status is mutated only through the
// transition engine; everything else the orchestrator owns directly.
type Deal struct {
	ID               uuid.UUID `json:"id"`
	AdvertiserUserID uuid.UUID `json:"advertiser_user_id"`
	OwnerUserID      uuid.UUID `json:"owner_user_id"`
	ChannelID        uuid.UUID `json:"channel_id"`
	// Источник сделки: кампания рекламодателя, если создана из неё.
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`

	Status   statemachine.Status `json:"status"`
	PriceTON string              `json:"price_ton"` // numeric as string
	Currency string              `json:"currency"`

	// Advertiser-authored requirements, mutable only while in draft.
	Brief       *string    `json:"brief,omitempty"`
	PublishFrom *time.Time `json:"publish_from,omitempty"`
	PublishTo   *time.Time `json:"publish_to,omitempty"`

	// Payout destination; confirmed via TON Connect proof before escrow
	// creation may proceed.
	OwnerWalletAddress   *string `json:"owner_wallet_address,omitempty"`
	OwnerWalletConfirmed bool    `json:"owner_wallet_confirmed"`

	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActorFor resolves the lifecycle role of a user on this deal.
// Returns "" if the user is not a party.
func (d *Deal) ActorFor(userID uuid.UUID) statemachine.Actor {
	switch userID {
	case d.AdvertiserUserID:
		return statemachine.ActorAdvertiser
	case d.OwnerUserID:
		return statemachine.ActorOwner
	}
	return ""
}

// Counterparties returns the parties to notify after actor acted:
// the other side, or both sides for system events.
func (d *Deal) Counterparties(actor statemachine.Actor) []uuid.UUID {
	switch actor {
	case statemachine.ActorAdvertiser:
		return []uuid.UUID{d.OwnerUserID}
	case statemachine.ActorOwner:
		return []uuid.UUID{d.AdvertiserUserID}
	}
	return []uuid.UUID{d.AdvertiserUserID, d.OwnerUserID}
}

const CurrencyTON = "TON"

// DealWithChannel embeds Deal and adds channel info to avoid N+1 queries.
type DealWithChannel struct {
	Deal
	ChannelTitle    *string `json:"channel_title,omitempty"`
	ChannelUsername *string `json:"channel_username,omitempty"`
}
