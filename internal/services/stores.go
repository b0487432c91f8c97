package services

import (
	"context"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
)

// Narrow persistence interfaces consumed by the orchestrator and scheduler.
// The pgx repositories implement them; tests use in-memory fakes.

type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to statemachine.Status) (bool, error)
	UpdateBrief(ctx context.Context, id uuid.UUID, brief *string, publishFrom, publishTo *time.Time) (bool, error)
	SetOwnerWallet(ctx context.Context, id uuid.UUID, addr string) error
	ListByStatus(ctx context.Context, status statemachine.Status, limit int) ([]models.Deal, error)
	ListInactiveSince(ctx context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]models.Deal, error)
}

type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error)
	ListByState(ctx context.Context, state string, limit int) ([]models.Escrow, error)
	MarkFunded(ctx context.Context, dealID uuid.UUID, txHash, payerAddr string) (bool, error)
	MarkReleaseSubmitted(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error)
	MarkRefundSubmitted(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error)
	MarkReleased(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error)
	MarkRefunded(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error)
}

type CreativeStore interface {
	CreateVersion(ctx context.Context, c *models.CreativeVersion) error
	GetCurrent(ctx context.Context, dealID uuid.UUID) (*models.CreativeVersion, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.CreativeVersion, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, feedback *string) error
}

type PostingStore interface {
	Upsert(ctx context.Context, p *models.Posting) error
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Posting, error)
	MarkPosted(ctx context.Context, dealID uuid.UUID, chatID, messageID int64, postURL, contentHash string, postedAt time.Time) (bool, error)
	MarkVerified(ctx context.Context, dealID uuid.UUID, retained bool, verificationError *string) (bool, error)
	IncrementPublishAttempts(ctx context.Context, dealID uuid.UUID) (int, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type ChannelStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}
