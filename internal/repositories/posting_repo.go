package repositories

import (
	"context"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostingRepo struct {
	pool *pgxpool.Pool
}

func NewPostingRepo(pool *pgxpool.Pool) *PostingRepo {
	return &PostingRepo{pool: pool}
}

const postingColumns = `id, deal_id, channel_id, telegram_chat_id, telegram_message_id, post_url, content_hash,
       scheduled_at, posted_at, retention_hours, verified_at, retained, verification_error,
       publish_attempts, created_at`

func scanPosting(row interface{ Scan(...any) error }, p *models.Posting) error {
	return row.Scan(&p.ID, &p.DealID, &p.ChannelID, &p.TelegramChatID, &p.TelegramMessageID, &p.PostURL, &p.ContentHash,
		&p.ScheduledAt, &p.PostedAt, &p.RetentionHours, &p.VerifiedAt, &p.Retained, &p.VerificationError,
		&p.PublishAttempts, &p.CreatedAt)
}

// Upsert creates the posting row for a deal or updates its schedule.
func (r *PostingRepo) Upsert(ctx context.Context, p *models.Posting) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO postings (deal_id, channel_id, scheduled_at, retention_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (deal_id) DO UPDATE SET
			scheduled_at = EXCLUDED.scheduled_at,
			retention_hours = EXCLUDED.retention_hours
		RETURNING id, created_at
	`, p.DealID, p.ChannelID, p.ScheduledAt, p.RetentionHours).Scan(&p.ID, &p.CreatedAt)
}

func (r *PostingRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Posting, error) {
	var p models.Posting
	err := scanPosting(r.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE deal_id = $1`, dealID), &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPosted records publish results. posted_at is set exactly once; a second
// call is a no-op returning false.
func (r *PostingRepo) MarkPosted(ctx context.Context, dealID uuid.UUID, chatID, messageID int64, postURL, contentHash string, postedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE postings SET telegram_chat_id = $1, telegram_message_id = $2, post_url = $3,
		       content_hash = $4, posted_at = $5
		WHERE deal_id = $6 AND posted_at IS NULL
	`, chatID, messageID, postURL, contentHash, postedAt, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVerified commits the retention outcome. verified_at is set exactly once,
// which serializes concurrent verification attempts: only one commit wins.
func (r *PostingRepo) MarkVerified(ctx context.Context, dealID uuid.UUID, retained bool, verificationError *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE postings SET verified_at = now(), retained = $1, verification_error = $2
		WHERE deal_id = $3 AND posted_at IS NOT NULL AND verified_at IS NULL
	`, retained, verificationError, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostingRepo) IncrementPublishAttempts(ctx context.Context, dealID uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE postings SET publish_attempts = publish_attempts + 1 WHERE deal_id = $1
		RETURNING publish_attempts
	`, dealID).Scan(&attempts)
	return attempts, err
}
