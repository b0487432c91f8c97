package repositories

import (
	"context"
	"encoding/json"

	"github.com/channelads/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CreativeRepo struct {
	pool *pgxpool.Pool
}

func NewCreativeRepo(pool *pgxpool.Pool) *CreativeRepo {
	return &CreativeRepo{pool: pool}
}

// CreateVersion inserts the next creative version and flips is_current off
// the previous one in a single transaction, so exactly one version is current
// at any point.
func (r *CreativeRepo) CreateVersion(ctx context.Context, c *models.CreativeVersion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var maxV *int
	if err := tx.QueryRow(ctx, `
		SELECT MAX(version) FROM creative_versions WHERE deal_id = $1
	`, c.DealID).Scan(&maxV); err != nil {
		return err
	}
	c.Version = 1
	if maxV != nil {
		c.Version = *maxV + 1
	}

	if _, err := tx.Exec(ctx, `
		UPDATE creative_versions SET is_current = false WHERE deal_id = $1 AND is_current = true
	`, c.DealID); err != nil {
		return err
	}

	mediaBytes, _ := json.Marshal(c.MediaURLs)
	c.Status = models.CreativeStatusSubmitted
	c.IsCurrent = true
	if err := tx.QueryRow(ctx, `
		INSERT INTO creative_versions (deal_id, version, text, media_urls, status, is_current)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id, created_at
	`, c.DealID, c.Version, c.Text, mediaBytes, c.Status).Scan(&c.ID, &c.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *CreativeRepo) GetCurrent(ctx context.Context, dealID uuid.UUID) (*models.CreativeVersion, error) {
	var c models.CreativeVersion
	var mediaBytes []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, deal_id, version, text, media_urls, status, feedback, is_current, created_at
		FROM creative_versions WHERE deal_id = $1 AND is_current = true
	`, dealID).Scan(&c.ID, &c.DealID, &c.Version, &c.Text, &mediaBytes, &c.Status, &c.Feedback, &c.IsCurrent, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(mediaBytes, &c.MediaURLs)
	return &c, nil
}

func (r *CreativeRepo) ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.CreativeVersion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, deal_id, version, text, media_urls, status, feedback, is_current, created_at
		FROM creative_versions WHERE deal_id = $1 ORDER BY version ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CreativeVersion
	for rows.Next() {
		var c models.CreativeVersion
		var mediaBytes []byte
		if err := rows.Scan(&c.ID, &c.DealID, &c.Version, &c.Text, &mediaBytes, &c.Status, &c.Feedback, &c.IsCurrent, &c.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(mediaBytes, &c.MediaURLs)
		out = append(out, c)
	}
	return out, nil
}

// SetStatus updates the review status of one version; feedback is stored only
// for request_changes.
func (r *CreativeRepo) SetStatus(ctx context.Context, id uuid.UUID, status string, feedback *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE creative_versions SET status = $1, feedback = $2 WHERE id = $3
	`, status, feedback, id)
	return err
}
