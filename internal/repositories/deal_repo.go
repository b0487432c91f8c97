package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

const dealColumns = `id, advertiser_user_id, owner_user_id, channel_id, campaign_id,
       status, price_ton, currency, brief, publish_from, publish_to,
       owner_wallet_address, owner_wallet_confirmed, last_activity_at, created_at, updated_at`

func scanDeal(row interface{ Scan(...any) error }, d *models.Deal) error {
	return row.Scan(&d.ID, &d.AdvertiserUserID, &d.OwnerUserID, &d.ChannelID, &d.CampaignID,
		&d.Status, &d.PriceTON, &d.Currency, &d.Brief, &d.PublishFrom, &d.PublishTo,
		&d.OwnerWalletAddress, &d.OwnerWalletConfirmed, &d.LastActivityAt, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) Create(ctx context.Context, d *models.Deal) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO deals (advertiser_user_id, owner_user_id, channel_id, campaign_id,
		                   status, price_ton, currency, brief, publish_from, publish_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, last_activity_at, created_at, updated_at
	`, d.AdvertiserUserID, d.OwnerUserID, d.ChannelID, d.CampaignID,
		d.Status, d.PriceTON, d.Currency, d.Brief, d.PublishFrom, d.PublishTo,
	).Scan(&d.ID, &d.LastActivityAt, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var d models.Deal
	err := scanDeal(r.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id), &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) GetByIDWithChannel(ctx context.Context, id uuid.UUID) (*models.DealWithChannel, error) {
	var d models.DealWithChannel
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.advertiser_user_id, d.owner_user_id, d.channel_id, d.campaign_id,
		       d.status, d.price_ton, d.currency, d.brief, d.publish_from, d.publish_to,
		       d.owner_wallet_address, d.owner_wallet_confirmed, d.last_activity_at, d.created_at, d.updated_at,
		       c.title, c.username
		FROM deals d
		JOIN channels c ON c.id = d.channel_id
		WHERE d.id = $1
	`, id).Scan(&d.ID, &d.AdvertiserUserID, &d.OwnerUserID, &d.ChannelID, &d.CampaignID,
		&d.Status, &d.PriceTON, &d.Currency, &d.Brief, &d.PublishFrom, &d.PublishTo,
		&d.OwnerWalletAddress, &d.OwnerWalletConfirmed, &d.LastActivityAt, &d.CreatedAt, &d.UpdatedAt,
		&d.ChannelTitle, &d.ChannelUsername)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type DealFilter struct {
	AdvertiserUserID *uuid.UUID
	OwnerUserID      *uuid.UUID
	ChannelID        *uuid.UUID
	Status           *statemachine.Status
	Limit            int
	Offset           int
}

func (r *DealRepo) List(ctx context.Context, f DealFilter) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.AdvertiserUserID != nil {
		where = append(where, fmt.Sprintf("advertiser_user_id = $%d", argIdx))
		args = append(args, *f.AdvertiserUserID)
		argIdx++
	}
	if f.OwnerUserID != nil {
		where = append(where, fmt.Sprintf("owner_user_id = $%d", argIdx))
		args = append(args, *f.OwnerUserID)
		argIdx++
	}
	if f.ChannelID != nil {
		where = append(where, fmt.Sprintf("channel_id = $%d", argIdx))
		args = append(args, *f.ChannelID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*f.Status))
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		if err := scanDeal(rows, &d); err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, nil
}

// UpdateStatusCAS moves a deal from one status to another only if it is still
// in the expected status. Returns false when another writer got there first;
// together with the per-deal lock this is what serializes transitions.
func (r *DealRepo) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to statemachine.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET status = $1, last_activity_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateBrief edits advertiser requirements; allowed only while in draft,
// enforced here as well as in the orchestrator.
func (r *DealRepo) UpdateBrief(ctx context.Context, id uuid.UUID, brief *string, publishFrom, publishTo *time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET brief = $1, publish_from = $2, publish_to = $3,
		       last_activity_at = now(), updated_at = now()
		WHERE id = $4 AND status = 'draft'
	`, brief, publishFrom, publishTo, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DealRepo) SetOwnerWallet(ctx context.Context, id uuid.UUID, addr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deals SET owner_wallet_address = $1, owner_wallet_confirmed = true,
		       last_activity_at = now(), updated_at = now()
		WHERE id = $2
	`, addr, id)
	return err
}

func (r *DealRepo) ListByStatus(ctx context.Context, status statemachine.Status, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals WHERE status = $1 ORDER BY updated_at ASC LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		if err := scanDeal(rows, &d); err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, nil
}

// ListInactiveSince returns deals in any of the given statuses whose last
// activity is older than the cutoff. Used by the timeout sweep.
func (r *DealRepo) ListInactiveSince(ctx context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE status = ANY($1) AND last_activity_at < $2
		ORDER BY last_activity_at ASC LIMIT $3
	`, ss, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		var d models.Deal
		if err := scanDeal(rows, &d); err != nil {
			return nil, err
		}
		deals = append(deals, d)
	}
	return deals, nil
}
