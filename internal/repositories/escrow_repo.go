package repositories

import (
	"context"

	"github.com/channelads/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, deal_id, contract_address, advertiser_address, owner_address, platform_address,
       amount_ton, fee_percent, deadline, on_chain_state,
       deploy_tx_hash, deposit_tx_hash, release_tx_hash, refund_tx_hash,
       release_submitted_at, refund_submitted_at, funded_at, created_at, updated_at`

func scanEscrow(row interface{ Scan(...any) error }, e *models.Escrow) error {
	return row.Scan(&e.ID, &e.DealID, &e.ContractAddress, &e.AdvertiserAddress, &e.OwnerAddress, &e.PlatformAddress,
		&e.AmountTON, &e.FeePercent, &e.Deadline, &e.OnChainState,
		&e.DeployTxHash, &e.DepositTxHash, &e.ReleaseTxHash, &e.RefundTxHash,
		&e.ReleaseSubmittedAt, &e.RefundSubmittedAt, &e.FundedAt, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO escrows (deal_id, contract_address, advertiser_address, owner_address, platform_address,
		                     amount_ton, fee_percent, deadline, on_chain_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, e.DealID, e.ContractAddress, e.AdvertiserAddress, e.OwnerAddress, e.PlatformAddress,
		e.AmountTON, e.FeePercent, e.Deadline, e.OnChainState,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.Escrow, error) {
	var e models.Escrow
	err := scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE deal_id = $1`, dealID), &e)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByState returns escrows in a given on-chain belief state, oldest first.
// Sweeps walk these in batches.
func (r *EscrowRepo) ListByState(ctx context.Context, state string, limit int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows WHERE on_chain_state = $1 ORDER BY updated_at ASC LIMIT $2
	`, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Escrow
	for rows.Next() {
		var e models.Escrow
		if err := scanEscrow(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkFunded advances init -> funded. No-op (returns false) if already past init.
func (r *EscrowRepo) MarkFunded(ctx context.Context, dealID uuid.UUID, txHash, payerAddr string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET on_chain_state = 'funded', funded_at = now(),
		       deposit_tx_hash = $1, advertiser_address = COALESCE(NULLIF($2, ''), advertiser_address),
		       updated_at = now()
		WHERE deal_id = $3 AND on_chain_state = 'init'
	`, txHash, payerAddr, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReleaseSubmitted records that a release trigger was sent. Returns false
// when a trigger was already recorded; callers must not send a second one.
func (r *EscrowRepo) MarkReleaseSubmitted(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET release_submitted_at = now(), release_tx_hash = $1, updated_at = now()
		WHERE deal_id = $2 AND release_submitted_at IS NULL AND refund_submitted_at IS NULL
	`, txHash, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefundSubmitted records that a refund trigger was sent.
func (r *EscrowRepo) MarkRefundSubmitted(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET refund_submitted_at = now(), refund_tx_hash = $1, updated_at = now()
		WHERE deal_id = $2 AND refund_submitted_at IS NULL AND release_submitted_at IS NULL
	`, txHash, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReleased advances funded -> released.
func (r *EscrowRepo) MarkReleased(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET on_chain_state = 'released',
		       release_tx_hash = COALESCE(NULLIF($1, ''), release_tx_hash), updated_at = now()
		WHERE deal_id = $2 AND on_chain_state = 'funded'
	`, txHash, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRefunded advances funded -> refunded.
func (r *EscrowRepo) MarkRefunded(ctx context.Context, dealID uuid.UUID, txHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET on_chain_state = 'refunded',
		       refund_tx_hash = COALESCE(NULLIF($1, ''), refund_tx_hash), updated_at = now()
		WHERE deal_id = $2 AND on_chain_state = 'funded'
	`, txHash, dealID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
