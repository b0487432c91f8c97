package models

import (
	"time"

	"github.com/google/uuid"
)

// On-chain contract states as the backend believes them. Monotonic:
// init -> funded -> released|refunded. Always re-derived from chain reads
// before any irreversible action.
const (
	EscrowStateInit     = "init"
	EscrowStateFunded   = "funded"
	EscrowStateReleased = "released"
	EscrowStateRefunded = "refunded"
)

// Escrow mirrors one on-chain escrow contract, one-to-one with a deal.
type Escrow struct {
	ID     uuid.UUID `json:"id"`
	DealID uuid.UUID `json:"deal_id"`

	ContractAddress   string `json:"contract_address"`
	AdvertiserAddress string `json:"advertiser_address"`
	OwnerAddress      string `json:"owner_address"`
	PlatformAddress   string `json:"platform_address"`
	AmountTON         string `json:"amount_ton"` // numeric as string
	FeePercent        int    `json:"fee_percent"`

	Deadline     *time.Time `json:"deadline,omitempty"`
	OnChainState string     `json:"on_chain_state"`

	// Tx hashes per operation, for idempotency and audit.
	DeployTxHash  *string `json:"deploy_tx_hash,omitempty"`
	DepositTxHash *string `json:"deposit_tx_hash,omitempty"`
	ReleaseTxHash *string `json:"release_tx_hash,omitempty"`
	RefundTxHash  *string `json:"refund_tx_hash,omitempty"`

	// Submission markers: once a release/refund trigger has been sent to the
	// contract it must never be sent again, even if the request is retried.
	ReleaseSubmittedAt *time.Time `json:"release_submitted_at,omitempty"`
	RefundSubmittedAt  *time.Time `json:"refund_submitted_at,omitempty"`

	FundedAt  *time.Time `json:"funded_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Completed reports whether the contract has reached a final on-chain state.
func (e *Escrow) Completed() bool {
	return e.OnChainState == EscrowStateReleased || e.OnChainState == EscrowStateRefunded
}
