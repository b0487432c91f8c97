package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/ton"
	"github.com/google/uuid"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

// ChainReader reads escrow contract state from the chain.
type ChainReader interface {
	GetContractState(ctx context.Context, addr *address.Address) (*ton.ContractState, error)
	FindDeposit(ctx context.Context, addr *address.Address, minNano *big.Int) (*ton.IncomingTransfer, error)
}

// ChainSigner submits platform-signed release/refund triggers.
type ChainSigner interface {
	Address() *address.Address
	TriggerRelease(ctx context.Context, contract *address.Address) (string, error)
	TriggerRefund(ctx context.Context, contract *address.Address) (string, error)
}

// Percentage of the expected deposit that may be eaten by forwarding gas and
// still count as fully funded.
const depositGasTolerancePct = 10

// EscrowService owns the escrow ledger and all contract interactions.
// Everything here is idempotent: creation is address-deterministic, deposit
// checks re-read the chain, release/refund triggers are guarded by
// submitted-at markers plus a fresh chain read.
type EscrowService struct {
	escrows    EscrowStore
	chain      ChainReader
	signer     ChainSigner
	code       *cell.Cell
	feePercent int
	log        *zap.Logger
}

func NewEscrowService(escrows EscrowStore, chain ChainReader, signer ChainSigner, code *cell.Cell, feePercent int, log *zap.Logger) *EscrowService {
	return &EscrowService{
		escrows:    escrows,
		chain:      chain,
		signer:     signer,
		code:       code,
		feePercent: feePercent,
		log:        log,
	}
}

func (s *EscrowService) params(dealID uuid.UUID, advertiserAddr, ownerAddr, amountTON string) (ton.EscrowParams, error) {
	adv, err := address.ParseAddr(advertiserAddr)
	if err != nil {
		return ton.EscrowParams{}, fmt.Errorf("invalid advertiser address: %w", err)
	}
	own, err := address.ParseAddr(ownerAddr)
	if err != nil {
		return ton.EscrowParams{}, fmt.Errorf("invalid owner address: %w", err)
	}
	nano, err := ton.TONToNano(amountTON)
	if err != nil {
		return ton.EscrowParams{}, err
	}
	return ton.EscrowParams{
		DealID:     dealID,
		Advertiser: adv,
		Owner:      own,
		Platform:   s.signer.Address(),
		AmountNano: nano,
		FeePercent: s.feePercent,
	}, nil
}

// EnsureCreated returns the deal's escrow, creating the ledger row on first
// call. The contract address is derived deterministically from the deal, so
// calling this twice can never produce a second contract.
func (s *EscrowService) EnsureCreated(ctx context.Context, deal *models.Deal, advertiserAddr string) (*models.Escrow, error) {
	if existing, err := s.escrows.GetByDealID(ctx, deal.ID); err == nil {
		return existing, nil
	}

	if deal.OwnerWalletAddress == nil || !deal.OwnerWalletConfirmed {
		return nil, &PreconditionError{Reason: "owner payout wallet is not confirmed"}
	}

	p, err := s.params(deal.ID, advertiserAddr, *deal.OwnerWalletAddress, deal.PriceTON)
	if err != nil {
		return nil, &PreconditionError{Reason: err.Error()}
	}

	contractAddr, _, err := ton.ContractAddress(s.code, p)
	if err != nil {
		return nil, err
	}

	escrow := &models.Escrow{
		DealID:            deal.ID,
		ContractAddress:   contractAddr.String(),
		AdvertiserAddress: advertiserAddr,
		OwnerAddress:      *deal.OwnerWalletAddress,
		PlatformAddress:   s.signer.Address().String(),
		AmountTON:         deal.PriceTON,
		FeePercent:        s.feePercent,
		Deadline:          deal.PublishTo,
		OnChainState:      models.EscrowStateInit,
	}
	if err := s.escrows.Create(ctx, escrow); err != nil {
		return nil, err
	}

	s.log.Info("escrow created",
		zap.String("deal_id", deal.ID.String()),
		zap.String("contract", escrow.ContractAddress),
		zap.String("amount_ton", escrow.AmountTON),
	)
	return escrow, nil
}

// PaymentInfo carries what the mini-app needs to build the deposit
// transaction: the deposit deploys the contract via the attached state init.
type PaymentInfo struct {
	ContractAddress string `json:"contract_address"`
	AmountTON       string `json:"amount_ton"`
	StateInitBOC    string `json:"state_init_boc"`
}

func (s *EscrowService) PaymentInfo(ctx context.Context, deal *models.Deal) (*PaymentInfo, error) {
	escrow, err := s.escrows.GetByDealID(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("escrow not found: %w", err)
	}
	p, err := s.params(deal.ID, escrow.AdvertiserAddress, escrow.OwnerAddress, escrow.AmountTON)
	if err != nil {
		return nil, err
	}
	_, state, err := ton.ContractAddress(s.code, p)
	if err != nil {
		return nil, err
	}
	boc, err := ton.StateInitBOC(state)
	if err != nil {
		return nil, err
	}
	return &PaymentInfo{
		ContractAddress: escrow.ContractAddress,
		AmountTON:       escrow.AmountTON,
		StateInitBOC:    boc,
	}, nil
}

// CheckDeposit re-reads the chain and reports whether the contract is funded.
// Trusts the escrowState getter first; falls back to the balance with a gas
// tolerance when the getter is unavailable.
func (s *EscrowService) CheckDeposit(ctx context.Context, escrow *models.Escrow) (bool, *ton.IncomingTransfer, error) {
	addr, err := address.ParseAddr(escrow.ContractAddress)
	if err != nil {
		return false, nil, err
	}
	state, err := s.chain.GetContractState(ctx, addr)
	if err != nil {
		return false, nil, &ExternalError{Op: "get contract state", Err: err}
	}

	funded := false
	switch {
	case state.State >= ton.GetterStateFunded:
		funded = true
	case state.State == -1 && state.Deployed:
		expected, err := ton.TONToNano(escrow.AmountTON)
		if err != nil {
			return false, nil, err
		}
		funded = ton.DepositCovers(state.Balance, expected, depositGasTolerancePct)
	}
	if !funded {
		return false, nil, nil
	}

	// Best-effort: pick up the deposit tx hash and payer for the ledger.
	expected, _ := ton.TONToNano(escrow.AmountTON)
	transfer, err := s.chain.FindDeposit(ctx, addr, expected)
	if err != nil {
		s.log.Debug("deposit tx lookup failed", zap.String("deal_id", escrow.DealID.String()), zap.Error(err))
	}
	return true, transfer, nil
}

// SubmitRelease sends the release trigger, exactly once per deal.
// Re-reads chain state first: if the contract already completed, the ledger
// is reconciled instead and no message is sent.
func (s *EscrowService) SubmitRelease(ctx context.Context, escrow *models.Escrow) error {
	return s.submit(ctx, escrow, true)
}

// SubmitRefund sends the refund trigger, exactly once per deal.
func (s *EscrowService) SubmitRefund(ctx context.Context, escrow *models.Escrow) error {
	return s.submit(ctx, escrow, false)
}

func (s *EscrowService) submit(ctx context.Context, escrow *models.Escrow, release bool) error {
	addr, err := address.ParseAddr(escrow.ContractAddress)
	if err != nil {
		return err
	}

	// Never fire a trigger when the chain already shows a final state.
	state, err := s.chain.GetContractState(ctx, addr)
	if err != nil {
		return &ExternalError{Op: "get contract state", Err: err}
	}
	switch {
	case state.State == ton.GetterStateReleased || (!state.Deployed && escrow.ReleaseSubmittedAt != nil):
		_, err := s.escrows.MarkReleased(ctx, escrow.DealID, "")
		return err
	case state.State == ton.GetterStateRefunded || (!state.Deployed && escrow.RefundSubmittedAt != nil):
		_, err := s.escrows.MarkRefunded(ctx, escrow.DealID, "")
		return err
	case state.State == ton.GetterStateInit, !state.Deployed:
		return &PreconditionError{Reason: "escrow is not funded on chain"}
	}

	// Claim the submission slot before sending; a retried request that lost
	// the claim must not send a second trigger.
	var claimed bool
	if release {
		claimed, err = s.escrows.MarkReleaseSubmitted(ctx, escrow.DealID, "")
	} else {
		claimed, err = s.escrows.MarkRefundSubmitted(ctx, escrow.DealID, "")
	}
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("escrow trigger already submitted, skipping",
			zap.String("deal_id", escrow.DealID.String()),
			zap.Bool("release", release),
		)
		return nil
	}

	var txHash string
	if release {
		txHash, err = s.signer.TriggerRelease(ctx, addr)
	} else {
		txHash, err = s.signer.TriggerRefund(ctx, addr)
	}
	if err != nil {
		// The trigger may still land; the completion sweep resolves it either
		// way from chain state.
		s.log.Error("escrow trigger failed",
			zap.String("deal_id", escrow.DealID.String()),
			zap.Bool("release", release),
			zap.Error(err),
		)
		return &ExternalError{Op: "escrow trigger", Err: err}
	}

	if release {
		_, err = s.escrows.MarkReleased(ctx, escrow.DealID, txHash)
	} else {
		_, err = s.escrows.MarkRefunded(ctx, escrow.DealID, txHash)
	}
	return err
}

// RetrySubmitted re-fires a trigger whose original send was claimed but may
// never have landed. Here the chain is the guard, not the submitted marker:
// if the contract already completed the ledger is just reconciled.
func (s *EscrowService) RetrySubmitted(ctx context.Context, escrow *models.Escrow) error {
	if escrow.ReleaseSubmittedAt == nil && escrow.RefundSubmittedAt == nil {
		return nil
	}
	addr, err := address.ParseAddr(escrow.ContractAddress)
	if err != nil {
		return err
	}
	state, err := s.chain.GetContractState(ctx, addr)
	if err != nil {
		return &ExternalError{Op: "get contract state", Err: err}
	}

	switch {
	case state.State == ton.GetterStateReleased || (!state.Deployed && escrow.ReleaseSubmittedAt != nil):
		_, err := s.escrows.MarkReleased(ctx, escrow.DealID, "")
		return err
	case state.State == ton.GetterStateRefunded || (!state.Deployed && escrow.RefundSubmittedAt != nil):
		_, err := s.escrows.MarkRefunded(ctx, escrow.DealID, "")
		return err
	case state.State != ton.GetterStateFunded:
		return nil
	}

	var txHash string
	if escrow.ReleaseSubmittedAt != nil {
		txHash, err = s.signer.TriggerRelease(ctx, addr)
		if err == nil {
			_, err = s.escrows.MarkReleased(ctx, escrow.DealID, txHash)
		}
	} else {
		txHash, err = s.signer.TriggerRefund(ctx, addr)
		if err == nil {
			_, err = s.escrows.MarkRefunded(ctx, escrow.DealID, txHash)
		}
	}
	return err
}

// ResolveChainState classifies the contract's current authoritative state.
// A destroyed account is disambiguated by which trigger we recorded sending;
// without any record it is reported as refunded only when the deadline-based
// auto refund could have fired, otherwise unknown ("").
func (s *EscrowService) ResolveChainState(ctx context.Context, escrow *models.Escrow) (string, error) {
	addr, err := address.ParseAddr(escrow.ContractAddress)
	if err != nil {
		return "", err
	}
	state, err := s.chain.GetContractState(ctx, addr)
	if err != nil {
		return "", &ExternalError{Op: "get contract state", Err: err}
	}

	switch state.State {
	case ton.GetterStateInit:
		return models.EscrowStateInit, nil
	case ton.GetterStateFunded:
		return models.EscrowStateFunded, nil
	case ton.GetterStateReleased:
		return models.EscrowStateReleased, nil
	case ton.GetterStateRefunded:
		return models.EscrowStateRefunded, nil
	}

	if !state.Deployed && state.Balance.Sign() == 0 {
		// Contract destroyed itself on completion.
		switch {
		case escrow.ReleaseSubmittedAt != nil:
			return models.EscrowStateReleased, nil
		case escrow.RefundSubmittedAt != nil:
			return models.EscrowStateRefunded, nil
		case escrow.OnChainState == models.EscrowStateFunded:
			// Someone else triggered completion (e.g. the public auto refund
			// after the deadline).
			return models.EscrowStateRefunded, nil
		}
	}
	return "", nil
}
