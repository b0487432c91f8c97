package ton

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// Gas attached to release/refund trigger messages. If a trigger is not
// reflected in contract state the next attempt bumps the gas, up to the cap.
var (
	triggerGasInitial = tlb.MustFromTON("0.1")
	triggerGasStep    = tlb.MustFromTON("0.05")
	triggerGasMax     = tlb.MustFromTON("0.2")
)

const (
	triggerAttempts    = 3
	triggerVerifyDelay = 10 * time.Second
)

// PlatformWallet is the platform-controlled signer that triggers escrow
// release/refund. Only this wallet's messages are accepted by the contract
// for those opcodes.
type PlatformWallet struct {
	w      *wallet.Wallet
	client *Client
	log    *zap.Logger
}

// NewPlatformWallet derives a V4R2 wallet from the mnemonic seed phrase.
func NewPlatformWallet(client *Client, mnemonic string, log *zap.Logger) (*PlatformWallet, error) {
	words := strings.Fields(strings.TrimSpace(mnemonic))
	if len(words) != 24 {
		return nil, fmt.Errorf("platform wallet mnemonic must be 24 words, got %d", len(words))
	}
	w, err := wallet.FromSeed(client.API(), words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("derive platform wallet: %w", err)
	}
	return &PlatformWallet{w: w, client: client, log: log}, nil
}

func (p *PlatformWallet) Address() *address.Address {
	return p.w.WalletAddress()
}

// TriggerRelease sends the release opcode to the contract and waits until the
// contract state reflects it. Returns the trigger tx hash.
func (p *PlatformWallet) TriggerRelease(ctx context.Context, contract *address.Address) (string, error) {
	return p.trigger(ctx, contract, ReleaseOpcode, GetterStateReleased)
}

// TriggerRefund sends the refund opcode to the contract and waits until the
// contract state reflects it. Returns the trigger tx hash.
func (p *PlatformWallet) TriggerRefund(ctx context.Context, contract *address.Address) (string, error) {
	return p.trigger(ctx, contract, RefundOpcode, GetterStateRefunded)
}

// trigger sends the opcode with growing gas until the contract reaches the
// wanted state. The contract destroys itself on completion, so a vanished
// account with zero balance also counts as success.
func (p *PlatformWallet) trigger(ctx context.Context, contract *address.Address, opcode uint64, wantState int) (string, error) {
	gas := triggerGasInitial
	var lastErr error

	for attempt := 1; attempt <= triggerAttempts; attempt++ {
		queryID := rand.Uint64()
		body := TriggerBody(opcode, queryID)

		p.log.Info("sending escrow trigger",
			zap.String("contract", contract.String()),
			zap.Uint64("opcode", opcode),
			zap.String("gas", gas.String()),
			zap.Int("attempt", attempt),
		)

		tx, _, err := p.w.SendWaitTransaction(ctx, wallet.SimpleMessage(contract, gas, body))
		if err != nil {
			lastErr = fmt.Errorf("send trigger (attempt %d): %w", attempt, err)
			p.log.Warn("trigger send failed", zap.Error(err))
		} else {
			txHash := fmt.Sprintf("%x", tx.Hash)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(triggerVerifyDelay):
			}

			state, err := p.client.GetContractState(ctx, contract)
			if err != nil {
				lastErr = fmt.Errorf("verify trigger: %w", err)
			} else if state.State == wantState || (!state.Deployed && state.Balance.Sign() == 0) {
				return txHash, nil
			} else {
				lastErr = fmt.Errorf("contract state %d after trigger, want %d", state.State, wantState)
			}
		}

		// Bump gas for the next try.
		bumped := new(big.Int).Add(gas.Nano(), triggerGasStep.Nano())
		if bumped.Cmp(triggerGasMax.Nano()) > 0 {
			bumped = triggerGasMax.Nano()
		}
		gas = tlb.FromNanoTON(bumped)
	}

	return "", fmt.Errorf("escrow trigger not confirmed after %d attempts: %w", triggerAttempts, lastErr)
}
