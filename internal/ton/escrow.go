package ton

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Escrow contract message opcodes.
const (
	ReleaseOpcode = 0x5642A0B8
	RefundOpcode  = 0xAD7C3ADD
)

// EscrowParams fully determine the contract's initial state, and therefore
// its address.
type EscrowParams struct {
	DealID     uuid.UUID
	Advertiser *address.Address
	Owner      *address.Address
	Platform   *address.Address
	AmountNano *big.Int
	FeePercent int
}

// ContractID maps the deal UUID onto the int deal id stored in contract data.
func (p EscrowParams) ContractID() *big.Int {
	v := binary.BigEndian.Uint64(p.DealID[:8])
	return new(big.Int).SetUint64(v)
}

// LoadEscrowCode parses the compiled contract code from a base64 BOC.
func LoadEscrowCode(b64 string) (*cell.Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode escrow code boc: %w", err)
	}
	code, err := cell.FromBOC(raw)
	if err != nil {
		return nil, fmt.Errorf("parse escrow code boc: %w", err)
	}
	return code, nil
}

// BuildStateInit assembles the contract's initial (code, data) pair.
// Data layout: b_0 = inited(1 bit, 0) | dealId(int257) | advertiser | owner,
// with a ref b_1 = platform | amount(int257) | feePercent(int257).
func BuildStateInit(code *cell.Cell, p EscrowParams) (*tlb.StateInit, error) {
	if code == nil {
		return nil, fmt.Errorf("escrow contract code is not configured")
	}
	b1 := cell.BeginCell().
		MustStoreAddr(p.Platform).
		MustStoreBigInt(p.AmountNano, 257).
		MustStoreBigInt(big.NewInt(int64(p.FeePercent)), 257).
		EndCell()
	data := cell.BeginCell().
		MustStoreUInt(0, 1).
		MustStoreBigInt(p.ContractID(), 257).
		MustStoreAddr(p.Advertiser).
		MustStoreAddr(p.Owner).
		MustStoreRef(b1).
		EndCell()

	return &tlb.StateInit{Code: code, Data: data}, nil
}

// ContractAddress derives the deterministic escrow address from the state
// init. Deploying twice for the same deal yields the same address, which is
// what makes escrow creation idempotent.
func ContractAddress(code *cell.Cell, p EscrowParams) (*address.Address, *tlb.StateInit, error) {
	state, err := BuildStateInit(code, p)
	if err != nil {
		return nil, nil, err
	}
	stateCell, err := tlb.ToCell(state)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize state init: %w", err)
	}
	return address.NewAddress(0, 0, stateCell.Hash()), state, nil
}

// StateInitBOC returns the base64 BOC of the state init, attached by the
// mini-app to the advertiser's deposit transaction so the deposit itself
// deploys the contract.
func StateInitBOC(state *tlb.StateInit) (string, error) {
	c, err := tlb.ToCell(state)
	if err != nil {
		return "", fmt.Errorf("serialize state init: %w", err)
	}
	return base64.StdEncoding.EncodeToString(c.ToBOC()), nil
}

// TriggerBody builds the body of a release/refund trigger message.
func TriggerBody(opcode uint64, queryID uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(opcode, 32).
		MustStoreUInt(queryID, 64).
		EndCell()
}

var nanoFactor = decimal.NewFromInt(1_000_000_000)

// TONToNano converts a decimal TON string (e.g. "5.5") to nanoTON.
func TONToNano(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid TON amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative TON amount %q", s)
	}
	return d.Mul(nanoFactor).Truncate(0).BigInt(), nil
}

// NanoToTON converts nanoTON to a decimal TON string.
func NanoToTON(nano *big.Int) string {
	return decimal.NewFromBigInt(nano, 0).Div(nanoFactor).String()
}

// DepositCovers reports whether the received amount covers the expected
// deposit allowing tolerance (in percent) for forwarding gas taken on the way.
func DepositCovers(balance, expected *big.Int, tolerancePct int) bool {
	exp := decimal.NewFromBigInt(expected, 0)
	min := exp.Mul(decimal.NewFromInt(int64(100 - tolerancePct))).Div(decimal.NewFromInt(100))
	return decimal.NewFromBigInt(balance, 0).GreaterThanOrEqual(min)
}
