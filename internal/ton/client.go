package ton

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// Client wraps a lite server connection for escrow contract reads.
type Client struct {
	api ton.APIClientWrapped
	log *zap.Logger
}

type ConnectOptions struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect establishes a connection to the TON network.
// If LiteServerHost + LiteServerKey are set, connects to that specific lite
// server; otherwise auto-discovers lite servers from the global TON config.
func Connect(ctx context.Context, opts ConnectOptions, log *zap.Logger) (*Client, error) {
	pool := liteclient.NewConnectionPool()

	if opts.LiteServerHost != "" && opts.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", opts.LiteServerHost, opts.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := pool.AddConnection(ctx, addr, opts.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(opts.Network) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", opts.Network))
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(opts.Network) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	api := ton.NewAPIClient(pool, proofPolicy).WithRetry()
	return &Client{api: api, log: log}, nil
}

// API exposes the underlying wrapped client (used by the platform wallet).
func (c *Client) API() ton.APIClientWrapped {
	return c.api
}

// Escrow getter values as returned by the contract's escrowState method.
const (
	GetterStateInit     = 0
	GetterStateFunded   = 1
	GetterStateReleased = 2
	GetterStateRefunded = 3
)

// ContractState is a point-in-time read of an escrow contract account.
type ContractState struct {
	Deployed bool
	Balance  *big.Int // nanoTON
	// escrowState getter value, or -1 when the getter could not be executed
	// (account not yet deployed, or frozen).
	State int
}

// GetContractState reads the account and, when active, runs the escrowState
// getter. A missing account with zero balance after the contract was once
// funded means it has finished and destroyed itself; that interpretation
// belongs to the caller, this is a plain read.
func (c *Client) GetContractState(ctx context.Context, addr *address.Address) (*ContractState, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}

	account, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr.String(), err)
	}

	state := &ContractState{Deployed: false, Balance: big.NewInt(0), State: -1}
	if account == nil || !account.IsActive {
		return state, nil
	}
	state.Deployed = true
	if account.State != nil {
		state.Balance = account.State.Balance.Nano()
	}

	res, err := c.api.RunGetMethod(ctx, block, addr, "escrowState")
	if err != nil {
		// Deployed but getter failed. Report the balance, caller may fall
		// back to balance-based checks.
		c.log.Debug("escrowState getter failed", zap.String("addr", addr.String()), zap.Error(err))
		return state, nil
	}

	v, err := res.Int(0)
	if err != nil {
		return state, nil
	}
	state.State = int(v.Int64())
	return state, nil
}

// IncomingTransfer is a parsed inbound payment to an escrow contract.
type IncomingTransfer struct {
	TxHash     string
	FromAddr   string
	AmountNano *big.Int
	LT         uint64
}

// FindDeposit scans recent transactions of the contract for an incoming
// transfer of at least minNano and returns the newest match.
func (c *Client) FindDeposit(ctx context.Context, addr *address.Address, minNano *big.Int) (*IncomingTransfer, error) {
	txs, err := c.listRecent(ctx, addr, 32)
	if err != nil {
		return nil, err
	}
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		if tx.IO.In == nil {
			continue
		}
		inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
		if !ok || inMsg == nil || inMsg.Bounced {
			continue
		}
		if inMsg.Amount.Nano().Cmp(minNano) < 0 {
			continue
		}
		return &IncomingTransfer{
			TxHash:     fmt.Sprintf("%x", tx.Hash),
			FromAddr:   inMsg.SrcAddr.String(),
			AmountNano: inMsg.Amount.Nano(),
			LT:         tx.LT,
		}, nil
	}
	return nil, nil
}

// listRecent fetches up to limit latest transactions of the account,
// oldest-first as returned by ListTransactions.
func (c *Client) listRecent(ctx context.Context, addr *address.Address, limit uint32) ([]*tlb.Transaction, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	account, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil || account.LastTxLT == 0 {
		return nil, nil
	}
	txs, err := c.api.ListTransactions(ctx, addr, limit, account.LastTxLT, account.LastTxHash)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
