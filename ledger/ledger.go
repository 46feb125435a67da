// Package ledger describes the external node that owns the on-chain wallet.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no ready node connection can be obtained.
// Callers treat it as retryable.
var ErrUnavailable = errors.New("ledger: node unavailable")

// RawTx is a wallet transaction as the node reports it. Amount is signed:
// positive for receives, negative (fee included) for sends.
type RawTx struct {
	TxHash           string   `json:"tx_hash"`
	Amount           int64    `json:"amount"`
	DestAddresses    []string `json:"dest_addresses"`
	NumConfirmations int32    `json:"num_confirmations"`
	BlockHeight      int32    `json:"block_height"`
	TimeStamp        int64    `json:"time_stamp"`
	TotalFees        int64    `json:"total_fees"`
	Label            string   `json:"label"`
}

func (r RawTx) Time() time.Time {
	return time.Unix(r.TimeStamp, 0).UTC()
}

// Source lists wallet transactions mined at or above a height, plus all
// unconfirmed ones, newest first.
type Source interface {
	ListTransactionsSince(ctx context.Context, startHeight int32) ([]RawTx, error)
}

// SendRequest is an on-chain payment. Label is stored by the node with the
// resulting transaction and comes back in RawTx.Label.
type SendRequest struct {
	Address     string
	Amount      int64
	SatPerVByte int64
	Label       string
}

// Client is a ready connection to the node.
type Client interface {
	Source
	NewAddress(ctx context.Context) (string, error)
	SendCoins(ctx context.Context, req SendRequest) (string, error)
}

// NodeBalance is the node wallet's own on-chain balance, across all
// custodial wallets.
type NodeBalance struct {
	Total       int64 `json:"total_balance"`
	Confirmed   int64 `json:"confirmed_balance"`
	Unconfirmed int64 `json:"unconfirmed_balance"`
}

// BalanceReader is implemented by clients that can report NodeBalance.
type BalanceReader interface {
	WalletBalance(ctx context.Context) (NodeBalance, error)
}

// Provider hands out the active client, connecting and unlocking on demand.
type Provider interface {
	Client(ctx context.Context) (Client, error)
}

// StaticProvider always returns the same client.
type StaticProvider struct {
	C Client
}

func (p StaticProvider) Client(context.Context) (Client, error) {
	if p.C == nil {
		return nil, ErrUnavailable
	}
	return p.C, nil
}
