// models/transaction.go
package models

import (
	"time"
)

// UnknownDestination marks an outgoing record reconstructed from the ledger
// when no payment request was recorded for it.
const UnknownDestination = "UNKNOWN"

// IncomingTx is a deposit to one of our addresses.
// Table name: incoming_txs
type IncomingTx struct {
	Address     string    `gorm:"primaryKey;type:varchar(128)" json:"address"`
	TxHash      string    `gorm:"primaryKey;type:varchar(64)" json:"tx_hash"`
	BlockHeight int32     `gorm:"not null" json:"block_height"`
	Timestamp   time.Time `gorm:"not null" json:"timestamp"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Status      TxStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
}

func (IncomingTx) TableName() string { return "incoming_txs" }

// Merge folds a fresh ledger observation into the stored record. A stale
// observation (lower status) is ignored so status never regresses. The bool
// reports whether anything changed.
func (t IncomingTx) Merge(obs IncomingTx) (IncomingTx, bool) {
	if obs.Status.Rank() < t.Status.Rank() {
		return t, false
	}

	next := t
	next.BlockHeight = obs.BlockHeight
	next.Timestamp = obs.Timestamp
	next.Amount = obs.Amount
	next.Status = obs.Status

	changed := next.BlockHeight != t.BlockHeight ||
		!next.Timestamp.Equal(t.Timestamp) ||
		next.Amount != t.Amount ||
		next.Status != t.Status
	return next, changed
}

// OutgoingTx is a payment made from a wallet. Amount excludes the fee.
// Table name: outgoing_txs
type OutgoingTx struct {
	WalletID    string     `gorm:"primaryKey;type:varchar(64)" json:"wallet_id"`
	PaymentID   string     `gorm:"primaryKey;type:varchar(64)" json:"payment_id"`
	ToAddress   string     `gorm:"type:varchar(128);not null" json:"to_address"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Fee         int64      `gorm:"not null" json:"fee"`
	TxHash      string     `gorm:"type:varchar(64);index" json:"tx_hash"`
	BlockHeight int32      `gorm:"not null" json:"block_height"`
	Timestamp   *time.Time `json:"timestamp"`
	Status      TxStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt   *time.Time `gorm:"autoCreateTime:false" json:"created"`
}

func (OutgoingTx) TableName() string { return "outgoing_txs" }

// Debit is what the payment takes out of the wallet.
func (t OutgoingTx) Debit() int64 {
	return t.Amount + t.Fee
}

// OutgoingObservation is what the ledger reports about a payment.
// GrossAmount is the absolute ledger amount, fee included.
type OutgoingObservation struct {
	WalletID    string
	PaymentID   string
	TxHash      string
	GrossAmount int64
	Fee         int64
	BlockHeight int32
	Timestamp   time.Time
	Status      TxStatus
}

// Apply updates fee, hash, block height, timestamp and status from the
// ledger. Requested fields (destination, amount, created) are kept.
func (t OutgoingTx) Apply(obs OutgoingObservation) (OutgoingTx, bool) {
	if obs.Status.Rank() < t.Status.Rank() {
		return t, false
	}

	ts := obs.Timestamp
	next := t
	next.TxHash = obs.TxHash
	next.Fee = obs.Fee
	next.BlockHeight = obs.BlockHeight
	next.Timestamp = &ts
	next.Status = obs.Status

	changed := next.TxHash != t.TxHash ||
		next.Fee != t.Fee ||
		next.BlockHeight != t.BlockHeight ||
		t.Timestamp == nil || !t.Timestamp.Equal(ts) ||
		next.Status != t.Status
	return next, changed
}

// PlaceholderOutgoing reconstructs a payment record that exists on the
// ledger but was never recorded locally.
func PlaceholderOutgoing(obs OutgoingObservation) OutgoingTx {
	ts := obs.Timestamp
	return OutgoingTx{
		WalletID:    obs.WalletID,
		PaymentID:   obs.PaymentID,
		ToAddress:   UnknownDestination,
		Amount:      obs.GrossAmount - obs.Fee,
		Fee:         obs.Fee,
		TxHash:      obs.TxHash,
		BlockHeight: obs.BlockHeight,
		Timestamp:   &ts,
		Status:      obs.Status,
	}
}

// SyncCursorID is the key of the singleton cursor row.
const SyncCursorID = "lnd_sync"

// SyncCursor is the block height the next sync run starts from.
// Table name: sync_cursors
type SyncCursor struct {
	ID          string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	BlockHeight int32     `gorm:"not null" json:"block_height"`
	Timestamp   time.Time `gorm:"not null" json:"timestamp"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }
