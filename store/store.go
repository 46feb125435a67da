// Package store defines the transactional document store the sync engine
// and the balance aggregator share.
package store

import (
	"context"
	"errors"
	"time"

	"custodial-wallet-service/models"
)

var (
	// ErrNotFound is returned by single-record reads.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when a transaction kept hitting concurrent
	// writers and ran out of attempts. Retryable.
	ErrConflict = errors.New("store: write conflict")

	// ErrWriteSetTooLarge is returned when a transaction writes more
	// records than the store accepts atomically.
	ErrWriteSetTooLarge = errors.New("store: write set too large")
)

const (
	DefaultMaxWriteOps = 500
	DefaultTxAttempts  = 5
)

// Tx is one atomic read-write unit. Reads see the transaction's own writes.
// The function passed to RunTransaction may be invoked more than once and
// must not keep side effects outside the Tx.
type Tx interface {
	Cursor() (models.SyncCursor, error)
	Address(address string) (models.Address, error)
	Wallet(id string) (models.Wallet, error)
	IncomingTx(address, txHash string) (models.IncomingTx, error)
	OutgoingTx(walletID, paymentID string) (models.OutgoingTx, error)
	IncomingTxs(address string) ([]models.IncomingTx, error)
	OutgoingTxs(walletID string) ([]models.OutgoingTx, error)
	WalletAddresses(walletID string) ([]models.Address, error)

	PutCursor(c models.SyncCursor) error
	PutIncomingTx(t models.IncomingTx) error
	PutOutgoingTx(t models.OutgoingTx) error
	PutWallet(w models.Wallet) error
	PutAddress(a models.Address) error

	// SetAddressSums writes only the balance fields of an address.
	SetAddressSums(a models.Address, sums models.Sums) error

	// SetWalletBalance writes one balance half, total_settled and
	// last_updated. The other half is not touched.
	SetWalletBalance(walletID string, dir models.Direction, sums models.Sums, settled int64, at time.Time) error
}

// Store is implemented by gormstore (postgres) and memstore.
type Store interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// KnownAddresses maps every address to its wallet id.
	KnownAddresses(ctx context.Context) (map[string]string, error)
	KnownWallets(ctx context.Context) ([]string, error)

	// Subscribe registers fn for changes committed from now on. The
	// returned func unsubscribes.
	Subscribe(fn func(Change)) func()
}
