// services/balance_aggregator.go
package services

import (
	"context"
	"errors"
	"fmt"

	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
)

// BalanceAggregator recomputes derived balances from scratch. Every
// recomputation is a full rescan inside one store transaction, so replays
// and out-of-order triggers converge on the same result.
type BalanceAggregator struct {
	store store.Store
	clock clock.Clock
	log   *zap.Logger
}

func NewBalanceAggregator(st store.Store, clk clock.Clock, log *zap.Logger) *BalanceAggregator {
	return &BalanceAggregator{store: st, clock: clk, log: log}
}

// sumIncoming splits deposits into confirmed and everything else.
func sumIncoming(txs []models.IncomingTx) models.Sums {
	var s models.Sums
	for _, t := range txs {
		if t.Status.Confirmed() {
			s.Confirmed += t.Amount
		} else {
			s.Unconfirmed += t.Amount
		}
	}
	return s
}

// sumOutgoing adds up each payment's debit (amount plus fee).
func sumOutgoing(txs []models.OutgoingTx) models.Sums {
	var s models.Sums
	for _, t := range txs {
		if t.Status.Confirmed() {
			s.Confirmed += t.Debit()
		} else {
			s.Unconfirmed += t.Debit()
		}
	}
	return s
}

// sumAddresses adds address aggregates; addresses not aggregated yet count
// as zero.
func sumAddresses(addrs []models.Address) models.Sums {
	var s models.Sums
	for _, a := range addrs {
		s = s.Add(a.Sums().UnwrapOr(models.Sums{}))
	}
	return s
}

// RecomputeAddress rebuilds an address's confirmed/unconfirmed sums from its
// deposits. A missing address is a no-op.
func (a *BalanceAggregator) RecomputeAddress(ctx context.Context, address string) error {
	var sums models.Sums
	var skipped bool

	err := a.store.RunTransaction(ctx, func(tx store.Tx) error {
		skipped = false

		addr, err := tx.Address(address)
		if errors.Is(err, store.ErrNotFound) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}

		txs, err := tx.IncomingTxs(address)
		if err != nil {
			return err
		}
		sums = sumIncoming(txs)

		current := addr.Sums()
		if current.IsSome() && current.UnwrapOr(models.Sums{}) == sums {
			skipped = true
			return nil
		}
		return tx.SetAddressSums(addr, sums)
	})
	if err != nil {
		return fmt.Errorf("recompute address %s: %w", address, err)
	}

	if !skipped {
		a.log.Debug("address balance updated",
			zap.String("address", address),
			zap.Stringer("confirmed", btcutil.Amount(sums.Confirmed)),
			zap.Stringer("unconfirmed", btcutil.Amount(sums.Unconfirmed)),
		)
	}
	return nil
}

// RecomputeWalletIncoming rebuilds a wallet's incoming half from its
// addresses' aggregates.
func (a *BalanceAggregator) RecomputeWalletIncoming(ctx context.Context, walletID string) error {
	return a.recomputeWallet(ctx, walletID, models.Incoming, func(tx store.Tx) (models.Sums, error) {
		addrs, err := tx.WalletAddresses(walletID)
		if err != nil {
			return models.Sums{}, err
		}
		return sumAddresses(addrs), nil
	})
}

// RecomputeWalletOutgoing rebuilds a wallet's outgoing half from its
// payment records.
func (a *BalanceAggregator) RecomputeWalletOutgoing(ctx context.Context, walletID string) error {
	return a.recomputeWallet(ctx, walletID, models.Outgoing, func(tx store.Tx) (models.Sums, error) {
		txs, err := tx.OutgoingTxs(walletID)
		if err != nil {
			return models.Sums{}, err
		}
		return sumOutgoing(txs), nil
	})
}

func (a *BalanceAggregator) recomputeWallet(ctx context.Context, walletID string, dir models.Direction,
	compute func(tx store.Tx) (models.Sums, error)) error {

	var updated models.Wallet
	var found bool

	err := a.store.RunTransaction(ctx, func(tx store.Tx) error {
		w, err := tx.Wallet(walletID)
		if errors.Is(err, store.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		sums, err := compute(tx)
		if err != nil {
			return err
		}

		w.ApplyBalance(dir, sums, a.clock.Now())
		updated = w
		return tx.SetWalletBalance(walletID, dir, sums, *w.TotalSettled, *w.LastUpdated)
	})
	if err != nil {
		return fmt.Errorf("recompute wallet %s %s: %w", walletID, dir, err)
	}
	if !found {
		a.log.Debug("wallet not found, skipping recompute", zap.String("wallet_id", walletID), zap.String("half", string(dir)))
		return nil
	}

	sums := updated.Half(dir).UnwrapOr(models.Sums{})
	a.log.Debug("wallet balance updated",
		zap.String("wallet_id", walletID),
		zap.String("half", string(dir)),
		zap.Stringer("confirmed", btcutil.Amount(sums.Confirmed)),
		zap.Stringer("unconfirmed", btcutil.Amount(sums.Unconfirmed)),
		zap.Stringer("total_settled", btcutil.Amount(updated.Settled().UnwrapOr(0))),
	)
	return nil
}
