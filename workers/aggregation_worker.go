package workers

import (
	"context"
	"fmt"

	"custodial-wallet-service/store"

	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
)

// Recomputer is the balance aggregator as seen by the worker.
type Recomputer interface {
	RecomputeAddress(ctx context.Context, address string) error
	RecomputeWalletIncoming(ctx context.Context, walletID string) error
	RecomputeWalletOutgoing(ctx context.Context, walletID string) error
}

// AggregationWorker turns committed store changes into balance
// recomputations:
//
//	incoming tx written  -> recompute its address
//	address written      -> recompute its wallet's incoming half
//	outgoing tx written  -> recompute its wallet's outgoing half
//
// Wallet and cursor writes trigger nothing.
type AggregationWorker struct {
	store store.Store
	agg   Recomputer
	queue *RecomputeQueue
	log   *zap.Logger
}

func NewAggregationWorker(st store.Store, agg Recomputer, cfg QueueConfig, clk clock.Clock, log *zap.Logger) *AggregationWorker {
	w := &AggregationWorker{store: st, agg: agg, log: log}
	w.queue = NewRecomputeQueue(w.handle, cfg, clk, log)
	return w
}

// Start subscribes to store changes and runs the queue until ctx is done.
func (w *AggregationWorker) Start(ctx context.Context) {
	unsubscribe := w.store.Subscribe(w.onChange)
	w.queue.Start(ctx)

	go func() {
		<-ctx.Done()
		unsubscribe()
		w.log.Info("🛑 aggregation worker stopped")
	}()

	w.log.Info("🚀 aggregation worker started", zap.Int("workers", w.queue.cfg.Workers))
}

// Backfill queues every known address and both halves of every wallet.
// Used at startup to pick up writes made while nothing was listening.
func (w *AggregationWorker) Backfill(ctx context.Context) error {
	addresses, err := w.store.KnownAddresses(ctx)
	if err != nil {
		return fmt.Errorf("failed to load addresses: %w", err)
	}
	wallets, err := w.store.KnownWallets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load wallets: %w", err)
	}

	for addr := range addresses {
		w.queue.Enqueue(TaskKey{Kind: TaskAddress, ID: addr})
	}
	for _, id := range wallets {
		w.queue.Enqueue(TaskKey{Kind: TaskWalletIncoming, ID: id})
		w.queue.Enqueue(TaskKey{Kind: TaskWalletOutgoing, ID: id})
	}

	w.log.Info("aggregation backfill queued",
		zap.Int("addresses", len(addresses)),
		zap.Int("wallets", len(wallets)),
	)
	return nil
}

// WaitIdle blocks until every queued recomputation has finished.
func (w *AggregationWorker) WaitIdle(ctx context.Context) error {
	return w.queue.WaitIdle(ctx)
}

func (w *AggregationWorker) onChange(c store.Change) {
	switch c.Kind {
	case store.ChangeIncomingTx:
		w.queue.Enqueue(TaskKey{Kind: TaskAddress, ID: c.Address})
	case store.ChangeAddress:
		if c.WalletID != "" {
			w.queue.Enqueue(TaskKey{Kind: TaskWalletIncoming, ID: c.WalletID})
		}
	case store.ChangeOutgoingTx:
		w.queue.Enqueue(TaskKey{Kind: TaskWalletOutgoing, ID: c.WalletID})
	}
}

func (w *AggregationWorker) handle(ctx context.Context, key TaskKey) error {
	switch key.Kind {
	case TaskAddress:
		return w.agg.RecomputeAddress(ctx, key.ID)
	case TaskWalletIncoming:
		return w.agg.RecomputeWalletIncoming(ctx, key.ID)
	case TaskWalletOutgoing:
		return w.agg.RecomputeWalletOutgoing(ctx, key.ID)
	default:
		return fmt.Errorf("unknown task kind %q", key.Kind)
	}
}
