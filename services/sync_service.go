// services/sync_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"custodial-wallet-service/classifier"
	"custodial-wallet-service/ledger"
	"custodial-wallet-service/metrics"
	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrSyncInProgress is returned when a run is requested while one is
// already going.
var ErrSyncInProgress = status.Error(codes.Aborted, "sync run already in progress")

const (
	DefaultSyncBatchSize       = 300
	DefaultSyncClassifyWorkers = 4
)

type SyncConfig struct {
	BatchSize       int
	ClassifyWorkers int
}

// SyncReport summarises one run.
type SyncReport struct {
	StartHeight int32 `json:"start_height"`
	NextHeight  int32 `json:"next_height"`
	Fetched     int   `json:"fetched"`
	Incoming    int   `json:"incoming"`
	Outgoing    int   `json:"outgoing"`
	Discarded   int   `json:"discarded"`
	Written     int   `json:"written"`
	Batches     int   `json:"batches"`
}

// SyncEngine mirrors the node's transaction ledger into the store.
type SyncEngine struct {
	store    store.Store
	provider ledger.Provider
	clock    clock.Clock
	log      *zap.Logger
	cfg      SyncConfig

	running sync.Mutex
}

func NewSyncEngine(st store.Store, provider ledger.Provider, cfg SyncConfig, clk clock.Clock, log *zap.Logger) *SyncEngine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSyncBatchSize
	}
	if cfg.ClassifyWorkers <= 0 {
		cfg.ClassifyWorkers = DefaultSyncClassifyWorkers
	}
	return &SyncEngine{
		store:    st,
		provider: provider,
		clock:    clk,
		log:      log,
		cfg:      cfg,
	}
}

// Run performs one sync pass. Each batch of records is committed together
// with the cursor; if a batch fails, earlier batches stay committed and the
// cursor reflects them.
func (e *SyncEngine) Run(ctx context.Context) (SyncReport, error) {
	if !e.running.TryLock() {
		return SyncReport{}, ErrSyncInProgress
	}
	defer e.running.Unlock()

	start := e.clock.Now()
	report, err := e.run(ctx)
	metrics.SyncRunDuration.Observe(e.clock.Now().Sub(start).Seconds())

	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues("error").Inc()
		e.log.Error("sync run failed",
			zap.Int32("start_height", report.StartHeight),
			zap.Int("batches_committed", report.Batches),
			zap.Error(err),
		)
		return report, err
	}

	metrics.SyncRunsTotal.WithLabelValues("ok").Inc()
	e.log.Info("sync run finished",
		zap.Int32("start_height", report.StartHeight),
		zap.Int32("next_height", report.NextHeight),
		zap.Int("fetched", report.Fetched),
		zap.Int("incoming", report.Incoming),
		zap.Int("outgoing", report.Outgoing),
		zap.Int("discarded", report.Discarded),
		zap.Int("written", report.Written),
		zap.Int("batches", report.Batches),
	)
	return report, nil
}

func (e *SyncEngine) run(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	known, err := e.loadKnown(ctx)
	if err != nil {
		return report, err
	}
	if known.Empty() {
		e.log.Info("no wallets or addresses yet, nothing to sync")
		return report, nil
	}

	cursor, err := e.currentCursor(ctx)
	if err != nil {
		return report, err
	}
	report.StartHeight = cursor.BlockHeight
	report.NextHeight = cursor.BlockHeight

	client, err := e.provider.Client(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to get ledger client: %w", err)
	}

	raw, err := client.ListTransactionsSince(ctx, cursor.BlockHeight)
	if err != nil {
		return report, fmt.Errorf("failed to list transactions since %d: %w", cursor.BlockHeight, err)
	}
	report.Fetched = len(raw)

	// The node lists newest first; process oldest first.
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}

	results, err := e.classify(ctx, raw, known)
	if err != nil {
		return report, err
	}

	relevant := make([]classifier.Result, 0, len(results))
	for i, res := range results {
		if !res.Relevant() {
			report.Discarded++
			metrics.SyncTxDiscarded.WithLabelValues(string(res.Reason)).Inc()
			fields := []zap.Field{
				zap.String("tx_hash", raw[i].TxHash),
				zap.String("reason", string(res.Reason)),
				zap.Int64("amount", raw[i].Amount),
			}
			if res.Reason.Anomaly() {
				e.log.Warn("discarding ledger transaction", append(fields, zap.String("label", raw[i].Label))...)
			} else {
				e.log.Debug("discarding ledger transaction", fields...)
			}
			continue
		}

		switch res.Kind {
		case classifier.KindIncoming:
			report.Incoming++
		case classifier.KindOutgoing:
			report.Outgoing++
		}
		metrics.SyncTxClassified.WithLabelValues(res.Kind.String()).Inc()
		relevant = append(relevant, res)
	}

	if len(relevant) == 0 {
		err := e.store.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.PutCursor(models.SyncCursor{BlockHeight: cursor.BlockHeight, Timestamp: e.clock.Now()})
		})
		if err != nil {
			return report, fmt.Errorf("failed to refresh cursor: %w", err)
		}
		return report, nil
	}

	heights := make([]int32, len(relevant))
	for i, res := range relevant {
		heights[i] = res.BlockHeight()
	}
	pending := pendingHeights(heights)

	tracker := newCursorTracker(cursor.BlockHeight)
	for offset := 0; offset < len(relevant); offset += e.cfg.BatchSize {
		end := min(offset+e.cfg.BatchSize, len(relevant))
		batch := relevant[offset:end]

		for _, res := range batch {
			tracker.observe(res.Status(), res.BlockHeight())
		}
		next := tracker.nextBefore(pending[end])

		written, err := e.commitBatch(ctx, batch, next)
		if err != nil {
			return report, fmt.Errorf("batch %d (%d records) failed: %w", report.Batches+1, len(batch), err)
		}

		report.Batches++
		report.Written += written
		report.NextHeight = next
		metrics.SyncBatchesCommitted.Inc()
		metrics.SyncCursorHeight.Set(float64(next))
	}

	return report, nil
}

func (e *SyncEngine) loadKnown(ctx context.Context) (classifier.Known, error) {
	addresses, err := e.store.KnownAddresses(ctx)
	if err != nil {
		return classifier.Known{}, fmt.Errorf("failed to load known addresses: %w", err)
	}
	wallets, err := e.store.KnownWallets(ctx)
	if err != nil {
		return classifier.Known{}, fmt.Errorf("failed to load known wallets: %w", err)
	}
	return classifier.NewKnown(addresses, wallets), nil
}

func (e *SyncEngine) currentCursor(ctx context.Context) (models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := e.store.RunTransaction(ctx, func(tx store.Tx) error {
		c, err := tx.Cursor()
		if errors.Is(err, store.ErrNotFound) {
			cursor = models.SyncCursor{ID: models.SyncCursorID}
			return nil
		}
		cursor = c
		return err
	})
	if err != nil {
		return cursor, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	return cursor, nil
}

// classify runs the classifier over raw in parallel chunks, keeping order.
func (e *SyncEngine) classify(ctx context.Context, raw []ledger.RawTx, known classifier.Known) ([]classifier.Result, error) {
	results := make([]classifier.Result, len(raw))
	if len(raw) == 0 {
		return results, nil
	}

	workers := min(e.cfg.ClassifyWorkers, len(raw))
	chunk := (len(raw) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for from := 0; from < len(raw); from += chunk {
		to := min(from+chunk, len(raw))
		g.Go(func() error {
			for i := from; i < to; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = classifier.Classify(raw[i], known)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// commitBatch upserts the batch and moves the cursor in one transaction.
// It returns how many records were created or changed.
func (e *SyncEngine) commitBatch(ctx context.Context, batch []classifier.Result, next int32) (int, error) {
	var written, incoming, outgoing int

	err := e.store.RunTransaction(ctx, func(tx store.Tx) error {
		written, incoming, outgoing = 0, 0, 0

		for _, res := range batch {
			var changed bool
			var err error

			switch res.Kind {
			case classifier.KindIncoming:
				changed, err = e.upsertIncoming(tx, res.Incoming)
				if changed {
					incoming++
				}
			case classifier.KindOutgoing:
				changed, err = e.upsertOutgoing(tx, res.Outgoing)
				if changed {
					outgoing++
				}
			}
			if err != nil {
				return err
			}
			if changed {
				written++
			}
		}

		return tx.PutCursor(models.SyncCursor{BlockHeight: next, Timestamp: e.clock.Now()})
	})
	if err != nil {
		return 0, err
	}

	metrics.SyncRecordsWritten.WithLabelValues("incoming").Add(float64(incoming))
	metrics.SyncRecordsWritten.WithLabelValues("outgoing").Add(float64(outgoing))
	return written, nil
}

func (e *SyncEngine) upsertIncoming(tx store.Tx, obs models.IncomingTx) (bool, error) {
	existing, err := tx.IncomingTx(obs.Address, obs.TxHash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true, tx.PutIncomingTx(obs)
	case err != nil:
		return false, err
	}

	merged, changed := existing.Merge(obs)
	if !changed {
		return false, nil
	}
	return true, tx.PutIncomingTx(merged)
}

func (e *SyncEngine) upsertOutgoing(tx store.Tx, obs models.OutgoingObservation) (bool, error) {
	existing, err := tx.OutgoingTx(obs.WalletID, obs.PaymentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		placeholder := models.PlaceholderOutgoing(obs)
		e.log.Warn("payment on ledger has no local record, creating placeholder",
			zap.String("wallet_id", obs.WalletID),
			zap.String("payment_id", obs.PaymentID),
			zap.String("tx_hash", obs.TxHash),
			zap.Stringer("amount", btcutil.Amount(placeholder.Amount)),
			zap.Stringer("fee", btcutil.Amount(placeholder.Fee)),
		)
		return true, tx.PutOutgoingTx(placeholder)
	case err != nil:
		return false, err
	}

	updated, changed := existing.Apply(obs)
	if !changed {
		return false, nil
	}
	return true, tx.PutOutgoingTx(updated)
}

// CurrentCursor returns the stored cursor, or a zero cursor before the
// first run.
func (e *SyncEngine) CurrentCursor(ctx context.Context) (models.SyncCursor, error) {
	return e.currentCursor(ctx)
}
