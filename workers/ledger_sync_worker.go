package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-service/services"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Syncer runs one ledger sync pass.
type Syncer interface {
	Run(ctx context.Context) (services.SyncReport, error)
}

// LedgerSyncWorker triggers a sync run on a fixed interval. Runs never
// overlap; a tick that lands during a run is rescheduled.
type LedgerSyncWorker struct {
	syncer   Syncer
	interval time.Duration
	log      *zap.Logger
}

func NewLedgerSyncWorker(syncer Syncer, interval time.Duration, log *zap.Logger) *LedgerSyncWorker {
	return &LedgerSyncWorker{syncer: syncer, interval: interval, log: log}
}

// Start schedules the job, first run immediately, and shuts the scheduler
// down when ctx is done.
func (w *LedgerSyncWorker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			w.runOnce(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule ledger sync: %w", err)
	}

	sched.Start()
	w.log.Info("🚀 ledger sync worker started", zap.Duration("interval", w.interval))

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			w.log.Warn("ledger sync scheduler shutdown", zap.Error(err))
		}
		w.log.Info("🛑 ledger sync worker stopped")
	}()
	return nil
}

func (w *LedgerSyncWorker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	_, err := w.syncer.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrSyncInProgress):
		w.log.Info("⏭️ sync already running, skipping tick")
	default:
		// Already logged in detail by the engine.
		w.log.Debug("scheduled sync failed", zap.Error(err))
	}
}
