package workers

import (
	"context"
	"sync"
	"time"

	"custodial-wallet-service/metrics"
	"custodial-wallet-service/utils"

	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
)

// TaskKind names one of the three recomputations.
type TaskKind string

const (
	TaskAddress        TaskKind = "address"
	TaskWalletIncoming TaskKind = "wallet_incoming"
	TaskWalletOutgoing TaskKind = "wallet_outgoing"
)

// TaskKey identifies a recomputation target. Triggers for the same key
// coalesce.
type TaskKey struct {
	Kind TaskKind
	ID   string
}

type QueueConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// RecomputeQueue runs handler for enqueued keys. A key is never processed
// by two workers at once; a trigger that arrives while its key is running
// schedules exactly one more run.
type RecomputeQueue struct {
	handler func(ctx context.Context, key TaskKey) error
	cfg     QueueConfig
	clock   clock.Clock
	log     *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []TaskKey
	queued   map[TaskKey]bool
	inflight map[TaskKey]bool
	dirty    map[TaskKey]bool
	active   int
	closed   bool

	idle       chan struct{}
	idleClosed bool
}

func NewRecomputeQueue(handler func(ctx context.Context, key TaskKey) error, cfg QueueConfig, clk clock.Clock, log *zap.Logger) *RecomputeQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}

	q := &RecomputeQueue{
		handler:    handler,
		cfg:        cfg,
		clock:      clk,
		log:        log,
		queued:     make(map[TaskKey]bool),
		inflight:   make(map[TaskKey]bool),
		dirty:      make(map[TaskKey]bool),
		idle:       make(chan struct{}),
		idleClosed: true,
	}
	close(q.idle)
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. They stop once ctx is done; keys still
// pending at that point are dropped.
func (q *RecomputeQueue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		go q.worker(ctx)
	}

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
}

func (q *RecomputeQueue) Enqueue(key TaskKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if q.inflight[key] {
		q.dirty[key] = true
		return
	}
	if q.queued[key] {
		return
	}

	q.push(key)
	q.cond.Signal()
}

// push must be called with mu held.
func (q *RecomputeQueue) push(key TaskKey) {
	q.pending = append(q.pending, key)
	q.queued[key] = true
	q.updateIdle()
}

// updateIdle must be called with mu held.
func (q *RecomputeQueue) updateIdle() {
	busy := len(q.pending) > 0 || q.active > 0
	metrics.RecomputeQueueDepth.Set(float64(len(q.pending) + q.active))

	switch {
	case busy && q.idleClosed:
		q.idle = make(chan struct{})
		q.idleClosed = false
	case !busy && !q.idleClosed:
		close(q.idle)
		q.idleClosed = true
	}
}

// WaitIdle blocks until nothing is pending or running.
func (q *RecomputeQueue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *RecomputeQueue) next() (TaskKey, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return TaskKey{}, false
	}

	key := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, key)
	q.inflight[key] = true
	q.active++
	q.updateIdle()
	return key, true
}

func (q *RecomputeQueue) done(key TaskKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, key)
	q.active--
	if q.dirty[key] && !q.closed {
		delete(q.dirty, key)
		q.push(key)
		q.cond.Signal()
	}
	q.updateIdle()
}

func (q *RecomputeQueue) worker(ctx context.Context) {
	for {
		key, ok := q.next()
		if !ok {
			return
		}
		q.process(ctx, key)
		q.done(key)
	}
}

func (q *RecomputeQueue) process(ctx context.Context, key TaskKey) {
	for attempt := 1; ; attempt++ {
		err := q.handler(ctx, key)
		if err == nil {
			metrics.RecomputeTotal.WithLabelValues(string(key.Kind), "ok").Inc()
			return
		}

		if !utils.IsRetryable(err) || attempt >= q.cfg.MaxAttempts {
			metrics.RecomputeTotal.WithLabelValues(string(key.Kind), "error").Inc()
			q.log.Error("recomputation failed",
				zap.String("kind", string(key.Kind)),
				zap.String("id", key.ID),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		metrics.RecomputeTotal.WithLabelValues(string(key.Kind), "retry").Inc()
		q.log.Warn("recomputation failed, retrying",
			zap.String("kind", string(key.Kind)),
			zap.String("id", key.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-q.clock.TickAfter(q.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
}
