package services

import (
	"context"
	"errors"
	"testing"

	"custodial-wallet-service/classifier"
	"custodial-wallet-service/ledger"
	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(st store.Store, node ledger.Client, cfg SyncConfig) *SyncEngine {
	return NewSyncEngine(st, ledger.StaticProvider{C: node}, cfg, newTestClock(), nopLogger())
}

func deposit(hash, addr string, amount int64, height, confs int32) ledger.RawTx {
	return ledger.RawTx{
		TxHash:           hash,
		Amount:           amount,
		DestAddresses:    []string{"bcrt1qchange", addr},
		NumConfirmations: confs,
		BlockHeight:      height,
		TimeStamp:        testNow.Unix(),
	}
}

func payment(hash, walletID, paymentID string, gross, fee int64, height, confs int32) ledger.RawTx {
	return ledger.RawTx{
		TxHash:           hash,
		Amount:           -gross,
		NumConfirmations: confs,
		BlockHeight:      height,
		TimeStamp:        testNow.Unix(),
		TotalFees:        fee,
		Label:            classifier.PaymentLabel(walletID, paymentID),
	}
}

func TestSyncEngine_MirrorsLedgerAndIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	node := &fakeNode{}
	node.set(
		payment("T2", "W1", "P1", 1150, 150, 101, 6),
		deposit("T1", "A1", 5000, 100, 7),
	)
	engine := newTestEngine(st, node, SyncConfig{})

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Incoming)
	assert.Equal(t, 1, report.Outgoing)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, int32(102), report.NextHeight)

	in := readTx(t, st, func(tx store.Tx) (models.IncomingTx, error) { return tx.IncomingTx("A1", "T1") })
	assert.Equal(t, int64(5000), in.Amount)
	assert.Equal(t, models.StatusConfirmed, in.Status)

	out := readTx(t, st, func(tx store.Tx) (models.OutgoingTx, error) { return tx.OutgoingTx("W1", "P1") })
	assert.Equal(t, models.StatusConfirmed, out.Status)
	assert.Equal(t, int64(1000), out.Amount)
	assert.Equal(t, int64(150), out.Fee)

	// Replaying the same ledger changes nothing but the cursor timestamp.
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Written)
	assert.Equal(t, int32(102), cursorOf(t, st).BlockHeight)

	in2 := readTx(t, st, func(tx store.Tx) (models.IncomingTx, error) { return tx.IncomingTx("A1", "T1") })
	assert.Equal(t, in, in2)
}

func TestSyncEngine_CursorRewindsToEarliestUnconfirmed(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1", "A2")

	node := &fakeNode{}
	node.set(
		deposit("TB", "A2", 700, 105, 6),
		deposit("TA", "A1", 500, 100, 2),
	)
	engine := newTestEngine(st, node, SyncConfig{})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(100), cursorOf(t, st).BlockHeight)

	node.set(
		deposit("TB", "A2", 700, 105, 11),
		deposit("TA", "A1", 500, 100, 7),
	)
	_, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(100), node.lastList())
	assert.Equal(t, int32(106), cursorOf(t, st).BlockHeight)

	ta := readTx(t, st, func(tx store.Tx) (models.IncomingTx, error) { return tx.IncomingTx("A1", "TA") })
	assert.Equal(t, models.StatusConfirmed, ta.Status)
}

func TestSyncEngine_MempoolOnlyKeepsCursor(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	node := &fakeNode{}
	node.set(deposit("T1", "A1", 500, 0, 0))

	_, err := newTestEngine(st, node, SyncConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), cursorOf(t, st).BlockHeight)

	in := readTx(t, st, func(tx store.Tx) (models.IncomingTx, error) { return tx.IncomingTx("A1", "T1") })
	assert.Equal(t, models.StatusUnconfirmed, in.Status)
}

func TestSyncEngine_CreatesPlaceholderForUnrecordedPayment(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	node := &fakeNode{}
	node.set(payment("T9", "W1", "P9", 1150, 150, 200, 1))

	_, err := newTestEngine(st, node, SyncConfig{}).Run(context.Background())
	require.NoError(t, err)

	out := readTx(t, st, func(tx store.Tx) (models.OutgoingTx, error) { return tx.OutgoingTx("W1", "P9") })
	assert.Equal(t, models.UnknownDestination, out.ToAddress)
	assert.Equal(t, int64(1000), out.Amount)
	assert.Equal(t, int64(150), out.Fee)
	assert.Equal(t, int64(1150), out.Debit())
	assert.Equal(t, "T9", out.TxHash)
	assert.Equal(t, models.StatusUnconfirmed, out.Status)
	assert.Nil(t, out.CreatedAt)
}

func TestSyncEngine_PaymentProgression(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	created := testNow
	err := st.RunTransaction(context.Background(), func(tx store.Tx) error {
		return tx.PutOutgoingTx(models.OutgoingTx{
			WalletID:  "W1",
			PaymentID: "P1",
			ToAddress: "bcrt1qdest",
			Amount:    1000,
			TxHash:    "T1",
			Status:    models.StatusNew,
			CreatedAt: &created,
		})
	})
	require.NoError(t, err)

	node := &fakeNode{}
	engine := newTestEngine(st, node, SyncConfig{})

	steps := []struct {
		height int32
		confs  int32
		want   models.TxStatus
	}{
		{height: 0, confs: 0, want: models.StatusMempool},
		{height: 120, confs: 1, want: models.StatusUnconfirmed},
		{height: 120, confs: 6, want: models.StatusConfirmed},
		// A lagging report never moves the record back.
		{height: 120, confs: 2, want: models.StatusConfirmed},
	}
	for _, step := range steps {
		node.set(payment("T1", "W1", "P1", 1200, 200, step.height, step.confs))
		_, err := engine.Run(context.Background())
		require.NoError(t, err)

		out := readTx(t, st, func(tx store.Tx) (models.OutgoingTx, error) { return tx.OutgoingTx("W1", "P1") })
		assert.Equal(t, step.want, out.Status)
		assert.Equal(t, "bcrt1qdest", out.ToAddress)
		assert.Equal(t, int64(1000), out.Amount)
		assert.Equal(t, int64(200), out.Fee)
		require.NotNil(t, out.CreatedAt)
		assert.True(t, out.CreatedAt.Equal(created))
	}
}

func TestSyncEngine_DiscardsIrrelevantAndRefreshesCursor(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	node := &fakeNode{}
	node.set(
		deposit("T1", "bcrt1qsomeoneelse", 500, 50, 10),
		payment("T2", "W404", "P1", 1000, 100, 50, 10),
		ledger.RawTx{TxHash: "T3", Amount: -900, BlockHeight: 50, NumConfirmations: 10},
	)
	clk := newTestClock()
	engine := NewSyncEngine(st, ledger.StaticProvider{C: node}, SyncConfig{}, clk, nopLogger())

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Discarded)
	assert.Zero(t, report.Written)

	c := cursorOf(t, st)
	assert.Equal(t, int32(0), c.BlockHeight)
	assert.True(t, c.Timestamp.Equal(testNow))

	txs := readTx(t, st, func(tx store.Tx) ([]models.IncomingTx, error) { return tx.IncomingTxs("A1") })
	assert.Empty(t, txs)
}

func TestSyncEngine_NoClientLeavesCursorUntouched(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	engine := NewSyncEngine(st, ledger.StaticProvider{}, SyncConfig{}, newTestClock(), nopLogger())
	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnavailable)

	err = st.RunTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.Cursor()
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncEngine_NothingKnownWritesNothing(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	node := &fakeNode{}
	node.set(deposit("T1", "A1", 500, 10, 10))

	report, err := newTestEngine(st, node, SyncConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, st.Commits())
}

func TestSyncEngine_FailedBatchKeepsEarlierBatches(t *testing.T) {
	t.Parallel()

	mem := newTestStore()
	seedWallet(t, mem, "W1", "U1", "A1")

	// Calls: 1 cursor read, 2 first batch, 3 second batch.
	st := &failingStore{Store: mem, failN: 3}

	node := &fakeNode{}
	node.set(
		deposit("T3", "A1", 300, 12, 10),
		deposit("T2", "A1", 200, 11, 10),
		deposit("T1", "A1", 100, 10, 10),
	)
	engine := newTestEngine(st, node, SyncConfig{BatchSize: 1})

	report, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assert.Equal(t, 1, report.Batches)

	assert.Equal(t, int32(11), cursorOf(t, mem).BlockHeight)

	txs := readTx(t, mem, func(tx store.Tx) ([]models.IncomingTx, error) { return tx.IncomingTxs("A1") })
	require.Len(t, txs, 1)
	assert.Equal(t, "T1", txs[0].TxHash)

	// The next run resumes and converges.
	report, err = newTestEngine(mem, node, SyncConfig{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, int32(13), cursorOf(t, mem).BlockHeight)
}

func TestSyncEngine_BlockSplitAcrossBatchesIsRefetched(t *testing.T) {
	t.Parallel()

	mem := newTestStore()
	seedWallet(t, mem, "W1", "U1", "A1")

	// Calls: 1 cursor read, 2 first batch, 3 second batch.
	st := &failingStore{Store: mem, failN: 3}

	node := &fakeNode{}
	node.set(
		deposit("T4", "A1", 400, 11, 10),
		deposit("T3", "A1", 300, 10, 10),
		deposit("T2", "A1", 200, 10, 10),
		deposit("T1", "A1", 100, 10, 10),
	)

	_, err := newTestEngine(st, node, SyncConfig{BatchSize: 2}).Run(context.Background())
	require.ErrorIs(t, err, errInjected)

	// Block 10 is only partly written, so the cursor must not pass it.
	assert.Equal(t, int32(10), cursorOf(t, mem).BlockHeight)

	report, err := newTestEngine(mem, node, SyncConfig{BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, int32(12), cursorOf(t, mem).BlockHeight)

	txs := readTx(t, mem, func(tx store.Tx) ([]models.IncomingTx, error) { return tx.IncomingTxs("A1") })
	assert.Len(t, txs, 4)
}

func TestSyncEngine_SplitBlockCursorBetweenBatches(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	var cursors []int32
	unsubscribe := st.Subscribe(func(c store.Change) {
		if c.Kind == store.ChangeCursor {
			cursors = append(cursors, cursorOf(t, st).BlockHeight)
		}
	})
	defer unsubscribe()

	node := &fakeNode{}
	node.set(
		deposit("T3", "A1", 300, 21, 10),
		deposit("T2", "A1", 200, 20, 10),
		deposit("T1", "A1", 100, 20, 10),
	)

	report, err := newTestEngine(st, node, SyncConfig{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, []int32{20, 21, 22}, cursors)
}

func TestSyncEngine_BatchesStayWithinWriteBound(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	var txs []ledger.RawTx
	for i := 0; i < 650; i++ {
		txs = append(txs, deposit(string(rune('a'+i%26))+string(rune('A'+i/26)), "A1", 1, int32(1000-i), 10))
	}
	node := &fakeNode{}
	node.set(txs...)

	report, err := newTestEngine(st, node, SyncConfig{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 650, report.Written)
	assert.Equal(t, int32(1001), cursorOf(t, st).BlockHeight)
}

type blockingNode struct {
	*fakeNode
	entered chan struct{}
	release chan struct{}
}

func (b *blockingNode) ListTransactionsSince(ctx context.Context, start int32) ([]ledger.RawTx, error) {
	close(b.entered)
	<-b.release
	return b.fakeNode.ListTransactionsSince(ctx, start)
}

func TestSyncEngine_RejectsOverlappingRuns(t *testing.T) {
	t.Parallel()

	st := newTestStore()
	seedWallet(t, st, "W1", "U1", "A1")

	node := &blockingNode{fakeNode: &fakeNode{}, entered: make(chan struct{}), release: make(chan struct{})}
	engine := newTestEngine(st, node, SyncConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := engine.Run(context.Background())
		done <- err
	}()

	<-node.entered
	_, err := engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(node.release)
	require.NoError(t, <-done)
}

func TestSyncEngine_CurrentCursorBeforeFirstRun(t *testing.T) {
	t.Parallel()

	c, err := newTestEngine(newTestStore(), &fakeNode{}, SyncConfig{}).CurrentCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SyncCursorID, c.ID)
	assert.Equal(t, int32(0), c.BlockHeight)
}
