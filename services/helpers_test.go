package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"custodial-wallet-service/ledger"
	"custodial-wallet-service/models"
	"custodial-wallet-service/store"
	"custodial-wallet-service/store/memstore"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeNode is an in-memory ledger client.
type fakeNode struct {
	mu        sync.Mutex
	txs       []ledger.RawTx
	listErr   error
	sendErr   error
	sent      []ledger.SendRequest
	listCalls []int32
	addrSeq   int
	// mempool makes SendCoins list the broadcast tx with this fee.
	mempool fee
}

type fee struct {
	enabled bool
	amount  int64
}

func (n *fakeNode) set(txs ...ledger.RawTx) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs = append([]ledger.RawTx(nil), txs...)
}

func (n *fakeNode) ListTransactionsSince(_ context.Context, start int32) ([]ledger.RawTx, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listCalls = append(n.listCalls, start)
	if n.listErr != nil {
		return nil, n.listErr
	}

	out := make([]ledger.RawTx, 0, len(n.txs))
	for _, t := range n.txs {
		if t.BlockHeight <= 0 || t.BlockHeight >= start {
			out = append(out, t)
		}
	}
	return out, nil
}

func (n *fakeNode) NewAddress(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrSeq++
	return fmt.Sprintf("bcrt1qaddr%04d", n.addrSeq), nil
}

func (n *fakeNode) SendCoins(_ context.Context, req ledger.SendRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sendErr != nil {
		return "", n.sendErr
	}
	n.sent = append(n.sent, req)
	txid := fmt.Sprintf("%064d", len(n.sent))
	if n.mempool.enabled {
		// Newest first, like the node.
		n.txs = append([]ledger.RawTx{{
			TxHash:    txid,
			Amount:    -(req.Amount + n.mempool.amount),
			TotalFees: n.mempool.amount,
			TimeStamp: testNow.Unix(),
			Label:     req.Label,
		}}, n.txs...)
	}
	return txid, nil
}

func (n *fakeNode) lastList() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listCalls[len(n.listCalls)-1]
}

func newTestStore() *memstore.Store {
	return memstore.New(memstore.Options{})
}

func newTestClock() *clock.TestClock {
	return clock.NewTestClock(testNow)
}

func seedWallet(t *testing.T, st store.Store, walletID, ownerID string, addrs ...string) {
	t.Helper()

	err := st.RunTransaction(context.Background(), func(tx store.Tx) error {
		w := models.Wallet{ID: walletID, OwnerID: ownerID, CreatedAt: testNow}
		if len(addrs) > 0 {
			w.ActiveAddress = addrs[0]
		}
		if err := tx.PutWallet(w); err != nil {
			return err
		}
		for _, a := range addrs {
			if err := tx.PutAddress(models.Address{Address: a, WalletID: walletID, CreatedAt: testNow}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func readTx[T any](t *testing.T, st store.Store, read func(tx store.Tx) (T, error)) T {
	t.Helper()

	var out T
	err := st.RunTransaction(context.Background(), func(tx store.Tx) error {
		v, err := read(tx)
		out = v
		return err
	})
	require.NoError(t, err)
	return out
}

func cursorOf(t *testing.T, st store.Store) models.SyncCursor {
	t.Helper()
	return readTx(t, st, func(tx store.Tx) (models.SyncCursor, error) { return tx.Cursor() })
}

var errInjected = errors.New("injected failure")

// failingStore fails the nth RunTransaction call (1-based).
type failingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	failN int
}

func (f *failingStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failN
	f.mu.Unlock()

	if fail {
		return errInjected
	}
	return f.Store.RunTransaction(ctx, fn)
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}
