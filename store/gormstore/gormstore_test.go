//go:build integration_test

package gormstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"
)

var (
	pgOnce sync.Once
	pgDSN  string
)

func postgresDSN(t testing.TB) string {
	t.Helper()

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("wallet"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err, "failed to start Postgres container")

		pgDSN, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "failed to get Postgres DSN")
	})

	return pgDSN
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(postgresDSN(t), Options{MaxWriteOps: 10, TxAttempts: 5}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())

	require.NoError(t, s.DB().Exec(
		"TRUNCATE addresses, wallets, incoming_txs, outgoing_txs, sync_cursors",
	).Error)
	return s
}

func TestGormStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var changes []store.Change
	cancel := s.Subscribe(func(c store.Change) { changes = append(changes, c) })
	defer cancel()

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.PutWallet(models.Wallet{ID: "W1", OwnerID: "U1", CreatedAt: at}))
		require.NoError(t, tx.PutAddress(models.Address{Address: "A1", WalletID: "W1", CreatedAt: at}))
		require.NoError(t, tx.PutIncomingTx(models.IncomingTx{
			Address: "A1", TxHash: "T1", BlockHeight: 100, Timestamp: at, Amount: 5000, Status: models.StatusUnconfirmed,
		}))
		return tx.PutCursor(models.SyncCursor{BlockHeight: 100, Timestamp: at})
	})
	require.NoError(t, err)
	assert.Len(t, changes, 4)

	addrs, err := s.KnownAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A1": "W1"}, addrs)

	wallets, err := s.KnownWallets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, wallets)

	err = s.RunTransaction(ctx, func(tx store.Tx) error {
		a, err := tx.Address("A1")
		require.NoError(t, err)
		assert.True(t, a.Sums().IsNone())

		require.NoError(t, tx.SetAddressSums(a, models.Sums{Confirmed: 0, Unconfirmed: 5000}))
		require.NoError(t, tx.SetWalletBalance("W1", models.Incoming, models.Sums{Unconfirmed: 5000}, 0, at))

		c, err := tx.Cursor()
		require.NoError(t, err)
		assert.Equal(t, int32(100), c.BlockHeight)

		list, err := tx.IncomingTxs("A1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	})
	require.NoError(t, err)

	err = s.RunTransaction(ctx, func(tx store.Tx) error {
		w, err := tx.Wallet("W1")
		require.NoError(t, err)
		assert.Equal(t, models.Sums{Unconfirmed: 5000}, w.Incoming().UnwrapOr(models.Sums{}))
		assert.True(t, w.Outgoing().IsNone())

		_, err = tx.OutgoingTx("W1", "P404")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestGormStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	put := func(status models.TxStatus) {
		err := s.RunTransaction(ctx, func(tx store.Tx) error {
			return tx.PutOutgoingTx(models.OutgoingTx{
				WalletID: "W1", PaymentID: "P1", ToAddress: "X", Amount: 3000, Fee: 200, Status: status,
				Timestamp: &at,
			})
		})
		require.NoError(t, err)
	}
	put(models.StatusMempool)
	put(models.StatusConfirmed)

	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		list, err := tx.OutgoingTxs("W1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, models.StatusConfirmed, list[0].Status)
		// Placeholders carry no creation time; gorm must not stamp one.
		assert.Nil(t, list[0].CreatedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestGormStore_WriteSetBound(t *testing.T) {
	s := newTestStore(t)

	err := s.RunTransaction(context.Background(), func(tx store.Tx) error {
		for i := 0; i < 11; i++ {
			if err := tx.PutCursor(models.SyncCursor{BlockHeight: int32(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, store.ErrWriteSetTooLarge)
}
