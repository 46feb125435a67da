// Package gormstore is the postgres-backed store.Store.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodial-wallet-service/models"
	"custodial-wallet-service/store"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLSTATE codes postgres uses when a serializable transaction lost a race.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type Options struct {
	MaxWriteOps  int
	TxAttempts   int
	RetryBackoff time.Duration
}

type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	opts     Options
	notifier store.Notifier
}

var _ store.Store = (*Store)(nil)

// Open connects to postgres. The gorm logger is silenced; errors surface
// through return values and the zap logger.
func Open(dsn string, opts Options, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, opts, log), nil
}

func New(db *gorm.DB, opts Options, log *zap.Logger) *Store {
	if opts.MaxWriteOps <= 0 {
		opts.MaxWriteOps = store.DefaultMaxWriteOps
	}
	if opts.TxAttempts <= 0 {
		opts.TxAttempts = store.DefaultTxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 20 * time.Millisecond
	}
	return &Store{db: db, log: log, opts: opts}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.Address{},
		&models.Wallet{},
		&models.IncomingTx{},
		&models.OutgoingTx{},
		&models.SyncCursor{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Subscribe(fn func(store.Change)) func() {
	return s.notifier.Subscribe(fn)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	var changes []store.Change
	attempt := 0

	err := store.RetryConflicts(ctx, s.opts.TxAttempts, s.opts.RetryBackoff, isSerializationFailure, func() error {
		attempt++
		t := &tx{budget: store.WriteBudget{Max: s.opts.MaxWriteOps}}

		err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			t.db = gtx
			return fn(t)
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			if isSerializationFailure(err) {
				s.log.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}

		changes = t.changes.List()
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.Publish(changes)
	return nil
}

func (s *Store) KnownAddresses(ctx context.Context) (map[string]string, error) {
	var rows []models.Address
	if err := s.db.WithContext(ctx).Select("address", "wallet_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load addresses: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Address] = r.WalletID
	}
	return out, nil
}

func (s *Store) KnownWallets(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Wallet{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to load wallets: %w", err)
	}
	return ids, nil
}

type tx struct {
	db      *gorm.DB
	budget  store.WriteBudget
	changes store.ChangeSet
}

func first[T any](q *gorm.DB, out *T) error {
	if err := q.First(out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (t *tx) Cursor() (models.SyncCursor, error) {
	var c models.SyncCursor
	err := first(t.db.Where("id = ?", models.SyncCursorID), &c)
	return c, err
}

func (t *tx) Address(address string) (models.Address, error) {
	var a models.Address
	err := first(t.db.Where("address = ?", address), &a)
	return a, err
}

func (t *tx) Wallet(id string) (models.Wallet, error) {
	var w models.Wallet
	err := first(t.db.Where("id = ?", id), &w)
	return w, err
}

func (t *tx) IncomingTx(address, txHash string) (models.IncomingTx, error) {
	var r models.IncomingTx
	err := first(t.db.Where("address = ? AND tx_hash = ?", address, txHash), &r)
	return r, err
}

func (t *tx) OutgoingTx(walletID, paymentID string) (models.OutgoingTx, error) {
	var r models.OutgoingTx
	err := first(t.db.Where("wallet_id = ? AND payment_id = ?", walletID, paymentID), &r)
	return r, err
}

func (t *tx) IncomingTxs(address string) ([]models.IncomingTx, error) {
	var out []models.IncomingTx
	err := t.db.Where("address = ?", address).Order("tx_hash").Find(&out).Error
	return out, err
}

func (t *tx) OutgoingTxs(walletID string) ([]models.OutgoingTx, error) {
	var out []models.OutgoingTx
	err := t.db.Where("wallet_id = ?", walletID).Order("payment_id").Find(&out).Error
	return out, err
}

func (t *tx) WalletAddresses(walletID string) ([]models.Address, error) {
	var out []models.Address
	err := t.db.Where("wallet_id = ?", walletID).Order("address").Find(&out).Error
	return out, err
}

func (t *tx) upsert(value any, keys ...string) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	cols := make([]clause.Column, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, clause.Column{Name: k})
	}
	return t.db.Clauses(clause.OnConflict{
		Columns:   cols,
		UpdateAll: true,
	}).Create(value).Error
}

func (t *tx) PutCursor(c models.SyncCursor) error {
	c.ID = models.SyncCursorID
	if err := t.upsert(&c, "id"); err != nil {
		return err
	}
	t.changes.Add(store.Change{Kind: store.ChangeCursor})
	return nil
}

func (t *tx) PutIncomingTx(r models.IncomingTx) error {
	if err := t.upsert(&r, "address", "tx_hash"); err != nil {
		return err
	}
	t.changes.Add(store.Change{Kind: store.ChangeIncomingTx, Address: r.Address})
	return nil
}

func (t *tx) PutOutgoingTx(r models.OutgoingTx) error {
	if err := t.upsert(&r, "wallet_id", "payment_id"); err != nil {
		return err
	}
	t.changes.Add(store.Change{Kind: store.ChangeOutgoingTx, WalletID: r.WalletID})
	return nil
}

func (t *tx) PutWallet(w models.Wallet) error {
	if err := t.upsert(&w, "id"); err != nil {
		return err
	}
	t.changes.Add(store.Change{Kind: store.ChangeWallet, WalletID: w.ID})
	return nil
}

func (t *tx) PutAddress(a models.Address) error {
	if err := t.upsert(&a, "address"); err != nil {
		return err
	}
	t.changes.Add(store.Change{Kind: store.ChangeAddress, Address: a.Address, WalletID: a.WalletID})
	return nil
}

func (t *tx) SetAddressSums(a models.Address, sums models.Sums) error {
	if err := t.budget.Take(); err != nil {
		return err
	}

	res := t.db.Model(&models.Address{}).
		Where("address = ?", a.Address).
		Updates(map[string]any{
			"confirmed_balance":   sums.Confirmed,
			"unconfirmed_balance": sums.Unconfirmed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}

	t.changes.Add(store.Change{Kind: store.ChangeAddress, Address: a.Address, WalletID: a.WalletID})
	return nil
}

func (t *tx) SetWalletBalance(walletID string, dir models.Direction, sums models.Sums, settled int64, at time.Time) error {
	if err := t.budget.Take(); err != nil {
		return err
	}

	updates := map[string]any{
		"total_settled": settled,
		"last_updated":  at,
	}
	switch dir {
	case models.Incoming:
		updates["incoming_confirmed"] = sums.Confirmed
		updates["incoming_unconfirmed"] = sums.Unconfirmed
	case models.Outgoing:
		updates["outgoing_confirmed"] = sums.Confirmed
		updates["outgoing_unconfirmed"] = sums.Unconfirmed
	}

	res := t.db.Model(&models.Wallet{}).Where("id = ?", walletID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}

	t.changes.Add(store.Change{Kind: store.ChangeWallet, WalletID: walletID})
	return nil
}
