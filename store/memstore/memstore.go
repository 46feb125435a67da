// Package memstore is an in-process store.Store. Transactions run one at a
// time against a private write set that is applied on commit.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"custodial-wallet-service/models"
	"custodial-wallet-service/store"
)

var errInjectedConflict = errors.New("memstore: injected conflict")

type incomingKey struct{ address, txHash string }
type outgoingKey struct{ walletID, paymentID string }

type data struct {
	cursor    *models.SyncCursor
	addresses map[string]models.Address
	wallets   map[string]models.Wallet
	incoming  map[incomingKey]models.IncomingTx
	outgoing  map[outgoingKey]models.OutgoingTx
}

func newData() data {
	return data{
		addresses: make(map[string]models.Address),
		wallets:   make(map[string]models.Wallet),
		incoming:  make(map[incomingKey]models.IncomingTx),
		outgoing:  make(map[outgoingKey]models.OutgoingTx),
	}
}

type Options struct {
	MaxWriteOps int
	TxAttempts  int
}

type Store struct {
	mu        sync.Mutex
	data      data
	opts      Options
	conflicts int
	commits   int
	notifier  store.Notifier
}

var _ store.Store = (*Store)(nil)

func New(opts Options) *Store {
	if opts.MaxWriteOps <= 0 {
		opts.MaxWriteOps = store.DefaultMaxWriteOps
	}
	if opts.TxAttempts <= 0 {
		opts.TxAttempts = store.DefaultTxAttempts
	}
	return &Store{data: newData(), opts: opts}
}

// InjectConflicts makes the next n commit attempts fail as if another
// writer got there first.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Subscribe(fn func(store.Change)) func() {
	return s.notifier.Subscribe(fn)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	var changes []store.Change
	err := store.RetryConflicts(ctx, s.opts.TxAttempts, 0,
		func(err error) bool { return errors.Is(err, errInjectedConflict) },
		func() error {
			var err error
			changes, err = s.attempt(ctx, fn)
			return err
		},
	)
	if err != nil {
		return err
	}

	s.notifier.Publish(changes)
	return nil
}

func (s *Store) attempt(ctx context.Context, fn func(tx store.Tx) error) ([]store.Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{base: &s.data, pending: newData(), budget: store.WriteBudget{Max: s.opts.MaxWriteOps}}
	if err := fn(t); err != nil {
		return nil, err
	}

	if s.conflicts > 0 {
		s.conflicts--
		return nil, errInjectedConflict
	}

	t.apply()
	s.commits++
	return t.changes.List(), nil
}

func (s *Store) KnownAddresses(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.data.addresses))
	for addr, a := range s.data.addresses {
		out[addr] = a.WalletID
	}
	return out, nil
}

func (s *Store) KnownWallets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.data.wallets))
	for id := range s.data.wallets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// tx reads through its pending writes to the committed data.
type tx struct {
	base    *data
	pending data
	budget  store.WriteBudget
	changes store.ChangeSet
}

func (t *tx) apply() {
	if t.pending.cursor != nil {
		c := *t.pending.cursor
		t.base.cursor = &c
	}
	for k, v := range t.pending.addresses {
		t.base.addresses[k] = v
	}
	for k, v := range t.pending.wallets {
		t.base.wallets[k] = v
	}
	for k, v := range t.pending.incoming {
		t.base.incoming[k] = v
	}
	for k, v := range t.pending.outgoing {
		t.base.outgoing[k] = v
	}
}

func (t *tx) Cursor() (models.SyncCursor, error) {
	if t.pending.cursor != nil {
		return *t.pending.cursor, nil
	}
	if t.base.cursor != nil {
		return *t.base.cursor, nil
	}
	return models.SyncCursor{}, store.ErrNotFound
}

func (t *tx) Address(address string) (models.Address, error) {
	if a, ok := t.pending.addresses[address]; ok {
		return a, nil
	}
	if a, ok := t.base.addresses[address]; ok {
		return a, nil
	}
	return models.Address{}, store.ErrNotFound
}

func (t *tx) Wallet(id string) (models.Wallet, error) {
	if w, ok := t.pending.wallets[id]; ok {
		return w, nil
	}
	if w, ok := t.base.wallets[id]; ok {
		return w, nil
	}
	return models.Wallet{}, store.ErrNotFound
}

func (t *tx) IncomingTx(address, txHash string) (models.IncomingTx, error) {
	k := incomingKey{address, txHash}
	if r, ok := t.pending.incoming[k]; ok {
		return r, nil
	}
	if r, ok := t.base.incoming[k]; ok {
		return r, nil
	}
	return models.IncomingTx{}, store.ErrNotFound
}

func (t *tx) OutgoingTx(walletID, paymentID string) (models.OutgoingTx, error) {
	k := outgoingKey{walletID, paymentID}
	if r, ok := t.pending.outgoing[k]; ok {
		return r, nil
	}
	if r, ok := t.base.outgoing[k]; ok {
		return r, nil
	}
	return models.OutgoingTx{}, store.ErrNotFound
}

func (t *tx) IncomingTxs(address string) ([]models.IncomingTx, error) {
	merged := make(map[incomingKey]models.IncomingTx)
	for k, v := range t.base.incoming {
		if k.address == address {
			merged[k] = v
		}
	}
	for k, v := range t.pending.incoming {
		if k.address == address {
			merged[k] = v
		}
	}

	out := make([]models.IncomingTx, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxHash < out[j].TxHash })
	return out, nil
}

func (t *tx) OutgoingTxs(walletID string) ([]models.OutgoingTx, error) {
	merged := make(map[outgoingKey]models.OutgoingTx)
	for k, v := range t.base.outgoing {
		if k.walletID == walletID {
			merged[k] = v
		}
	}
	for k, v := range t.pending.outgoing {
		if k.walletID == walletID {
			merged[k] = v
		}
	}

	out := make([]models.OutgoingTx, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out, nil
}

func (t *tx) WalletAddresses(walletID string) ([]models.Address, error) {
	merged := make(map[string]models.Address)
	for k, v := range t.base.addresses {
		if v.WalletID == walletID {
			merged[k] = v
		}
	}
	for k, v := range t.pending.addresses {
		if v.WalletID == walletID {
			merged[k] = v
		} else {
			delete(merged, k)
		}
	}

	out := make([]models.Address, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (t *tx) PutCursor(c models.SyncCursor) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	c.ID = models.SyncCursorID
	t.pending.cursor = &c
	t.changes.Add(store.Change{Kind: store.ChangeCursor})
	return nil
}

func (t *tx) PutIncomingTx(r models.IncomingTx) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	t.pending.incoming[incomingKey{r.Address, r.TxHash}] = r
	t.changes.Add(store.Change{Kind: store.ChangeIncomingTx, Address: r.Address})
	return nil
}

func (t *tx) PutOutgoingTx(r models.OutgoingTx) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	t.pending.outgoing[outgoingKey{r.WalletID, r.PaymentID}] = r
	t.changes.Add(store.Change{Kind: store.ChangeOutgoingTx, WalletID: r.WalletID})
	return nil
}

func (t *tx) PutWallet(w models.Wallet) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	t.pending.wallets[w.ID] = w
	t.changes.Add(store.Change{Kind: store.ChangeWallet, WalletID: w.ID})
	return nil
}

func (t *tx) PutAddress(a models.Address) error {
	if err := t.budget.Take(); err != nil {
		return err
	}
	t.pending.addresses[a.Address] = a
	t.changes.Add(store.Change{Kind: store.ChangeAddress, Address: a.Address, WalletID: a.WalletID})
	return nil
}

func (t *tx) SetAddressSums(a models.Address, sums models.Sums) error {
	current, err := t.Address(a.Address)
	if err != nil {
		return err
	}
	if err := t.budget.Take(); err != nil {
		return err
	}

	c, u := sums.Confirmed, sums.Unconfirmed
	current.ConfirmedBalance, current.UnconfirmedBalance = &c, &u
	t.pending.addresses[current.Address] = current
	t.changes.Add(store.Change{Kind: store.ChangeAddress, Address: current.Address, WalletID: current.WalletID})
	return nil
}

func (t *tx) SetWalletBalance(walletID string, dir models.Direction, sums models.Sums, settled int64, at time.Time) error {
	current, err := t.Wallet(walletID)
	if err != nil {
		return err
	}
	if err := t.budget.Take(); err != nil {
		return err
	}

	c, u := sums.Confirmed, sums.Unconfirmed
	switch dir {
	case models.Incoming:
		current.IncomingConfirmed, current.IncomingUnconfirmed = &c, &u
	case models.Outgoing:
		current.OutgoingConfirmed, current.OutgoingUnconfirmed = &c, &u
	}
	current.TotalSettled = &settled
	current.LastUpdated = &at

	t.pending.wallets[walletID] = current
	t.changes.Add(store.Change{Kind: store.ChangeWallet, WalletID: walletID})
	return nil
}
