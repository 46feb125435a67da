package store

import (
	"sync"
)

// ChangeKind names the collection a committed write touched.
type ChangeKind string

const (
	ChangeIncomingTx ChangeKind = "incoming_tx"
	ChangeOutgoingTx ChangeKind = "outgoing_tx"
	ChangeAddress    ChangeKind = "address"
	ChangeWallet     ChangeKind = "wallet"
	ChangeCursor     ChangeKind = "cursor"
)

// Change is published once per touched record after commit. Address is set
// for incoming and address changes, WalletID for everything wallet scoped.
type Change struct {
	Kind     ChangeKind
	Address  string
	WalletID string
}

// ChangeSet collects a transaction's changes in write order, without
// duplicates.
type ChangeSet struct {
	seen map[Change]struct{}
	list []Change
}

func (s *ChangeSet) Add(c Change) {
	if s.seen == nil {
		s.seen = make(map[Change]struct{})
	}
	if _, ok := s.seen[c]; ok {
		return
	}
	s.seen[c] = struct{}{}
	s.list = append(s.list, c)
}

func (s *ChangeSet) List() []Change {
	return s.list
}

// Notifier fans committed changes out to subscribers.
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Change)
}

func (n *Notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]func(Change))
	}
	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *Notifier) Publish(changes []Change) {
	if len(changes) == 0 {
		return
	}

	n.mu.RLock()
	subs := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

// WriteBudget counts writes against the per-transaction limit.
type WriteBudget struct {
	Max  int
	used int
}

func (b *WriteBudget) Take() error {
	if b.Max > 0 && b.used >= b.Max {
		return ErrWriteSetTooLarge
	}
	b.used++
	return nil
}

func (b *WriteBudget) Used() int {
	return b.used
}
