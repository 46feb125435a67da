// models/wallet.go
package models

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Wallet is a custodial account. Its balance halves are written only by the
// aggregator; each half is None until that half is first computed.
// Table name: wallets
type Wallet struct {
	ID            string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID       string `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	ActiveAddress string `gorm:"type:varchar(128)" json:"active_address"`

	IncomingConfirmed   *int64 `json:"-"`
	IncomingUnconfirmed *int64 `json:"-"`
	OutgoingConfirmed   *int64 `json:"-"`
	OutgoingUnconfirmed *int64 `json:"-"`
	TotalSettled        *int64 `json:"-"`

	LastUpdated *time.Time `json:"last_updated"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
}

func (Wallet) TableName() string { return "wallets" }

func (w Wallet) Incoming() fn.Option[Sums] {
	return sumsFromColumns(w.IncomingConfirmed, w.IncomingUnconfirmed)
}

func (w Wallet) Outgoing() fn.Option[Sums] {
	return sumsFromColumns(w.OutgoingConfirmed, w.OutgoingUnconfirmed)
}

func (w Wallet) Settled() fn.Option[int64] {
	if w.TotalSettled == nil {
		return fn.None[int64]()
	}
	return fn.Some(*w.TotalSettled)
}

// Half returns the incoming or outgoing aggregate.
func (w Wallet) Half(dir Direction) fn.Option[Sums] {
	if dir == Incoming {
		return w.Incoming()
	}
	return w.Outgoing()
}

// ApplyBalance replaces one half, re-derives total_settled from both halves
// and stamps last_updated. The other half is left as is.
func (w *Wallet) ApplyBalance(dir Direction, sums Sums, at time.Time) {
	c, u := columnsFromSums(fn.Some(sums))
	switch dir {
	case Incoming:
		w.IncomingConfirmed, w.IncomingUnconfirmed = c, u
	case Outgoing:
		w.OutgoingConfirmed, w.OutgoingUnconfirmed = c, u
	}

	settled := SettledBalance(w.Incoming(), w.Outgoing())
	w.TotalSettled = &settled
	w.LastUpdated = &at
}

// BalanceView is the client-facing wallet balance. Missing aggregates
// render as null rather than zero.
type BalanceView struct {
	Incoming     *Sums  `json:"incoming"`
	Outgoing     *Sums  `json:"outgoing"`
	TotalSettled *int64 `json:"total_settled"`
}

// WalletView is a wallet with its derived address list.
type WalletView struct {
	ID                  string      `json:"id"`
	OwnerID             string      `json:"owner_id"`
	ActiveAddress       string      `json:"active_address"`
	AssociatedAddresses []string    `json:"associated_addresses"`
	Balance             BalanceView `json:"balance"`
	LastUpdated         *time.Time  `json:"last_updated"`
	CreatedAt           time.Time   `json:"created_at"`
}

func NewWalletView(w Wallet, addresses []Address) WalletView {
	assoc := make([]string, 0, len(addresses))
	for _, a := range addresses {
		assoc = append(assoc, a.Address)
	}
	return WalletView{
		ID:                  w.ID,
		OwnerID:             w.OwnerID,
		ActiveAddress:       w.ActiveAddress,
		AssociatedAddresses: assoc,
		Balance: BalanceView{
			Incoming:     OptionPtr(w.Incoming()),
			Outgoing:     OptionPtr(w.Outgoing()),
			TotalSettled: OptionPtr(w.Settled()),
		},
		LastUpdated: w.LastUpdated,
		CreatedAt:   w.CreatedAt,
	}
}
