// models/address.go
package models

import (
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Address is a receiving address owned by exactly one wallet.
// Table name: addresses
type Address struct {
	Address            string    `gorm:"primaryKey;type:varchar(128)" json:"address"`
	WalletID           string    `gorm:"type:varchar(64);not null;index" json:"wallet_id"`
	ConfirmedBalance   *int64    `json:"confirmed_balance"`
	UnconfirmedBalance *int64    `json:"unconfirmed_balance"`
	CreatedAt          time.Time `gorm:"not null" json:"created_at"`
}

func (Address) TableName() string { return "addresses" }

// Sums returns the address aggregate, None until the first recomputation.
func (a Address) Sums() fn.Option[Sums] {
	return sumsFromColumns(a.ConfirmedBalance, a.UnconfirmedBalance)
}

func (a *Address) SetSums(s fn.Option[Sums]) {
	a.ConfirmedBalance, a.UnconfirmedBalance = columnsFromSums(s)
}
