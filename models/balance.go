// models/balance.go
package models

import (
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Sums is a confirmed/unconfirmed pair of satoshi totals.
type Sums struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

func (s Sums) Add(o Sums) Sums {
	return Sums{
		Confirmed:   s.Confirmed + o.Confirmed,
		Unconfirmed: s.Unconfirmed + o.Unconfirmed,
	}
}

func (s Sums) Total() int64 {
	return s.Confirmed + s.Unconfirmed
}

// Direction selects one half of a wallet balance.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// SettledBalance is incoming.confirmed - outgoing.confirmed -
// outgoing.unconfirmed. A half that was never aggregated counts as zero.
func SettledBalance(in, out fn.Option[Sums]) int64 {
	i := in.UnwrapOr(Sums{})
	o := out.UnwrapOr(Sums{})
	return i.Confirmed - o.Confirmed - o.Unconfirmed
}

// sumsFromColumns turns a pair of nullable columns into an aggregate. Both
// columns are written together, so one NULL means "not aggregated".
func sumsFromColumns(confirmed, unconfirmed *int64) fn.Option[Sums] {
	if confirmed == nil || unconfirmed == nil {
		return fn.None[Sums]()
	}
	return fn.Some(Sums{Confirmed: *confirmed, Unconfirmed: *unconfirmed})
}

func columnsFromSums(o fn.Option[Sums]) (*int64, *int64) {
	var confirmed, unconfirmed *int64
	o.WhenSome(func(s Sums) {
		c, u := s.Confirmed, s.Unconfirmed
		confirmed, unconfirmed = &c, &u
	})
	return confirmed, unconfirmed
}

// OptionPtr converts an option into a pointer for JSON output, where None
// renders as null.
func OptionPtr[T any](o fn.Option[T]) *T {
	var out *T
	o.WhenSome(func(v T) {
		out = &v
	})
	return out
}
