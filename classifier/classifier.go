// Package classifier decides what a raw ledger transaction means for our
// wallets. It performs no I/O.
package classifier

import (
	"custodial-wallet-service/ledger"
	"custodial-wallet-service/models"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Kind of a relevant transaction.
type Kind int

const (
	KindIncoming Kind = iota + 1
	KindOutgoing
)

func (k Kind) String() string {
	switch k {
	case KindIncoming:
		return "incoming"
	case KindOutgoing:
		return "outgoing"
	default:
		return "discarded"
	}
}

// Reason explains why a transaction was discarded.
type Reason string

const (
	ReasonIrrelevantDeposit Reason = "irrelevant_deposit"
	ReasonForeignSpend      Reason = "foreign_spend"
	ReasonMalformedLabel    Reason = "malformed_label"
	ReasonUnknownWallet     Reason = "unknown_wallet"
	ReasonZeroAmount        Reason = "zero_amount"
)

// Anomaly reports whether the discard points at data we should have
// recognised and is worth a warning.
func (r Reason) Anomaly() bool {
	switch r {
	case ReasonMalformedLabel, ReasonUnknownWallet, ReasonZeroAmount:
		return true
	default:
		return false
	}
}

// Known is the snapshot of our addresses and wallets a run classifies
// against.
type Known struct {
	Addresses map[string]string // address -> wallet id
	Wallets   fn.Set[string]
}

func NewKnown(addresses map[string]string, wallets []string) Known {
	if addresses == nil {
		addresses = map[string]string{}
	}
	return Known{
		Addresses: addresses,
		Wallets:   fn.NewSet(wallets...),
	}
}

func (k Known) Empty() bool {
	return len(k.Addresses) == 0 && len(k.Wallets) == 0
}

// Result of classifying one transaction. Exactly one of Incoming/Outgoing is
// meaningful for a relevant result; Reason is set for discards.
type Result struct {
	Kind     Kind
	Incoming models.IncomingTx
	Outgoing models.OutgoingObservation
	Reason   Reason
}

func (r Result) Relevant() bool {
	return r.Reason == ""
}

// Status reports the classified status of a relevant result.
func (r Result) Status() models.TxStatus {
	if r.Kind == KindOutgoing {
		return r.Outgoing.Status
	}
	return r.Incoming.Status
}

// BlockHeight reports the block of a relevant result, 0 if unmined.
func (r Result) BlockHeight() int32 {
	if r.Kind == KindOutgoing {
		return r.Outgoing.BlockHeight
	}
	return r.Incoming.BlockHeight
}

func discard(reason Reason) Result {
	return Result{Reason: reason}
}

// Classify maps a raw ledger transaction onto an incoming deposit, an
// outgoing payment, or a discard.
func Classify(raw ledger.RawTx, known Known) Result {
	switch {
	case raw.Amount > 0:
		return classifyIncoming(raw, known)
	case raw.Amount < 0:
		return classifyOutgoing(raw, known)
	default:
		return discard(ReasonZeroAmount)
	}
}

func classifyIncoming(raw ledger.RawTx, known Known) Result {
	for _, addr := range raw.DestAddresses {
		if _, ok := known.Addresses[addr]; !ok {
			continue
		}
		return Result{
			Kind: KindIncoming,
			Incoming: models.IncomingTx{
				Address:     addr,
				TxHash:      raw.TxHash,
				BlockHeight: raw.BlockHeight,
				Timestamp:   raw.Time(),
				Amount:      raw.Amount,
				Status:      models.StatusFromConfirmations(raw.NumConfirmations),
			},
		}
	}
	return discard(ReasonIrrelevantDeposit)
}

func classifyOutgoing(raw ledger.RawTx, known Known) Result {
	if !IsPaymentLabel(raw.Label) {
		return discard(ReasonForeignSpend)
	}

	walletID, paymentID, err := ParsePaymentLabel(raw.Label)
	if err != nil {
		return discard(ReasonMalformedLabel)
	}
	if !known.Wallets.Contains(walletID) {
		return discard(ReasonUnknownWallet)
	}

	status := models.StatusFromConfirmations(raw.NumConfirmations)
	if raw.BlockHeight <= 0 && status != models.StatusConfirmed {
		status = models.StatusMempool
	}

	return Result{
		Kind: KindOutgoing,
		Outgoing: models.OutgoingObservation{
			WalletID:    walletID,
			PaymentID:   paymentID,
			TxHash:      raw.TxHash,
			GrossAmount: -raw.Amount,
			Fee:         raw.TotalFees,
			BlockHeight: raw.BlockHeight,
			Timestamp:   raw.Time(),
			Status:      status,
		},
	}
}
