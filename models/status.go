// models/status.go
package models

// TxStatus is the lifecycle state of a mirrored transaction record.
type TxStatus string

const (
	StatusNew         TxStatus = "NEW"
	StatusMempool     TxStatus = "MEMPOOL"
	StatusUnconfirmed TxStatus = "UNCONFIRMED"
	StatusConfirmed   TxStatus = "CONFIRMED"
)

// ConfirmationThreshold is the number of confirmations after which a
// transaction counts as settled.
const ConfirmationThreshold = 6

// Rank orders statuses along the only direction a record may move.
func (s TxStatus) Rank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusMempool:
		return 1
	case StatusUnconfirmed:
		return 2
	case StatusConfirmed:
		return 3
	default:
		return -1
	}
}

func (s TxStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s TxStatus) Confirmed() bool {
	return s == StatusConfirmed
}

// MaxStatus returns the more advanced of a and b.
func MaxStatus(a, b TxStatus) TxStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// StatusFromConfirmations maps a confirmation count to UNCONFIRMED or
// CONFIRMED. MEMPOOL is decided by the classifier, not here.
func StatusFromConfirmations(confirmations int32) TxStatus {
	if confirmations >= ConfirmationThreshold {
		return StatusConfirmed
	}
	return StatusUnconfirmed
}
