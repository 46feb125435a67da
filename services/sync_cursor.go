// services/sync_cursor.go
package services

import (
	"custodial-wallet-service/models"
)

// cursorTracker works out where the next run should start. A block that
// still holds an unconfirmed transaction has to be scanned again; otherwise
// the run may move past the last block it saw fully confirmed.
type cursorTracker struct {
	lastConfirmed       int32
	earliestUnconfirmed int32 // 0 while none seen
}

// newCursorTracker starts just below the run's start height so a run that
// confirms nothing leaves the cursor where it was.
func newCursorTracker(start int32) *cursorTracker {
	return &cursorTracker{lastConfirmed: start - 1}
}

func (c *cursorTracker) observe(status models.TxStatus, blockHeight int32) {
	if blockHeight <= 0 {
		return
	}
	if status.Confirmed() {
		if blockHeight > c.lastConfirmed {
			c.lastConfirmed = blockHeight
		}
		return
	}
	if c.earliestUnconfirmed == 0 || blockHeight < c.earliestUnconfirmed {
		c.earliestUnconfirmed = blockHeight
	}
}

func (c *cursorTracker) next() int32 {
	if c.earliestUnconfirmed > 0 {
		return c.earliestUnconfirmed
	}
	if c.lastConfirmed < 0 {
		return 0
	}
	return c.lastConfirmed + 1
}

// nextBefore is next capped at pending, the lowest block height (>0) whose
// records are not written yet. A block split across two batches stays
// in range until its last record is committed.
func (c *cursorTracker) nextBefore(pending int32) int32 {
	next := c.next()
	if pending > 0 && pending < next {
		return pending
	}
	return next
}

// pendingHeights returns, for every index i, the lowest block height (>0)
// among results[i:], or 0 when there is none.
func pendingHeights(heights []int32) []int32 {
	out := make([]int32, len(heights)+1)
	for i := len(heights) - 1; i >= 0; i-- {
		out[i] = out[i+1]
		if h := heights[i]; h > 0 && (out[i] == 0 || h < out[i]) {
			out[i] = h
		}
	}
	return out
}
