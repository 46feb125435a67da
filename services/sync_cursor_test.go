package services

import (
	"testing"

	"custodial-wallet-service/models"

	"github.com/stretchr/testify/assert"
)

func TestCursorTracker(t *testing.T) {
	t.Parallel()

	type obs struct {
		status models.TxStatus
		height int32
	}

	tests := []struct {
		name  string
		start int32
		seen  []obs
		want  int32
	}{
		{name: "nothing seen from genesis", start: 0, want: 0},
		{name: "nothing seen keeps start", start: 250, want: 250},
		{
			name:  "confirmed only advances past highest",
			start: 10,
			seen:  []obs{{models.StatusConfirmed, 12}, {models.StatusConfirmed, 15}},
			want:  16,
		},
		{
			name:  "earliest unconfirmed wins",
			start: 0,
			seen: []obs{
				{models.StatusUnconfirmed, 100},
				{models.StatusConfirmed, 105},
				{models.StatusUnconfirmed, 103},
			},
			want: 100,
		},
		{
			name:  "mempool heights ignored",
			start: 40,
			seen:  []obs{{models.StatusMempool, 0}, {models.StatusUnconfirmed, -1}, {models.StatusConfirmed, 41}},
			want:  42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCursorTracker(tt.start)
			for _, o := range tt.seen {
				c.observe(o.status, o.height)
			}
			assert.Equal(t, tt.want, c.next())
		})
	}
}

func TestCursorTracker_NextBefore(t *testing.T) {
	t.Parallel()

	c := newCursorTracker(10)
	c.observe(models.StatusConfirmed, 10)
	c.observe(models.StatusConfirmed, 12)

	assert.Equal(t, int32(13), c.nextBefore(0))
	assert.Equal(t, int32(12), c.nextBefore(12))
	assert.Equal(t, int32(13), c.nextBefore(14))
}

func TestPendingHeights(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int32{10, 10, 12, 0, 0}, pendingHeights([]int32{10, 10, 12, 0}))
	assert.Equal(t, []int32{0}, pendingHeights(nil))
	assert.Equal(t, []int32{7, 7, 9, 0}, pendingHeights([]int32{9, 7, 9}))
}
