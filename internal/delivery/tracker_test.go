package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextIDIncrements(t *testing.T) {
	tr := New()
	assert.EqualValues(t, 1, tr.NextID())
	assert.EqualValues(t, 2, tr.NextID())
	assert.EqualValues(t, 3, tr.NextID())
}

func TestAddPendingConfirmRoundTrip(t *testing.T) {
	tr := New()
	id := tr.NextID()
	assert.True(t, tr.AddPending(id, []byte("hello")))
	assert.True(t, tr.Confirm(id))
	assert.False(t, tr.Confirm(id), "second confirm of the same id must return false")
	assert.True(t, tr.IsEmpty())
}

func TestBufferCapRejectsOverflow(t *testing.T) {
	tr := New()
	for i := 0; i < BufferCap; i++ {
		id := tr.NextID()
		assert.True(t, tr.AddPending(id, []byte("x")))
	}
	overflowID := tr.NextID()
	assert.False(t, tr.AddPending(overflowID, []byte("x")), "101st enqueue must be rejected")
	assert.Equal(t, BufferCap, tr.PendingCount(), "buffer size remains at cap")
}

func TestExpiredReturnsOnlyTimedOutEntries(t *testing.T) {
	tr := New()
	id1 := tr.NextID()
	tr.AddPending(id1, []byte("old"))

	past := time.Now().Add(-1 * time.Hour)
	// Make the entry look old by passing Expired a "now" 31s in the future
	// instead of sleeping.
	expired := tr.Expired(time.Now().Add(31*time.Second), DefaultTimeout)
	assert.Len(t, expired, 1)
	assert.Equal(t, id1, expired[0].ID)

	// Immediately after being marked resent, it should not show up again
	// against the same now.
	stillFresh := tr.Expired(time.Now().Add(31*time.Second), DefaultTimeout)
	assert.Len(t, stillFresh, 0)
	_ = past
}

func TestMarkReceivedTracksHighWaterMark(t *testing.T) {
	tr := New()
	tr.MarkReceived(5)
	tr.MarkReceived(3)
	tr.MarkReceived(7)
	assert.EqualValues(t, 7, tr.lastReceived)
}
