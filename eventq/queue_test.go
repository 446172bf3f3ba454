package eventq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdwire/sdmmc/hw"
)

func TestNew_RejectsBadDepth(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidDepth)

	_, err = New(-1)
	assert.ErrorIs(t, err, ErrInvalidDepth)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)

	q.Enqueue(hw.Event{Status: 1})
	q.Enqueue(hw.Event{Status: 2})
	q.Enqueue(hw.Event{Status: 3})

	for want := uint32(1); want <= 3; want++ {
		evt, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, evt.Status)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueue_OverflowDropsAndCounts(t *testing.T) {
	q, err := New(2)
	require.NoError(t, err)

	before := q.Dropped()
	q.Enqueue(hw.Event{Status: 1})
	q.Enqueue(hw.Event{Status: 2})
	q.Enqueue(hw.Event{Status: 3})
	q.Enqueue(hw.Event{Status: 4})

	assert.Equal(t, int64(2), q.Dropped()-before)

	// The oldest records survive, the newest were dropped.
	evt, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint32(1), evt.Status)
	evt, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, uint32(2), evt.Status)
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)

	start := time.Now()
	_, ok := q.Dequeue(10 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestQueue_DequeueBlocksUntilEvent(t *testing.T) {
	q, err := New(4)
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Enqueue(hw.Event{Status: 42})
	}()

	// Zero timeout means wait forever.
	evt, ok := q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, uint32(42), evt.Status)
}
