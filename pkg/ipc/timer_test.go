package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSetExpiresAfterDuration(t *testing.T) {
	ts := NewTimerSet()
	id := ts.Create(10 * time.Millisecond)
	assert.False(t, ts.Expired(id))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, ts.Expired(id))
}

func TestTimerSetUnknownIDIsExpired(t *testing.T) {
	ts := NewTimerSet()
	assert.True(t, ts.Expired(999), "unknown timer id must read as expired, defensively")
}

func TestTimerSetCancel(t *testing.T) {
	ts := NewTimerSet()
	id := ts.Create(time.Hour)
	ts.Cancel(id)
	assert.True(t, ts.Expired(id), "a cancelled timer is gone, so Expired falls back to the unknown-id case")
}

func TestSleepMsReturnsAfterDuration(t *testing.T) {
	ts := NewTimerSet()
	start := time.Now()
	err := SleepMs(context.Background(), ts, 15*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSleepMsRespectsCancellation(t *testing.T) {
	ts := NewTimerSet()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := SleepMs(ctx, ts, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
