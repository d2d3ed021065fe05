package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSetWaitReportsChannelReadiness(t *testing.T) {
	ch := NewChannel(4)
	ps := NewPollSet(1)
	h := cap.MakeHandle(0, 0)
	require.NoError(t, ps.Add(h, ch, EventChannelRead, LevelTriggered, 0))

	events, err := ps.Wait(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, events, "nothing queued yet")

	require.NoError(t, ch.TrySend(Message{Data: []byte("x")}))

	events, err = ps.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, h, events[0].Handle)
}

func TestPollSetWaitTimesOutWithNoReadyEntries(t *testing.T) {
	ch := NewChannel(4)
	ps := NewPollSet(1)
	h := cap.MakeHandle(0, 0)
	require.NoError(t, ps.Add(h, ch, EventChannelRead, LevelTriggered, 0))

	start := time.Now()
	events, err := ps.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPollSetOneshotDeactivatesAfterFiring(t *testing.T) {
	ch := NewChannel(4)
	ps := NewPollSet(1)
	h := cap.MakeHandle(0, 0)
	require.NoError(t, ps.Add(h, ch, EventChannelRead, LevelTriggered, Oneshot))
	require.NoError(t, ch.TrySend(Message{Data: []byte("x")}))

	events, err := ps.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, ch.TrySend(Message{Data: []byte("y")}))
	events, err = ps.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events, "oneshot entry must not fire again without re-adding")
}

func TestPollSetEdgeTriggeredOnlyFiresOnTransition(t *testing.T) {
	ch := NewChannel(4)
	ps := NewPollSet(1)
	h := cap.MakeHandle(0, 0)
	require.NoError(t, ps.Add(h, ch, EventChannelRead, EdgeTriggered, 0))

	require.NoError(t, ch.TrySend(Message{Data: []byte("x")}))
	events, err := ps.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1, "rising edge must fire once")

	events, err = ps.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events, "level staying high must not re-fire an edge trigger")
}

func TestPollSetRemoveStopsReporting(t *testing.T) {
	ch := NewChannel(4)
	ps := NewPollSet(1)
	h := cap.MakeHandle(0, 0)
	require.NoError(t, ps.Add(h, ch, EventChannelRead, LevelTriggered, 0))
	ps.Remove(h)

	require.NoError(t, ch.TrySend(Message{Data: []byte("x")}))
	events, err := ps.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollSetIsOwner(t *testing.T) {
	ps := NewPollSet(42)
	assert.True(t, ps.IsOwner(42))
	assert.False(t, ps.IsOwner(7))
}

func TestPollSetDualWakeOnTimer(t *testing.T) {
	timers := NewTimerSet()
	id := timers.Create(15 * time.Millisecond)

	ps := NewPollSet(1)
	th := cap.MakeHandle(1, 0)
	require.NoError(t, ps.Add(th, NewTimerSource(timers, id), EventTimer, LevelTriggered, 0))

	events, err := ps.Wait(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, th, events[0].Handle)
}
