package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/splanck/viperdos/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelTrySendTryRecvRoundTrip(t *testing.T) {
	ch := NewChannel(2)
	assert.True(t, ch.HasSpace())
	assert.False(t, ch.HasMessage())

	require.NoError(t, ch.TrySend(Message{Data: []byte("hello")}))
	assert.True(t, ch.HasMessage())

	msg, err := ch.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Data))
	assert.False(t, ch.HasMessage())
}

func TestChannelTrySendFullReturnsWouldBlock(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.TrySend(Message{Data: []byte("a")}))

	err := ch.TrySend(Message{Data: []byte("b")})
	assert.Equal(t, common.ErrWouldBlock, err)
}

func TestChannelTryRecvEmptyReturnsWouldBlock(t *testing.T) {
	ch := NewChannel(1)
	_, err := ch.TryRecv()
	assert.Equal(t, common.ErrWouldBlock, err)
}

func TestChannelRecvBlocksUntilSend(t *testing.T) {
	ch := NewChannel(1)
	done := make(chan Message, 1)

	go func() {
		msg, err := ch.Recv(context.Background())
		require.NoError(t, err)
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Send(context.Background(), Message{Data: []byte("ping")}))

	select {
	case msg := <-done:
		assert.Equal(t, "ping", string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("recv did not wake up after send")
	}
}

func TestChannelSendBlocksUntilSpace(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.TrySend(Message{Data: []byte("a")}))

	sendDone := make(chan error, 1)
	go func() {
		sendDone <- ch.Send(context.Background(), Message{Data: []byte("b")})
	}()

	select {
	case <-sendDone:
		t.Fatal("send should have blocked while queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := ch.TryRecv()
	require.NoError(t, err)

	select {
	case err := <-sendDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after space freed")
	}
}

func TestChannelRecvWakesOnPeerClose(t *testing.T) {
	ch := NewChannel(1)
	ch.Ref()

	recvDone := make(chan error, 1)
	go func() {
		_, err := ch.Recv(context.Background())
		recvDone <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ch.CloseEnd(true)

	select {
	case err := <-recvDone:
		assert.Equal(t, common.ErrChannelClosed, err)
	case <-time.After(time.Second):
		t.Fatal("recv did not wake up after send end closed")
	}
}

func TestChannelSendRespectsContextCancellation(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.TrySend(Message{Data: []byte("a")}))

	ctx, cancel := context.WithCancel(context.Background())
	sendDone := make(chan error, 1)
	go func() {
		sendDone <- ch.Send(ctx, Message{Data: []byte("b")})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-sendDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after context cancellation")
	}
}

func TestChannelCloseEndDrainsOnLastRef(t *testing.T) {
	ch := NewChannel(4)
	require.NoError(t, ch.TrySend(Message{Data: []byte("leftover")}))

	drained, lastRef := ch.CloseEnd(true)
	assert.True(t, lastRef)
	require.Len(t, drained, 1)
	assert.Equal(t, "leftover", string(drained[0].Data))
}
