// Package ipc implements ViperDOS's bounded-queue channel IPC and the
// poll/pollset readiness subsystems built on top of it (spec §3.3, §4.4,
// §4.5).
//
// Grounded on original_source/os/kernel/ipc/channel.cpp,
// original_source/viperdos/kernel/ipc/poll.cpp and
// .../ipc/pollset.cpp. The original's hand-rolled "register the waiter
// under the lock, then release and yield" pattern — needed on bare metal
// to avoid a lost wakeup between checking state and blocking — is exactly
// what sync.Cond gives for free: Cond.Wait() atomically unlocks the
// associated Mutex and parks the goroutine, so the same invariant holds
// without re-deriving it by hand.
package ipc

import (
	"context"
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/kobj"
)

// TransferredHandle describes one capability riding along inside a
// Message. It stands in for the original's raw in-band handle value: the
// sender's cap.Table entry is consulted before send (object/kind/rights),
// and on successful delivery the receiver's cap.Table gets a fresh entry
// built from these fields (spec §4.4's "handle transfer").
type TransferredHandle struct {
	Object cap.Object
	Kind   cap.Kind
	Rights cap.Rights
}

// Message is one queued channel payload: an inline byte buffer plus zero
// or more transferred handles (spec §4.4).
type Message struct {
	Data    []byte
	Handles []TransferredHandle
}

// DefaultCapacity is the default channel queue depth (spec §4.4).
const DefaultCapacity = 64

// MaxMessageSize bounds a single message's payload; try_send rejects
// anything larger with ErrMsgTooLarge before it ever reaches the queue
// (spec §4.4.2).
const MaxMessageSize = 4096

// MaxTransferHandles bounds how many capabilities may ride along with a
// single message; try_send rejects more than this with ErrInvalidArg
// (spec §4.4.2).
const MaxTransferHandles = 4

// Channel is the kernel object behind a CHANNEL capability: a bounded
// FIFO of Messages shared by (at most) one sender and one receiver
// handle. Both the SEND and RECV capabilities for a pair resolve to the
// same *Channel; rights alone distinguish what each side may do with it.
type Channel struct {
	kobj.Object

	mu       sync.Mutex
	readable *sync.Cond
	writable *sync.Cond

	queue    []Message
	capacity int

	sendClosed bool
	recvClosed bool
}

// NewChannel allocates a channel with the given queue capacity (0 uses
// DefaultCapacity). The returned object starts with a reference count of
// 1, as if only the send handle exists yet; callers creating both ends
// must Ref() once more before inserting the second handle (spec §4.4
// create()).
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ch := &Channel{
		Object:   kobj.NewObject(cap.KindChannel),
		capacity: capacity,
	}
	ch.readable = sync.NewCond(&ch.mu)
	ch.writable = sync.NewCond(&ch.mu)
	return ch
}

// HasMessage reports whether a TryRecv would currently succeed (spec §4.4
// has_message()).
func (c *Channel) HasMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) > 0
}

// HasSpace reports whether the send end is open and the queue has room
// (spec §4.4 has_space()). It does not check whether the receive end has
// been closed.
func (c *Channel) HasSpace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.sendClosed && len(c.queue) < c.capacity
}

// TrySend enqueues msg without blocking. It fails with ErrWouldBlock if
// the queue is full and with ErrChannelClosed if the receive end is
// already gone (spec §4.4 try_send()).
func (c *Channel) TrySend(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recvClosed {
		return common.ErrChannelClosed
	}
	if len(c.queue) >= c.capacity {
		return common.ErrWouldBlock
	}
	c.queue = append(c.queue, msg)
	c.readable.Signal()
	return nil
}

// TryRecv dequeues the oldest pending message without blocking. It fails
// with ErrWouldBlock if nothing is queued, unless the send end is closed
// and the queue is empty, in which case it reports ErrChannelClosed (spec
// §4.4 try_recv()).
func (c *Channel) TryRecv() (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		if c.sendClosed {
			return Message{}, common.ErrChannelClosed
		}
		return Message{}, common.ErrWouldBlock
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	c.writable.Signal()
	return msg, nil
}

// Send enqueues msg, blocking until space is available, the peer closes,
// or ctx is cancelled (spec §4.4 send()). The wait loop mirrors the
// original's "recheck the predicate every wakeup" discipline: Cond.Wait
// can return on a spurious or unrelated Signal, so the condition is
// always re-tested.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	done := contextDoneSignal(ctx, &c.mu, c.writable)
	defer done()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.recvClosed {
			return common.ErrChannelClosed
		}
		if len(c.queue) < c.capacity {
			c.queue = append(c.queue, msg)
			c.readable.Signal()
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.writable.Wait()
	}
}

// Recv dequeues the oldest message, blocking until one arrives, the peer
// closes, or ctx is cancelled (spec §4.4 recv()).
func (c *Channel) Recv(ctx context.Context) (Message, error) {
	done := contextDoneSignal(ctx, &c.mu, c.readable)
	defer done()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.writable.Signal()
			return msg, nil
		}
		if c.sendClosed {
			return Message{}, common.ErrChannelClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		c.readable.Wait()
	}
}

// CloseEnd marks one endpoint of the channel closed, drops the shared
// reference, and wakes everyone waiting on the other end so they observe
// ErrChannelClosed instead of blocking forever (spec §4.4
// close_endpoint()). When the last reference drops, any messages still
// queued are discarded; the original logs this as a handle leak, which we
// surface through the drained return value so a caller can decide whether
// to log it.
func (c *Channel) CloseEnd(isSend bool) (drained []Message, lastRef bool) {
	c.mu.Lock()
	if isSend {
		c.sendClosed = true
	} else {
		c.recvClosed = true
	}
	c.readable.Broadcast()
	c.writable.Broadcast()
	c.mu.Unlock()

	lastRef = c.Unref()
	if lastRef {
		c.mu.Lock()
		drained = c.queue
		c.queue = nil
		c.mu.Unlock()
	}
	return drained, lastRef
}

// contextDoneSignal arranges for cond to be broadcast when ctx is
// cancelled, so a goroutine blocked in Cond.Wait wakes up to notice
// ctx.Err() instead of waiting forever. It returns a cleanup func that
// must be deferred by the caller.
func contextDoneSignal(ctx context.Context, mu *sync.Mutex, cond *sync.Cond) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
