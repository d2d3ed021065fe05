package ipc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// EventType is a bitmask of readiness conditions pollset entries can wait
// for (spec §4.5).
//
// Grounded on original_source/viperdos/kernel/ipc/poll.cpp's EventType
// enum.
type EventType uint32

const (
	EventChannelRead  EventType = 1 << 0
	EventChannelWrite EventType = 1 << 1
	EventTimer        EventType = 1 << 2
	EventConsoleInput EventType = 1 << 3
)

// scanInterval bounds how often a blocking poll loop re-checks readiness
// when it has to wait on a kind of event (like HANDLE_CONSOLE_INPUT) that
// has no sync.Cond to park on. The original's poll() does the same thing
// on bare metal by yielding and re-scanning every scheduler tick; this is
// that tick, sized small enough that tests relying on timeout behavior
// stay fast without busy-spinning the host CPU.
const scanInterval = 500 * time.Microsecond

// SleepMs blocks the calling task for d, or until ctx is cancelled,
// whichever comes first (spec §4.5 sleep_ms()). It is built directly on
// the timer table so a cancelled sleep still cleans up its timer.
func SleepMs(ctx context.Context, timers *TimerSet, d time.Duration) error {
	id := timers.Create(d)
	defer timers.Cancel(id)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errNotReady is the transient sentinel that keeps backoff.Retry polling
// ready(); it never escapes waitUntilReady.
var errNotReady = errors.New("ipc: not ready")

// waitUntilReady polls ready, backing off between checks, until it
// returns true, ctx is cancelled, or deadline passes; a zero deadline
// checks ready once and returns without waiting. It returns (true, nil) on readiness, (false, nil) on timeout,
// and (false, err) on context cancellation — the three outcomes spec
// §4.5's poll()/wait() distinguish.
//
// The original re-scans every scheduler tick on bare metal, a fixed
// interval it can afford because ticks are cheap kernel-internal events.
// Hosted on a real CPU, a fixed tight interval either busy-spins or adds
// needless latency; an exponential backoff (capped low, since pollset
// waits are meant to feel immediate) gives a tighter response time right
// after the call starts, backing off only if a caller is waiting a while.
func waitUntilReady(ctx context.Context, deadline time.Time, ready func() bool) (bool, error) {
	if ready() {
		return true, nil
	}
	if deadline.IsZero() {
		// A zero deadline with no immediate readiness means "return
		// immediately" (spec §4.5: timeout_ms == 0 is non-blocking).
		return false, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = scanInterval
	b.MaxInterval = 5 * time.Millisecond
	b.Multiplier = 1.5

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if ready() {
			return struct{}{}, nil
		}
		return struct{}{}, errNotReady
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(time.Until(deadline)))

	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, nil
	}
}
