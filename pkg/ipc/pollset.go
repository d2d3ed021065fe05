package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/kobj"
)

// TriggerMode selects between level-triggered (ready whenever the
// condition holds) and edge-triggered (ready only on a false→true
// transition) readiness reporting (spec §4.5).
type TriggerMode uint8

const (
	LevelTriggered TriggerMode = iota
	EdgeTriggered
)

// EntryFlags are per-entry pollset behavior flags.
type EntryFlags uint32

// Oneshot deactivates an entry the first time it reports ready; the
// caller must Add it again to receive further events (spec §4.5).
const Oneshot EntryFlags = 1 << 0

// readinessSource is satisfied by anything a PollEntry can check for the
// event bits in its mask. *Channel and a console-input adapter both
// implement it.
type readinessSource interface {
	Ready(mask EventType) bool
}

// Ready reports whether ch currently satisfies any bit of mask (spec
// §4.5 check_readiness(), channel case).
func (c *Channel) Ready(mask EventType) bool {
	if mask&EventChannelRead != 0 && c.HasMessage() {
		return true
	}
	if mask&EventChannelWrite != 0 && c.HasSpace() {
		return true
	}
	return false
}

// consoleSource adapts an externalio.InputSource to readinessSource for
// the HANDLE_CONSOLE_INPUT pseudo-handle (spec §4.5).
type consoleSource struct {
	src externalio.InputSource
}

func (s consoleSource) Ready(mask EventType) bool {
	return mask&EventConsoleInput != 0 && s.src.HasInput()
}

// timerSource adapts a TimerSet+id pair to readinessSource.
type timerSource struct {
	timers *TimerSet
	id     uint64
}

func (s timerSource) Ready(mask EventType) bool {
	return mask&EventTimer != 0 && s.timers.Expired(s.id)
}

// NewConsoleSource wraps an input source for registration with Add.
func NewConsoleSource(src externalio.InputSource) readinessSource {
	return consoleSource{src: src}
}

// NewTimerSource wraps a timer for registration with Add.
func NewTimerSource(timers *TimerSet, id uint64) readinessSource {
	return timerSource{timers: timers, id: id}
}

// PollEntry is one handle registered in a PollSet (spec §4.5 PollEntry).
type PollEntry struct {
	Handle    cap.Handle
	Mask      EventType
	Trigger   TriggerMode
	Flags     EntryFlags
	source    readinessSource
	lastState bool
	active    bool
}

// ReadyEvent reports that a registered handle became ready.
type ReadyEvent struct {
	Handle cap.Handle
	Events EventType
}

// PollSet is the kernel object a POLLSET capability resolves to: a set of
// handles one task watches for readiness, with level/edge triggering and
// optional oneshot semantics (spec §3.3, §4.5).
//
// Grounded on original_source/viperdos/kernel/ipc/pollset.cpp.
type PollSet struct {
	kobj.Object

	mu          sync.Mutex
	ownerTaskID uint64
	entries     map[cap.Handle]*PollEntry
}

// NewPollSet creates an empty pollset owned by ownerTaskID (spec §4.5
// create(), which records owner_task_id for later permission checks).
func NewPollSet(ownerTaskID uint64) *PollSet {
	return &PollSet{
		Object:      kobj.NewObject(cap.KindPoll),
		ownerTaskID: ownerTaskID,
		entries:     make(map[cap.Handle]*PollEntry),
	}
}

// IsOwner reports whether taskID is the task that created this pollset
// (spec §4.5 is_owner()).
func (p *PollSet) IsOwner(taskID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownerTaskID == taskID
}

// Add registers handle, whose readiness is checked via source, for the
// given event mask/trigger/flags (spec §4.5 add()), replacing any entry
// already registered for handle. Add does not check the caller against
// the pollset's owner; IsOwner reports the owner for callers that do.
func (p *PollSet) Add(handle cap.Handle, source readinessSource, mask EventType, trigger TriggerMode, flags EntryFlags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[handle] = &PollEntry{
		Handle:  handle,
		Mask:    mask,
		Trigger: trigger,
		Flags:   flags,
		source:  source,
		active:  true,
	}
	return nil
}

// Remove unregisters handle (spec §4.5 remove()). It is a no-op if the
// handle was never registered.
func (p *PollSet) Remove(handle cap.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, handle)
}

// checkEntryLocked evaluates one entry's readiness, applying edge-trigger
// transition logic and oneshot deactivation, and must be called with
// p.mu held (spec §4.5 check_entry_readiness()).
func (p *PollSet) checkEntryLocked(e *PollEntry) bool {
	if !e.active {
		return false
	}
	current := e.source.Ready(e.Mask)

	var ready bool
	switch e.Trigger {
	case EdgeTriggered:
		ready = current && !e.lastState
	default:
		ready = current
	}
	e.lastState = current

	if ready && e.Flags&Oneshot != 0 {
		e.active = false
	}
	return ready
}

// scanLocked returns every currently-ready entry and must be called with
// p.mu held.
func (p *PollSet) scanLocked() []ReadyEvent {
	var events []ReadyEvent
	for _, e := range p.entries {
		if p.checkEntryLocked(e) {
			events = append(events, ReadyEvent{Handle: e.Handle, Events: e.Mask})
		}
	}
	return events
}

// Wait blocks until at least one registered entry becomes ready, timeout
// elapses, or ctx is cancelled (spec §4.5 wait()). A zero timeout makes
// this a non-blocking poll. This is the "dual-wake" operation: it wakes
// either because a real handle (channel, console) became ready or
// because the wall-clock deadline passed, whichever happens first.
func (p *PollSet) Wait(ctx context.Context, timeout time.Duration) ([]ReadyEvent, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	ready := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.peekLocked()) > 0
	}

	ok, err := waitUntilReady(ctx, deadline, ready)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scanLocked(), nil
}

// peekLocked reports readiness without applying oneshot/edge side
// effects, used by Wait's polling predicate so repeated checks before a
// real readiness transition don't consume edge-triggered or oneshot
// state. The authoritative state mutation happens once, in scanLocked,
// after waitUntilReady confirms something is ready.
func (p *PollSet) peekLocked() []cap.Handle {
	var handles []cap.Handle
	for _, e := range p.entries {
		if !e.active {
			continue
		}
		current := e.source.Ready(e.Mask)
		var ready bool
		if e.Trigger == EdgeTriggered {
			ready = current && !e.lastState
		} else {
			ready = current
		}
		if ready {
			handles = append(handles, e.Handle)
		}
	}
	return handles
}

// Destroy clears every entry, releasing the pollset's hold on them (spec
// §4.5 destroy()).
func (p *PollSet) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[cap.Handle]*PollEntry)
}
