package syscall

import (
	"context"
	"time"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/splanck/viperdos/pkg/proc"
)

// pollSetCreate allocates a pollset owned by the calling task and inserts
// its handle into the caller's table (spec §4.5 create()).
func (k *Kernel) pollSetCreate(v *proc.Viper, t *proc.Task, args Args) Result {
	ps := ipc.NewPollSet(t.ID())
	h := v.Caps.Insert(ps, cap.KindPoll, cap.Read|cap.Write)
	if h == cap.Invalid {
		return Result{Err: cap.ErrFull}
	}
	return Result{Handle: uint32(h)}
}

func resolvePollSet(v *proc.Viper, handle cap.Handle) (*ipc.PollSet, error) {
	e := v.Caps.GetChecked(handle, cap.KindPoll)
	if e == nil {
		return nil, common.ErrInvalidHandle
	}
	ps, ok := e.Object().(*ipc.PollSet)
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	return ps, nil
}

// pollSetAdd registers args.Arg1 (the handle to watch) into the pollset
// args.Arg0 with the event mask/trigger/flags packed into Arg2/Arg3 (spec
// §4.5 add()). args.Arg1 == cap.ConsoleInput is the one value that never
// goes through the caller's capability table: it watches the kernel's
// console input source directly, the pseudo-handle path spec §4.5.2
// carves out before the normal "resolve h in the current capability
// table" rule. Anything else must already be a channel handle the caller
// holds. The caller's task is not compared with the pollset's owner, so
// any task holding the pollset handle can add entries.
func (k *Kernel) pollSetAdd(v *proc.Viper, args Args) Result {
	psHandle := cap.Handle(args.Arg0)
	ps, err := resolvePollSet(v, psHandle)
	if err != nil {
		return Result{Err: err}
	}

	target := cap.Handle(args.Arg1)
	mask := ipc.EventType(args.Arg2)
	trigger := ipc.TriggerMode(args.Arg3 & 0xFF)
	flags := ipc.EntryFlags(args.Arg3 >> 8)

	if target == cap.ConsoleInput {
		if k.Console == nil {
			return Result{Err: common.ErrNotSupported}
		}
		if err := ps.Add(target, ipc.NewConsoleSource(k.Console), mask, trigger, flags); err != nil {
			return Result{Err: err}
		}
		return Result{}
	}

	e := v.Caps.Get(target)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	ch, ok := e.Object().(*ipc.Channel)
	if !ok {
		return Result{Err: common.ErrInvalidArg}
	}
	if err := ps.Add(target, ch, mask, trigger, flags); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// pollSetRemove unregisters args.Arg1 from the pollset args.Arg0 (spec
// §4.5 remove()).
func (k *Kernel) pollSetRemove(v *proc.Viper, args Args) Result {
	ps, err := resolvePollSet(v, cap.Handle(args.Arg0))
	if err != nil {
		return Result{Err: err}
	}
	ps.Remove(cap.Handle(args.Arg1))
	return Result{}
}

// pollSetWait blocks up to args.Arg1 milliseconds (0 is non-blocking)
// waiting for any registered handle to become ready, writing the first
// ready handle back as Result.Handle (spec §4.5 wait()).
func (k *Kernel) pollSetWait(ctx context.Context, v *proc.Viper, args Args) Result {
	ps, err := resolvePollSet(v, cap.Handle(args.Arg0))
	if err != nil {
		return Result{Err: err}
	}
	timeout := time.Duration(args.Arg1) * time.Millisecond

	events, err := ps.Wait(ctx, timeout)
	if err != nil {
		return Result{Err: err}
	}
	if len(events) == 0 {
		return Result{Err: common.ErrWouldBlock}
	}
	return Result{Value: int64(len(events)), Handle: uint32(events[0].Handle)}
}

// sleepMs blocks the calling task for args.Arg0 milliseconds (spec §4.5
// sleep_ms()).
func (k *Kernel) sleepMs(ctx context.Context, args Args) Result {
	d := time.Duration(args.Arg0) * time.Millisecond
	if err := ipc.SleepMs(ctx, k.Timers, d); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// timerCreate starts a one-shot timer, returning its id (spec §4.5
// timer_create()).
func (k *Kernel) timerCreate(args Args) Result {
	d := time.Duration(args.Arg0) * time.Millisecond
	id := k.Timers.Create(d)
	return Result{Value: int64(id)}
}

// timerCancel cancels the timer with the given id (spec §4.5
// timer_cancel()).
func (k *Kernel) timerCancel(args Args) Result {
	k.Timers.Cancel(uint64(args.Arg0))
	return Result{}
}
