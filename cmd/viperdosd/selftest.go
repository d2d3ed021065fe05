package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/splanck/viperdos/pkg/proc"
	"github.com/splanck/viperdos/pkg/syscall"
)

// fakeInputSource is a manually-armed InputSource, used only by the
// console dual-wake scenario to force HANDLE_CONSOLE_INPUT ready without
// a real keyboard driver.
type fakeInputSource struct {
	pending bool
}

func (f *fakeInputSource) HasInput() bool { return f.pending }
func (f *fakeInputSource) ReadEvent() (externalio.KeyEvent, bool) {
	if !f.pending {
		return externalio.KeyEvent{}, false
	}
	f.pending = false
	return externalio.KeyEvent{Code: 'x', Pressed: true}, true
}

// scenario is one end-to-end exercise of the booted kernel, grounded on
// the testable properties spec §8.4 calls out as required end-to-end
// coverage.
type scenario struct {
	name string
	run  func(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error
}

var scenarios = []scenario{
	{"channel round trip", scenarioChannelRoundTrip},
	{"capability derive and revoke", scenarioCapDeriveRevoke},
	{"pollset readiness", scenarioPollSetReadiness},
	{"console and timer dual wake", scenarioConsoleDualWake},
	{"in-band handle transfer", scenarioHandleTransfer},
	{"bounding set narrows transferred handle", scenarioBoundingSetNarrowsTransfer},
	{"assign resolve then open", scenarioAssignLookup},
	{"process fork and wait", scenarioForkWait},
	{"sleep and timer", scenarioSleepTimer},
}

func scenarioChannelRoundTrip(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	res := k.Dispatch(ctx, v, t, syscall.ChannelCreate, syscall.Args{Arg0: 4, BufOffset: 0})
	if res.Err != nil {
		return res.Err
	}
	hdr, err := v.Addr.Read(0, 8)
	if err != nil {
		return err
	}
	sendHandle := cap.Handle(uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24)
	recvHandle := cap.Handle(uint32(hdr[4]) | uint32(hdr[5])<<8 | uint32(hdr[6])<<16 | uint32(hdr[7])<<24)

	if err := v.Addr.Write(64, []byte("selftest")); err != nil {
		return err
	}
	if res := k.Dispatch(ctx, v, t, syscall.ChannelSend, syscall.Args{Arg0: int64(sendHandle), BufOffset: 64, BufLen: 8}); res.Err != nil {
		return res.Err
	}
	res = k.Dispatch(ctx, v, t, syscall.ChannelRecv, syscall.Args{Arg0: int64(recvHandle), BufOffset: 128, BufLen: 16})
	if res.Err != nil {
		return res.Err
	}
	if res.Value != 8 {
		return fmt.Errorf("expected 8 bytes, got %d", res.Value)
	}
	return nil
}

func scenarioCapDeriveRevoke(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	res := k.Dispatch(ctx, v, t, syscall.ChannelCreate, syscall.Args{Arg0: 4, BufOffset: 256})
	if res.Err != nil {
		return res.Err
	}
	hdr, _ := v.Addr.Read(256, 8)
	sendHandle := cap.Handle(uint32(hdr[0]) | uint32(hdr[1])<<8 | uint32(hdr[2])<<16 | uint32(hdr[3])<<24)

	deriveRes := k.Dispatch(ctx, v, t, syscall.CapDerive, syscall.Args{Arg0: int64(sendHandle), Arg1: int64(cap.Write)})
	if deriveRes.Err != nil {
		return deriveRes.Err
	}
	revokeRes := k.Dispatch(ctx, v, t, syscall.CapRevoke, syscall.Args{Arg0: int64(sendHandle)})
	if revokeRes.Err != nil {
		return revokeRes.Err
	}
	if revokeRes.Value < 2 {
		return fmt.Errorf("expected revoke to cascade to the derived child, got count %d", revokeRes.Value)
	}
	return nil
}

func scenarioPollSetReadiness(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	ch := ipc.NewChannel(4)
	chHandle := v.Caps.Insert(ch, cap.KindChannel, cap.Read|cap.Write)

	psRes := k.Dispatch(ctx, v, t, syscall.PollSetCreate, syscall.Args{})
	if psRes.Err != nil {
		return psRes.Err
	}
	psHandle := cap.Handle(psRes.Handle)

	if res := k.Dispatch(ctx, v, t, syscall.PollSetAdd, syscall.Args{
		Arg0: int64(psHandle), Arg1: int64(chHandle), Arg2: int64(ipc.EventChannelRead),
	}); res.Err != nil {
		return res.Err
	}

	if err := ch.TrySend(ipc.Message{Data: []byte("x")}); err != nil {
		return err
	}

	waitRes := k.Dispatch(ctx, v, t, syscall.PollSetWait, syscall.Args{Arg0: int64(psHandle), Arg1: 100})
	if waitRes.Err != nil {
		return waitRes.Err
	}
	if cap.Handle(waitRes.Handle) != chHandle {
		return fmt.Errorf("expected channel handle %v ready, got %v", chHandle, waitRes.Handle)
	}
	return nil
}

// scenarioConsoleDualWake arms a pollset with both a channel and the
// console pseudo-handle, then readies only the console side, verifying
// HANDLE_CONSOLE_INPUT wakes a waiter the same way a channel does (spec
// §4.5.2, §8.4.5).
func scenarioConsoleDualWake(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	input := &fakeInputSource{}
	k.Console = input

	ch := ipc.NewChannel(4)
	chHandle := v.Caps.Insert(ch, cap.KindChannel, cap.Read|cap.Write)

	psRes := k.Dispatch(ctx, v, t, syscall.PollSetCreate, syscall.Args{})
	if psRes.Err != nil {
		return psRes.Err
	}
	psHandle := cap.Handle(psRes.Handle)

	if res := k.Dispatch(ctx, v, t, syscall.PollSetAdd, syscall.Args{
		Arg0: int64(psHandle), Arg1: int64(chHandle), Arg2: int64(ipc.EventChannelRead),
	}); res.Err != nil {
		return res.Err
	}
	if res := k.Dispatch(ctx, v, t, syscall.PollSetAdd, syscall.Args{
		Arg0: int64(psHandle), Arg1: int64(cap.ConsoleInput), Arg2: int64(ipc.EventConsoleInput),
	}); res.Err != nil {
		return res.Err
	}

	input.pending = true

	waitRes := k.Dispatch(ctx, v, t, syscall.PollSetWait, syscall.Args{Arg0: int64(psHandle), Arg1: 100})
	if waitRes.Err != nil {
		return waitRes.Err
	}
	if cap.Handle(waitRes.Handle) != cap.ConsoleInput {
		return fmt.Errorf("expected console pseudo-handle ready, got %v", waitRes.Handle)
	}
	k.Console = nil
	return nil
}

// scenarioHandleTransfer sends one channel's own send capability across a
// second channel in-band, verifying the receiver gets a fresh, usable
// handle while the sender's original handle stops resolving (spec
// §4.4.2, §4.4.3, §8.4.2).
func scenarioHandleTransfer(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	carrier := ipc.NewChannel(4)
	carrierHandle := v.Caps.Insert(carrier, cap.KindChannel, cap.Read|cap.Write)

	payload := ipc.NewChannel(4)
	payloadSendHandle := v.Caps.Insert(payload, cap.KindChannel, cap.Write|cap.Transfer)
	payload.Ref()
	payloadRecvHandle := v.Caps.Insert(payload, cap.KindChannel, cap.Read|cap.Transfer)

	if err := v.Addr.Write(1024, []byte("hi")); err != nil {
		return err
	}
	handleBuf := make([]byte, 4)
	handleBuf[0] = byte(payloadSendHandle)
	handleBuf[1] = byte(payloadSendHandle >> 8)
	handleBuf[2] = byte(payloadSendHandle >> 16)
	handleBuf[3] = byte(payloadSendHandle >> 24)
	if err := v.Addr.Write(1040, handleBuf); err != nil {
		return err
	}

	sendRes := k.Dispatch(ctx, v, t, syscall.ChannelTrySend, syscall.Args{
		Arg0: int64(carrierHandle), BufOffset: 1024, BufLen: 2, HandleBufOffset: 1040, HandleCount: 1,
	})
	if sendRes.Err != nil {
		return sendRes.Err
	}

	if v.Caps.Get(payloadSendHandle) != nil {
		return fmt.Errorf("sender's transferred handle should no longer resolve")
	}

	recvRes := k.Dispatch(ctx, v, t, syscall.ChannelTryRecv, syscall.Args{
		Arg0: int64(carrierHandle), BufOffset: 1100, BufLen: 16, HandleBufOffset: 1140, HandleCount: 1,
	})
	if recvRes.Err != nil {
		return recvRes.Err
	}
	if recvRes.HandleCount != 1 {
		return fmt.Errorf("expected 1 transferred handle, got %d", recvRes.HandleCount)
	}

	raw, err := v.Addr.Read(1140, 4)
	if err != nil {
		return err
	}
	newHandle := cap.Handle(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)

	e := v.Caps.Get(newHandle)
	if e == nil || e.Kind() != cap.KindChannel || !e.Rights().Has(cap.Write) {
		return fmt.Errorf("transferred handle %v is not a usable WRITE channel capability", newHandle)
	}

	if res := k.Dispatch(ctx, v, t, syscall.ChannelTrySend, syscall.Args{
		Arg0: int64(newHandle), BufOffset: 1024, BufLen: 2,
	}); res.Err != nil {
		return res.Err
	}
	msg, err := payload.TryRecv()
	if err != nil {
		return err
	}
	if string(msg.Data) != "hi" {
		return fmt.Errorf("expected transferred channel to carry \"hi\", got %q", msg.Data)
	}

	v.Caps.Remove(payloadRecvHandle)
	return nil
}

// scenarioBoundingSetNarrowsTransfer drops WRITE from the caller's
// capability bounding set, then transfers an RW channel handle to itself
// over a carrier channel, verifying the deposited handle carries READ
// only: depositTransferHandles intersects every incoming capability
// against the receiver's bounding set, not just the sender's original
// grant (spec §4.6 cap_drop_bound(), §8.4.4).
func scenarioBoundingSetNarrowsTransfer(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	carrier := ipc.NewChannel(4)
	carrierHandle := v.Caps.Insert(carrier, cap.KindChannel, cap.Read|cap.Write)

	payload := ipc.NewChannel(4)
	payloadHandle := v.Caps.Insert(payload, cap.KindChannel, cap.Read|cap.Write|cap.Transfer)

	boundRes := k.Dispatch(ctx, v, t, syscall.CapDropBound, syscall.Args{Arg0: int64(cap.Write)})
	if boundRes.Err != nil {
		return boundRes.Err
	}
	getBoundRes := k.Dispatch(ctx, v, t, syscall.CapGetBound, syscall.Args{})
	if getBoundRes.Err != nil {
		return getBoundRes.Err
	}
	if cap.Rights(getBoundRes.Value).Has(cap.Write) {
		return fmt.Errorf("expected WRITE dropped from bounding set, got %v", cap.Rights(getBoundRes.Value))
	}

	if err := v.Addr.Write(2048, []byte("hi")); err != nil {
		return err
	}
	handleBuf := make([]byte, 4)
	handleBuf[0] = byte(payloadHandle)
	handleBuf[1] = byte(payloadHandle >> 8)
	handleBuf[2] = byte(payloadHandle >> 16)
	handleBuf[3] = byte(payloadHandle >> 24)
	if err := v.Addr.Write(2064, handleBuf); err != nil {
		return err
	}

	sendRes := k.Dispatch(ctx, v, t, syscall.ChannelTrySend, syscall.Args{
		Arg0: int64(carrierHandle), BufOffset: 2048, BufLen: 2, HandleBufOffset: 2064, HandleCount: 1,
	})
	if sendRes.Err != nil {
		return sendRes.Err
	}

	recvRes := k.Dispatch(ctx, v, t, syscall.ChannelTryRecv, syscall.Args{
		Arg0: int64(carrierHandle), BufOffset: 2100, BufLen: 16, HandleBufOffset: 2140, HandleCount: 1,
	})
	if recvRes.Err != nil {
		return recvRes.Err
	}
	if recvRes.HandleCount != 1 {
		return fmt.Errorf("expected 1 transferred handle, got %d", recvRes.HandleCount)
	}

	raw, err := v.Addr.Read(2140, 4)
	if err != nil {
		return err
	}
	newHandle := cap.Handle(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)

	e := v.Caps.Get(newHandle)
	if e == nil {
		return fmt.Errorf("transferred handle %v did not resolve", newHandle)
	}
	if !e.Rights().Has(cap.Read) {
		return fmt.Errorf("expected deposited handle to keep READ, got %v", e.Rights())
	}
	if e.Rights().Has(cap.Write) {
		return fmt.Errorf("expected deposited handle to drop WRITE per the receiver's bounding set, got %v", e.Rights())
	}

	v.Caps.Remove(newHandle)
	return nil
}

func scenarioAssignLookup(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	if !k.Assigns.Exists("SYS") {
		return fmt.Errorf("SYS: assign missing after boot")
	}
	if err := v.Addr.Write(1536, append([]byte("SYS:c/hello"), 0)); err != nil {
		return err
	}
	res := k.Dispatch(ctx, v, t, syscall.AssignResolve, syscall.Args{BufOffset: 1536, BufLen: 12})
	if res.Err != nil {
		return res.Err
	}
	fileHandle := cap.Handle(res.Handle)

	readRes := k.Dispatch(ctx, v, t, syscall.IoRead, syscall.Args{
		Arg0: int64(fileHandle), BufOffset: 1600, BufLen: 5,
	})
	if readRes.Err != nil {
		return readRes.Err
	}
	if readRes.Value != 5 {
		return fmt.Errorf("expected 5 bytes read, got %d", readRes.Value)
	}
	got, err := v.Addr.Read(1600, 5)
	if err != nil {
		return err
	}
	if string(got) != "hello" {
		return fmt.Errorf("expected %q, got %q", "hello", got)
	}

	if err := v.Addr.Write(1700, append([]byte("SYS"), 0)); err != nil {
		return err
	}
	removeRes := k.Dispatch(ctx, v, t, syscall.AssignRemove, syscall.Args{BufOffset: 1700, BufLen: 4})
	if removeRes.Err != common.ErrPermission {
		return fmt.Errorf("expected removing a system assign to fail with VERR_PERMISSION, got %v", removeRes.Err)
	}
	return nil
}

func scenarioForkWait(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	forkRes := k.Dispatch(ctx, v, t, syscall.Fork, syscall.Args{})
	if forkRes.Err != nil {
		return forkRes.Err
	}
	child, ok := k.Process(uint64(forkRes.Value))
	if !ok {
		return fmt.Errorf("forked child %d not registered in process table", forkRes.Value)
	}
	go child.Exit(3)

	res := k.Dispatch(ctx, v, t, syscall.ViperWait, syscall.Args{})
	if res.Err != nil {
		return res.Err
	}
	if res.Value != int64(child.ID()) {
		return fmt.Errorf("expected child id %d, got %d", child.ID(), res.Value)
	}
	return nil
}

func scenarioSleepTimer(ctx context.Context, k *syscall.Kernel, v *proc.Viper, t *proc.Task) error {
	res := k.Dispatch(ctx, v, t, syscall.TimerCreate, syscall.Args{Arg0: 5})
	if res.Err != nil {
		return res.Err
	}
	res = k.Dispatch(ctx, v, t, syscall.SleepMs, syscall.Args{Arg0: 10})
	if res.Err != nil {
		return res.Err
	}
	return nil
}

func runSelftest(ctx context.Context, log logr.Logger) error {
	res, err := boot(ctx)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	task, err := res.Init.SpawnTask("selftest")
	if err != nil {
		return err
	}

	for _, sc := range scenarios {
		if err := sc.run(ctx, res.Kernel, res.Init, task); err != nil {
			log.Error(err, "scenario failed", "scenario", sc.name)
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		log.Info("scenario passed", "scenario", sc.name)
	}
	return nil
}

func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Boot the kernel and run its end-to-end self-check scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSelftest(cmd.Context(), newLogger())
		},
	}
}
