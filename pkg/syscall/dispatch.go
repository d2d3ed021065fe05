// Package syscall is ViperDOS's user/kernel boundary: it validates
// caller-supplied handles against a Viper's capability table, copies
// arguments in and out of the caller's AddressSpace, and packs every
// result into the single signed (value, error) register spec §6.3
// describes as the syscall ABI.
//
// Grounded on original_source's syscall-facing functions scattered across
// viperdos/kernel/{ipc,cap,assign,viper} — the original dispatches by
// trapping into a big switch on a syscall number; this hosted build keeps
// that same switch (Dispatch) as the single place requests are routed,
// backed by small per-area files (channel.go, poll.go, cap.go,
// assign.go, task.go, sysinfo.go) whose handlers validate their own
// arguments and do the actual work.
package syscall

import (
	"context"
	"sync"

	"github.com/splanck/viperdos/pkg/assign"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/splanck/viperdos/pkg/proc"
)

// Number identifies a syscall (spec §6.1).
type Number uint32

const (
	ChannelCreate Number = iota
	ChannelSend
	ChannelRecv
	ChannelTrySend
	ChannelTryRecv
	ChannelClose

	PollSetCreate
	PollSetAdd
	PollSetRemove
	PollSetWait
	SleepMs
	TimerCreate
	TimerCancel

	FsOpenRoot
	FsOpen
	IoRead
	IoWrite
	IoSeek
	FsReadDir
	FsRewindDir
	FsClose

	CapDerive
	CapRevoke
	CapQuery
	CapList
	CapGetBound
	CapDropBound
	Getrlimit
	Setrlimit
	Getrusage

	AssignSet
	AssignGet
	AssignGetChannel
	AssignList
	AssignRemove
	AssignResolve

	ViperExit
	ViperWait
	Fork
	Sbrk
	Getpgid
	Setpgid
	Getsid
	Setsid

	MemInfo
)

// Result is the triple every handler produces before it is packed down to
// the ABI's single signed register (spec §6.3): Value on success, Err on
// failure, and an optional out-of-band Handle for calls that mint one.
type Result struct {
	Value  int64
	Handle uint32
	Err    error

	// HandleCount reports how many entries a call that deposits handles
	// into the caller's buffer (ChannelRecv, ChannelTryRecv) actually
	// wrote, since partial handle transfer drops slots rather than
	// failing the call (spec §4.4.3 try_recv()).
	HandleCount int64
}

// Code packs r into the ABI's single signed return value.
func (r Result) Code() int64 {
	return common.ResultCode(r.Value, r.Err)
}

// Kernel bundles the subsystems shared across every Viper: the assign
// namespace (process-wide, like the original's single assign_table), the
// timer table, the scheduler, and the console input source pollsets can
// register against (spec §4.5, §4.7).
type Kernel struct {
	Assigns   *assign.Table
	Timers    *ipc.TimerSet
	Scheduler *proc.Scheduler
	Console   externalio.InputSource

	mu        sync.Mutex
	processes map[uint64]*proc.Viper
	nextPID   uint64
}

// NewKernel wires a fresh set of shared kernel subsystems, the hosted
// equivalent of the original's boot-time init() calls across cap, ipc,
// viper and assign (spec §4.6 "boot sequencing").
func NewKernel(console externalio.InputSource) *Kernel {
	return &Kernel{
		Assigns:   assign.NewTable(),
		Timers:    ipc.NewTimerSet(),
		Scheduler: proc.NewScheduler(),
		Console:   console,
		processes: make(map[uint64]*proc.Viper),
		nextPID:   1,
	}
}

// RegisterProcess makes v look-up-able by ID through Process, the hosted
// stand-in for the original's global process table (spec §4.6 create()).
// Every Viper a caller needs to reach again by id — init at boot, or a
// child minted by fork() — must be registered.
func (k *Kernel) RegisterProcess(v *proc.Viper) {
	k.mu.Lock()
	if v.ID() >= k.nextPID {
		k.nextPID = v.ID() + 1
	}
	k.processes[v.ID()] = v
	k.mu.Unlock()
}

// Process returns the registered Viper for id, if any.
func (k *Kernel) Process(id uint64) (*proc.Viper, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.processes[id]
	return v, ok
}

// allocatePID hands out the next process id (spec §4.6 create()/fork()).
func (k *Kernel) allocatePID() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextPID++
	return k.nextPID - 1
}

// Dispatch routes one syscall request to its handler and packs the
// result into the ABI return value. ctx carries cancellation for any
// blocking handler (channel send/recv, pollset wait, sleep).
func (k *Kernel) Dispatch(ctx context.Context, v *proc.Viper, t *proc.Task, num Number, args Args) Result {
	switch num {
	case ChannelCreate:
		return k.channelCreate(v, args)
	case ChannelSend:
		return k.channelSend(ctx, v, args)
	case ChannelRecv:
		return k.channelRecv(ctx, v, args)
	case ChannelTrySend:
		return k.channelTrySend(v, args)
	case ChannelTryRecv:
		return k.channelTryRecv(v, args)
	case ChannelClose:
		return k.channelClose(v, args)

	case PollSetCreate:
		return k.pollSetCreate(v, t, args)
	case PollSetAdd:
		return k.pollSetAdd(v, args)
	case PollSetRemove:
		return k.pollSetRemove(v, args)
	case PollSetWait:
		return k.pollSetWait(ctx, v, args)
	case SleepMs:
		return k.sleepMs(ctx, args)
	case TimerCreate:
		return k.timerCreate(args)
	case TimerCancel:
		return k.timerCancel(args)

	case FsOpenRoot:
		return k.fsOpenRoot(v, args)
	case FsOpen:
		return k.fsOpen(v, args)
	case IoRead:
		return k.ioRead(v, args)
	case IoWrite:
		return k.ioWrite(v, args)
	case IoSeek:
		return k.ioSeek(v, args)
	case FsReadDir:
		return k.fsReadDir(v, args)
	case FsRewindDir:
		return k.fsRewindDir(v, args)
	case FsClose:
		return k.fsClose(v, args)

	case CapDerive:
		return k.capDerive(v, args)
	case CapRevoke:
		return k.capRevoke(v, args)
	case CapQuery:
		return k.capQuery(v, args)
	case CapList:
		return k.capList(v, args)
	case CapGetBound:
		return k.capGetBound(v, args)
	case CapDropBound:
		return k.capDropBound(v, args)
	case Getrlimit:
		return k.getrlimit(v, args)
	case Setrlimit:
		return k.setrlimit(v, args)
	case Getrusage:
		return k.getrusage(v, args)

	case AssignSet:
		return k.assignSet(v, args)
	case AssignGet:
		return k.assignGet(v, args)
	case AssignGetChannel:
		return k.assignGetChannel(v, args)
	case AssignList:
		return k.assignList(v, args)
	case AssignRemove:
		return k.assignRemove(v, args)
	case AssignResolve:
		return k.assignResolve(v, args)

	case ViperExit:
		return k.viperExit(v, args)
	case ViperWait:
		return k.viperWait(ctx, v)
	case Fork:
		return k.fork(v)
	case Sbrk:
		return k.sbrk(v, args)
	case Getpgid:
		return Result{Value: int64(v.Getpgid())}
	case Setpgid:
		v.Setpgid(uint64(args.Arg0))
		return Result{}
	case Getsid:
		return Result{Value: int64(v.Getsid())}
	case Setsid:
		return Result{Err: v.Setsid()}

	case MemInfo:
		return k.memInfo(v, args)
	}
	return Result{Err: common.ErrNotSupported}
}

// Args is the fixed-shape argument register set every handler reads from
// (spec §6.1: syscalls take up to four word-sized arguments plus an
// optional user-pointer-sized buffer descriptor).
type Args struct {
	Arg0, Arg1, Arg2, Arg3 int64

	// BufOffset/BufLen describe a caller buffer living in the Viper's
	// AddressSpace, for calls that move bytes across the boundary
	// (channel send/recv payloads, assign name strings).
	BufOffset, BufLen int64

	// HandleBufOffset/HandleCount describe a caller array of
	// little-endian uint32 handles living in the Viper's AddressSpace,
	// used by channel send/recv to carry in-band capability transfer
	// (spec §4.4.2 try_send(), §4.4.3 try_recv()).
	HandleBufOffset, HandleCount int64
}
