package syscall

import (
	"context"

	"github.com/splanck/viperdos/pkg/proc"
)

// viperExit transitions the calling Viper to Zombie with args.Arg0 as its
// exit code and wakes a parent blocked in ViperWait (spec §4.6 exit()).
func (k *Kernel) viperExit(v *proc.Viper, args Args) Result {
	v.Exit(int32(args.Arg0))
	return Result{}
}

// viperWait blocks until any direct child of v exits, returning the
// child's id as Value and its exit code packed into Handle (spec §4.6
// wait()).
func (k *Kernel) viperWait(ctx context.Context, v *proc.Viper) Result {
	child, err := v.Wait(ctx)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Value: int64(child.ID()), Handle: uint32(child.ExitCode())}
}

// fork builds a child of v with a CoW-shared address space and a
// duplicated capability table, registers it in the kernel's process
// table, and returns its id as Value (spec §4.6 fork()).
func (k *Kernel) fork(v *proc.Viper) Result {
	childID := k.allocatePID()
	child := v.Fork(childID)
	k.RegisterProcess(child)
	child.SetState(proc.ViperRunning)
	return Result{Value: int64(child.ID())}
}

// sbrk grows or shrinks the caller's heap break by args.Arg0 bytes,
// returning the previous break (spec §4.6 do_sbrk()).
func (k *Kernel) sbrk(v *proc.Viper, args Args) Result {
	prev, err := v.Addr.Sbrk(args.Arg0)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Value: prev}
}
