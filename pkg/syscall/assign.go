package syscall

import (
	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/kobj"
	"github.com/splanck/viperdos/pkg/proc"
)

// readAssignName pulls a short assign/path string out of the caller's
// AddressSpace, bounding it the way every other buffer-taking syscall
// does (spec §4.8).
func readAssignName(v *proc.Viper, args Args) (string, error) {
	return v.Addr.ReadCString(args.BufOffset, args.BufLen)
}

// assignSet resolves args.Arg0 as a DIRECTORY capability already held by
// the caller and points the name read from the caller's buffer at it
// (spec §4.7 set_from_handle()).
func (k *Kernel) assignSet(v *proc.Viper, args Args) Result {
	name, err := readAssignName(v, args)
	if err != nil {
		return Result{Err: err}
	}
	e := v.Caps.GetChecked(cap.Handle(args.Arg0), cap.KindDirectory)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	dir, ok := e.Object().(*kobj.Directory)
	if !ok {
		return Result{Err: common.ErrInvalidArg}
	}
	if err := k.Assigns.Set(name, dir.Backend); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// assignGet resolves the assign name in the caller's buffer to a fresh
// DIRECTORY capability inserted into the caller's table (spec §4.7
// get()).
func (k *Kernel) assignGet(v *proc.Viper, args Args) Result {
	name, err := readAssignName(v, args)
	if err != nil {
		return Result{Err: err}
	}
	h, err := k.Assigns.Get(name, v.Caps)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Handle: uint32(h)}
}

// assignGetChannel resolves the assign name in the caller's buffer to a
// fresh send-only CHANNEL capability (spec §4.7 get_channel()).
func (k *Kernel) assignGetChannel(v *proc.Viper, args Args) Result {
	name, err := readAssignName(v, args)
	if err != nil {
		return Result{Err: err}
	}
	h, err := k.Assigns.GetChannel(name, v.Caps)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Handle: uint32(h)}
}

// assignList writes every assign entry's name/flags into the caller's
// buffer as fixed AssignInfo-sized records (spec §6.2 ASSIGN_LIST).
func (k *Kernel) assignList(v *proc.Viper, args Args) Result {
	infos := k.Assigns.List()
	const recordSize = 64
	maxRecords := int(args.BufLen) / recordSize

	var count int64
	for _, info := range infos {
		if int(count) >= maxRecords {
			break
		}
		buf := make([]byte, recordSize)
		copy(buf[0:32], info.Name[:])
		buf[32] = byte(info.Handle)
		buf[36] = byte(info.Flags)
		if err := v.Addr.Write(args.BufOffset+count*recordSize, buf); err != nil {
			break
		}
		count++
	}
	return Result{Value: count}
}

// assignResolve walks the assign-qualified path in the caller's buffer
// (e.g. "SYS:c/hello") down to its final component and mints a fresh
// directory or file capability for it, args.Arg0 carrying the open flags
// (spec §4.7 resolve_path(), §6.1 ASSIGN_RESOLVE).
func (k *Kernel) assignResolve(v *proc.Viper, args Args) Result {
	path, err := readAssignName(v, args)
	if err != nil {
		return Result{Err: err}
	}
	h, err := k.Assigns.ResolvePath(path, uint32(args.Arg0), v.Caps)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Handle: uint32(h)}
}

// assignRemove deletes the assign named in the caller's buffer (spec
// §4.7 remove()).
func (k *Kernel) assignRemove(v *proc.Viper, args Args) Result {
	name, err := readAssignName(v, args)
	if err != nil {
		return Result{Err: err}
	}
	if err := k.Assigns.Remove(name); err != nil {
		return Result{Err: err}
	}
	return Result{}
}
