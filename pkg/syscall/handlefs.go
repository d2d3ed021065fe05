package syscall

import (
	"encoding/binary"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/kobj"
	"github.com/splanck/viperdos/pkg/proc"
)

// dirEntType mirrors the original's child_type convention: 1 is a
// regular file, 2 is a directory (spec §6.2 FsDirEnt).
const (
	dirEntFile = 1
	dirEntDir  = 2
)

// fsOpenRoot resolves the assign name in the caller's buffer to a fresh
// DIRECTORY capability on that assign's root, the Handle-FS-group entry
// point into the same namespace ASSIGN_GET already exposes (spec §4.7
// get(), §6.1 FS_OPEN_ROOT).
func (k *Kernel) fsOpenRoot(v *proc.Viper, args Args) Result {
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

// fsOpen looks up the name in the caller's buffer as a child of the
// DIRECTORY handle in args.Arg0, minting a DIRECTORY or FILE capability
// depending on what it finds, with args.Arg1 carrying file-open flags
// (spec §6.1 FS_OPEN).
func (k *Kernel) fsOpen(v *proc.Viper, args Args) Result {
	e := v.Caps.GetWithRights(cap.Handle(args.Arg0), cap.KindDirectory, cap.Traverse)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	dir, ok := e.Object().(*kobj.Directory)
	if !ok {
		return Result{Err: common.ErrInvalidHandle}
	}

	name, err := v.Addr.ReadCString(args.BufOffset, args.BufLen)
	if err != nil {
		return Result{Err: err}
	}

	child, found, err := dir.Backend.Lookup(name)
	if err != nil {
		return Result{Err: err}
	}
	if !found {
		return Result{Err: common.ErrNotFound}
	}

	if child.IsDir {
		sub, err := dir.Backend.OpenDir(name)
		if err != nil {
			return Result{Err: err}
		}
		h := v.Caps.Insert(kobj.NewDirectory(sub), cap.KindDirectory, cap.Read|cap.Write|cap.Derive|cap.Traverse)
		if h == cap.Invalid {
			return Result{Err: cap.ErrFull}
		}
		return Result{Handle: uint32(h)}
	}

	file, err := dir.Backend.OpenFile(name)
	if err != nil {
		return Result{Err: err}
	}
	h := v.Caps.Insert(kobj.NewFile(file, uint32(args.Arg1)), cap.KindFile, cap.Read|cap.Write)
	if h == cap.Invalid {
		return Result{Err: cap.ErrFull}
	}
	return Result{Handle: uint32(h)}
}

// resolveFile resolves handle to a live FILE object carrying every bit of
// required.
func resolveFile(v *proc.Viper, handle cap.Handle, required cap.Rights) (*kobj.File, error) {
	e := v.Caps.GetWithRights(handle, cap.KindFile, required)
	if e == nil {
		return nil, common.ErrInvalidHandle
	}
	file, ok := e.Object().(*kobj.File)
	if !ok {
		return nil, common.ErrInvalidHandle
	}
	return file, nil
}

// ioRead reads up to args.BufLen bytes from the FILE handle in args.Arg0
// into the caller's buffer, returning the count read (spec §6.1 IO_READ).
func (k *Kernel) ioRead(v *proc.Viper, args Args) Result {
	file, err := resolveFile(v, cap.Handle(args.Arg0), cap.Read)
	if err != nil {
		return Result{Err: err}
	}
	buf := make([]byte, args.BufLen)
	n, err := file.Read(buf)
	if err != nil {
		return Result{Err: common.FromError(err)}
	}
	if err := v.Addr.Write(args.BufOffset, buf[:n]); err != nil {
		return Result{Err: err}
	}
	return Result{Value: int64(n)}
}

// ioWrite writes args.BufLen bytes from the caller's buffer to the FILE
// handle in args.Arg0, returning the count written (spec §6.1 IO_WRITE).
func (k *Kernel) ioWrite(v *proc.Viper, args Args) Result {
	file, err := resolveFile(v, cap.Handle(args.Arg0), cap.Write)
	if err != nil {
		return Result{Err: err}
	}
	data, err := v.Addr.Read(args.BufOffset, args.BufLen)
	if err != nil {
		return Result{Err: err}
	}
	n, err := file.Write(data)
	if err != nil {
		return Result{Err: common.FromError(err)}
	}
	return Result{Value: int64(n)}
}

// ioSeek repositions the FILE handle in args.Arg0's cursor by args.Arg1
// relative to the whence in args.Arg2, returning the new absolute offset
// (spec §6.1 IO_SEEK).
func (k *Kernel) ioSeek(v *proc.Viper, args Args) Result {
	file, err := resolveFile(v, cap.Handle(args.Arg0), cap.None)
	if err != nil {
		return Result{Err: err}
	}
	off, err := file.Seek(args.Arg1, kobj.SeekWhence(args.Arg2))
	if err != nil {
		return Result{Err: common.FromError(err)}
	}
	return Result{Value: off}
}

// fsReadDir writes up to args.BufLen/sizeof(FsDirEnt) entries from the
// DIRECTORY handle in args.Arg0 into the caller's buffer, returning the
// count written; a return of 0 means the listing is exhausted (spec §6.1
// FS_READ_DIR).
func (k *Kernel) fsReadDir(v *proc.Viper, args Args) Result {
	e := v.Caps.GetWithRights(cap.Handle(args.Arg0), cap.KindDirectory, cap.Read)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	dir, ok := e.Object().(*kobj.Directory)
	if !ok {
		return Result{Err: common.ErrInvalidHandle}
	}

	const recordSize = 265 // Inode(8) + Type(1) + NameLen(1) + Name(255)
	maxRecords := int(args.BufLen) / recordSize
	if maxRecords == 0 {
		return Result{Err: common.ErrInvalidArg}
	}

	entries, err := dir.ReadDir(maxRecords)
	if err != nil {
		return Result{Err: err}
	}

	for i, ent := range entries {
		record := make([]byte, recordSize)
		binary.LittleEndian.PutUint64(record[0:8], ent.Inode)
		if ent.IsDir {
			record[8] = dirEntDir
		} else {
			record[8] = dirEntFile
		}
		nameLen := len(ent.Name)
		if nameLen > 255 {
			nameLen = 255
		}
		record[9] = byte(nameLen)
		copy(record[10:10+nameLen], ent.Name)
		if err := v.Addr.Write(args.BufOffset+int64(i)*recordSize, record); err != nil {
			return Result{Value: int64(i)}
		}
	}
	return Result{Value: int64(len(entries))}
}

// fsRewindDir resets the DIRECTORY handle in args.Arg0's listing cursor
// to the start (spec §6.1 FS_REWIND_DIR).
func (k *Kernel) fsRewindDir(v *proc.Viper, args Args) Result {
	e := v.Caps.GetChecked(cap.Handle(args.Arg0), cap.KindDirectory)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	dir, ok := e.Object().(*kobj.Directory)
	if !ok {
		return Result{Err: common.ErrInvalidHandle}
	}
	dir.Rewind()
	return Result{}
}

// fsClose removes the FILE or DIRECTORY handle in args.Arg0 from the
// caller's table (spec §6.1 FS_CLOSE).
func (k *Kernel) fsClose(v *proc.Viper, args Args) Result {
	handle := cap.Handle(args.Arg0)
	e := v.Caps.Get(handle)
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	v.Caps.Remove(handle)
	return Result{}
}
