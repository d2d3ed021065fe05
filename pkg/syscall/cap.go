package syscall

import (
	"encoding/binary"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/proc"
)

// capGetBound returns the caller's current capability bounding set (spec
// §4.6 get_cap_bounding_set(), §6.1 CAP_GET_BOUND).
func (k *Kernel) capGetBound(v *proc.Viper, args Args) Result {
	return Result{Value: int64(v.GetCapBoundingSet())}
}

// capDropBound removes the rights named in args.Arg0 from the caller's
// capability bounding set; the set only ever shrinks (spec §4.6
// drop_cap_bounding_set(), §6.1 CAP_DROP_BOUND).
func (k *Kernel) capDropBound(v *proc.Viper, args Args) Result {
	v.DropCapBoundingSet(^cap.Rights(args.Arg0))
	return Result{}
}

// getrlimit returns the caller's current ceiling for resource args.Arg0
// (spec §4.6 get_rlimit(), §6.1 GETRLIMIT).
func (k *Kernel) getrlimit(v *proc.Viper, args Args) Result {
	return Result{Value: int64(v.GetRlimit(proc.ResourceLimit(args.Arg0)))}
}

// setrlimit updates the caller's ceiling for resource args.Arg0 to
// args.Arg1, subject to the "only lowers after startup" rule (spec §4.6
// set_rlimit(), §6.1 SETRLIMIT).
func (k *Kernel) setrlimit(v *proc.Viper, args Args) Result {
	if err := v.SetRlimit(proc.ResourceLimit(args.Arg0), uint64(args.Arg1)); err != nil {
		return Result{Err: err}
	}
	return Result{}
}

// getrusage returns the caller's current usage of resource args.Arg0
// (spec §4.6 get_rusage(), §6.1 GETRUSAGE).
func (k *Kernel) getrusage(v *proc.Viper, args Args) Result {
	return Result{Value: int64(v.GetRusage(proc.ResourceLimit(args.Arg0)))}
}

// capDerive creates a narrowed-rights capability to the same object as
// args.Arg0, with the requested rights in args.Arg1, clamped by the
// caller's capability bounding set (spec §4.2 derive(), §4.6
// get_cap_bounding_set()).
func (k *Kernel) capDerive(v *proc.Viper, args Args) Result {
	src := cap.Handle(args.Arg0)
	requested := cap.Rights(args.Arg1).Intersect(v.GetCapBoundingSet())

	h := v.Caps.Derive(src, requested)
	if h == cap.Invalid {
		return Result{Err: common.ErrInvalidHandle}
	}
	return Result{Handle: uint32(h)}
}

// capRevoke revokes args.Arg0 and every capability derived from it,
// returning the count revoked (spec §4.2 revoke()).
func (k *Kernel) capRevoke(v *proc.Viper, args Args) Result {
	n := v.Caps.Revoke(cap.Handle(args.Arg0))
	if n == 0 {
		return Result{Err: common.ErrInvalidHandle}
	}
	return Result{Value: int64(n)}
}

// capQuery returns the rights of args.Arg0 as Value and the handle itself
// as Handle (spec §6.2 CapInfo, CAP_QUERY). The entry's kind and
// generation are not returned.
func (k *Kernel) capQuery(v *proc.Viper, args Args) Result {
	e := v.Caps.Get(cap.Handle(args.Arg0))
	if e == nil {
		return Result{Err: common.ErrInvalidHandle}
	}
	info := common.CapInfo{
		Handle:     uint32(args.Arg0),
		Kind:       uint16(e.Kind()),
		Rights:     uint32(e.Rights()),
		Generation: e.Generation(),
	}
	return Result{Value: int64(info.Rights), Handle: info.Handle}
}

// capList writes every live capability's summary into the caller's
// buffer as a stream of CapListEntry-sized records, returning the number
// written (spec §6.2 CAP_LIST). Entries that don't fit are silently
// stopped at rather than overflowing the caller's buffer.
func (k *Kernel) capList(v *proc.Viper, args Args) Result {
	const recordSize = 16 // uint32 handle + uint16 kind + uint32 rights + uint8 gen, padded
	maxRecords := int(args.BufLen) / recordSize

	var count int64
	for i := 0; i < v.Caps.Capacity() && count < int64(maxRecords); i++ {
		e := v.Caps.EntryAt(i)
		if e == nil || e.Kind() == cap.KindInvalid {
			continue
		}
		h := cap.MakeHandle(uint32(i), v.Caps.GenerationAt(i))
		record := make([]byte, recordSize)
		binary.LittleEndian.PutUint32(record[0:4], uint32(h))
		binary.LittleEndian.PutUint16(record[4:6], uint16(e.Kind()))
		binary.LittleEndian.PutUint32(record[6:10], uint32(e.Rights()))
		record[10] = e.Generation()
		if err := v.Addr.Write(args.BufOffset+count*recordSize, record); err != nil {
			break
		}
		count++
	}
	return Result{Value: count}
}
