package syscall

import (
	"encoding/binary"

	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/proc"
)

// memInfo reports the caller's AddressSpace usage as a MemInfo structure
// written to the caller's buffer (spec §6.2 MEM_INFO). There is no real
// physical memory manager in this hosted build, so TotalBytes/FreeBytes
// are derived from the Viper's configured memory rlimit rather than from
// host RAM.
func (k *Kernel) memInfo(v *proc.Viper, args Args) Result {
	limit := v.GetRlimit(proc.LimitMemory)
	used := uint64(v.Addr.HeapBreak())
	free := uint64(0)
	if limit > used {
		free = limit - used
	}

	info := common.MemInfo{
		TotalBytes: limit,
		FreeBytes:  free,
		UsedBytes:  used,
		PageSize:   4096,
	}
	info.TotalPages = info.TotalBytes / info.PageSize
	info.FreePages = info.FreeBytes / info.PageSize
	info.UsedPages = info.UsedBytes / info.PageSize

	buf := make([]byte, 56)
	binary.LittleEndian.PutUint64(buf[0:8], info.TotalPages)
	binary.LittleEndian.PutUint64(buf[8:16], info.FreePages)
	binary.LittleEndian.PutUint64(buf[16:24], info.UsedPages)
	binary.LittleEndian.PutUint64(buf[24:32], info.TotalBytes)
	binary.LittleEndian.PutUint64(buf[32:40], info.FreeBytes)
	binary.LittleEndian.PutUint64(buf[40:48], info.UsedBytes)
	binary.LittleEndian.PutUint64(buf[48:56], info.PageSize)

	if err := v.Addr.Write(args.BufOffset, buf); err != nil {
		return Result{Err: err}
	}
	return Result{Value: int64(len(buf))}
}
