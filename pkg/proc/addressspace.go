package proc

import (
	"sync"

	"github.com/splanck/viperdos/pkg/common"
)

// Default layout constants, mirrored from
// original_source/viperdos/kernel/viper/viper.hpp. A hosted process has no
// real page tables, so these only size the AddressSpace arena and bound
// sbrk/mmap bookkeeping; they are not used to program an MMU.
const (
	UserHeapBase  = 4 << 30  // 4GB
	UserMmapBase  = 8 << 30  // 8GB
	UserStackSize = 1 << 20  // 1MB

	DefaultMemoryLimit = 64 << 20 // 64MB
	DefaultHandleLimit = 1024
	DefaultTaskLimit   = 16
)

// cowArena is a byte arena shared by a parent and a child AddressSpace
// right after fork(), before either side has written to it. It holds its
// own lock because two independent AddressSpace instances reference it
// at once; whichever side writes first copies it out to a private arena
// and drops its reference (spec §4.6 "fork() creates a CoW-shared child
// address space").
type cowArena struct {
	mu    sync.Mutex
	bytes []byte
}

// AddressSpace stands in for a Viper's page tables: a single fixed-size
// byte arena plus a heap break, used by the syscall layer to validate and
// copy user pointers in and out of kernel space (spec §4.6, §4.8). Real
// ViperDOS validates raw user pointers against VMAs and the MMU; this
// hosted build validates offsets against one arena instead, which
// preserves the same "never trust a user-supplied pointer" boundary
// without implementing an MMU.
//
// An AddressSpace owns its bytes through exactly one of arena (private,
// already copied) or shared (still CoW-shared with a fork() peer). Every
// accessor goes through viewLocked (read: use whichever is populated) or
// ownedLocked (write: copy out of shared into arena first, if needed).
type AddressSpace struct {
	mu        sync.Mutex
	arena     []byte
	shared    *cowArena
	heapBreak int64
	memLimit  int64
}

// NewAddressSpace allocates an arena of the given size (DefaultMemoryLimit
// if zero or negative) with an empty heap.
func NewAddressSpace(limit int64) *AddressSpace {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &AddressSpace{
		arena:    make([]byte, limit),
		memLimit: limit,
	}
}

// Fork returns a new AddressSpace that shares this one's backing bytes
// until either side writes, at which point that side transparently copies
// out to a private arena (spec §4.6 fork()). Both the parent (a, used
// from here on through its shared reference) and the returned child see
// identical bytes until then.
func (a *AddressSpace) Fork() *AddressSpace {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shared == nil {
		a.shared = &cowArena{bytes: a.arena}
		a.arena = nil
	}
	return &AddressSpace{
		shared:    a.shared,
		heapBreak: a.heapBreak,
		memLimit:  a.memLimit,
	}
}

// viewLocked returns the arena's current bytes for reading, without
// forcing a private copy. Caller must hold a.mu.
func (a *AddressSpace) viewLocked() []byte {
	if a.arena != nil {
		return a.arena
	}
	a.shared.mu.Lock()
	defer a.shared.mu.Unlock()
	return a.shared.bytes
}

// ownedLocked returns the arena's bytes for writing, copying out of a
// shared cowArena on first use so the write is invisible to the fork()
// peer still referencing it. Caller must hold a.mu.
func (a *AddressSpace) ownedLocked() []byte {
	if a.arena != nil {
		return a.arena
	}
	a.shared.mu.Lock()
	private := make([]byte, len(a.shared.bytes))
	copy(private, a.shared.bytes)
	a.shared.mu.Unlock()
	a.arena = private
	a.shared = nil
	return a.arena
}

// ValidateRange reports whether [offset, offset+length) lies entirely
// within the arena, the hosted equivalent of the original's user-pointer
// bounds check before every copy_from_user/copy_to_user (spec §4.8).
func (a *AddressSpace) ValidateRange(offset, length int64) error {
	if offset < 0 || length < 0 {
		return common.ErrInvalidArg
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if offset+length > int64(len(a.viewLocked())) {
		return common.ErrInvalidArg
	}
	return nil
}

// Read copies length bytes starting at offset out of the arena.
func (a *AddressSpace) Read(offset, length int64) ([]byte, error) {
	if err := a.ValidateRange(offset, length); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, length)
	copy(out, a.viewLocked()[offset:offset+length])
	return out, nil
}

// Write copies data into the arena starting at offset.
func (a *AddressSpace) Write(offset int64, data []byte) error {
	if err := a.ValidateRange(offset, int64(len(data))); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.ownedLocked()[offset:], data)
	return nil
}

// ReadCString reads a NUL-terminated string starting at offset, failing
// with ErrInvalidArg if no terminator is found within maxLen bytes.
func (a *AddressSpace) ReadCString(offset int64, maxLen int64) (string, error) {
	if err := a.ValidateRange(offset, maxLen); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	region := a.viewLocked()[offset : offset+maxLen]
	for i, b := range region {
		if b == 0 {
			return string(region[:i]), nil
		}
	}
	return "", common.ErrInvalidArg
}

// Sbrk grows or shrinks the heap break by delta bytes and returns the
// previous break, matching the original's do_sbrk() return convention
// (spec §4.6).
func (a *AddressSpace) Sbrk(delta int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.heapBreak
	next := prev + delta
	if next < 0 || next > a.memLimit {
		return 0, common.ErrOutOfMemory
	}
	a.heapBreak = next
	return prev, nil
}

// HeapBreak returns the current heap break.
func (a *AddressSpace) HeapBreak() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heapBreak
}
