// Package cap implements the ViperDOS capability table: opaque handles
// (index + generation), rights bitmasks, and the fixed-capacity table that
// maps handles to kernel objects with derivation and recursive revocation.
//
// Grounded on original_source/viperdos/kernel/cap/handle.hpp and
// original_source/os/kernel/cap/table.hpp, with the table's internal
// spinlock replaced by a sync.Mutex the way hanwen-go-fuse's
// simpleHandleMap protects its entries map.
package cap

// Handle is an opaque capability handle: a 24-bit table-slot index packed
// with an 8-bit generation counter (spec §3.1).
type Handle uint32

// Invalid is the sentinel handle value (spec §3.1: HANDLE_INVALID).
const Invalid Handle = 0xFFFFFFFF

// ConsoleInput is the pseudo-handle a pollset entry uses to watch the
// console input device instead of a capability table entry; it never
// resolves through a Table (spec §4.5.2: "if h == HANDLE_CONSOLE_INPUT").
const ConsoleInput Handle = 0xFFFFFFFE

const (
	indexMask = 0x00FFFFFF
	genShift  = 24
	genMask   = 0xFF
)

// Index extracts the table-slot index portion of a handle.
func (h Handle) Index() uint32 {
	return uint32(h) & indexMask
}

// Generation extracts the 8-bit generation portion of a handle.
func (h Handle) Generation() uint8 {
	return uint8((uint32(h) >> genShift) & genMask)
}

// MakeHandle packs an index and generation into a handle (spec §4.1).
func MakeHandle(index uint32, gen uint8) Handle {
	return Handle((index & indexMask) | (uint32(gen) << genShift))
}

// nextGeneration advances a slot's generation on reuse. 0xFF is never
// handed out as a live generation: it collides with the high byte of the
// all-ones Invalid sentinel, so a slot about to turn 0xFF wraps straight to
// 0x00 instead (spec §4.1).
func nextGeneration(g uint8) uint8 {
	if g == 0xFE {
		return 0
	}
	return g + 1
}
