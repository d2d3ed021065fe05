package cap

import (
	"sync"

	"github.com/splanck/viperdos/pkg/common"
)

// Kind tags the runtime type of the kernel object a capability refers to
// (spec §3.3, §4.2).
type Kind uint16

const (
	KindInvalid Kind = 0

	KindString Kind = 1
	KindArray  Kind = 2
	KindBlob   Kind = 3

	KindChannel Kind = 16
	KindPoll    Kind = 17
	KindTimer   Kind = 18

	KindTask  Kind = 19
	KindViper Kind = 20

	KindFile      Kind = 21
	KindDirectory Kind = 22
	KindSurface   Kind = 23
	KindInput     Kind = 24

	KindSharedMemory Kind = 25
)

// NoParent is the sentinel parent_index value for root (non-derived)
// capabilities (spec §3.4).
const NoParent uint32 = 0xFFFFFFFF

// DefaultCapacity is the default per-process capability table size
// (spec §4.2).
const DefaultCapacity = 256

// Object is the minimal surface a kernel object must expose to live behind
// a capability table entry. Concrete kernel objects (pkg/kobj) satisfy
// this; the table itself is agnostic to what Object actually is.
type Object interface {
	Kind() Kind
}

// Entry is one slot in a capability table (spec §3.3). A free slot has
// Kind == KindInvalid and repurposes nextFree to link the free list.
type Entry struct {
	object      Object
	rights      Rights
	parentIndex uint32
	kind        Kind
	generation  uint8
	nextFree    uint32
}

// Object returns the kernel object a live entry refers to.
func (e *Entry) Object() Object { return e.object }

// Rights returns the rights currently granted to this entry.
func (e *Entry) Rights() Rights { return e.rights }

// Kind returns the entry's kind tag.
func (e *Entry) Kind() Kind { return e.kind }

// ParentIndex returns the index this entry was derived from, or NoParent.
func (e *Entry) ParentIndex() uint32 { return e.parentIndex }

// Generation returns the entry's current generation counter.
func (e *Entry) Generation() uint8 { return e.generation }

// Table is a fixed-capacity capability table owned by one process (spec
// §3.4). It is safe for concurrent use; biscuit's bare-metal Spinlock has
// no hosted equivalent, so a sync.Mutex protects the slot array exactly
// the way hanwen-go-fuse's simpleHandleMap protects its handle map.
type Table struct {
	mu       sync.Mutex
	entries  []Entry
	freeHead uint32
	count    int
}

// NewTable allocates and initializes a table with the given capacity,
// building the free list over [0, capacity) (spec §4.2 init()). A capacity
// of zero uses DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Table{entries: make([]Entry, capacity)}
	for i := range t.entries {
		t.entries[i] = Entry{kind: KindInvalid, nextFree: uint32(i + 1)}
	}
	t.freeHead = 0
	return t
}

// Capacity returns the table's total number of slots.
func (t *Table) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Count returns the number of currently live entries.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Insert allocates a free slot for object/kind/rights and returns a fresh
// root handle (spec §4.2 insert()). Returns Invalid if the table is full.
func (t *Table) Insert(object Object, kind Kind, rights Rights) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(object, kind, rights, NoParent)
}

func (t *Table) insertLocked(object Object, kind Kind, rights Rights, parent uint32) Handle {
	idx := t.freeHead
	if idx >= uint32(len(t.entries)) {
		return Invalid
	}
	e := &t.entries[idx]
	next := e.nextFree
	gen := e.generation
	*e = Entry{
		object:      object,
		kind:        kind,
		rights:      rights,
		parentIndex: parent,
		generation:  gen,
	}
	t.freeHead = next
	t.count++
	return MakeHandle(idx, gen)
}

// resolveLocked validates a handle against the live table state and
// returns its entry index, or (0, false) if the handle does not resolve.
func (t *Table) resolveLocked(h Handle) (uint32, bool) {
	if h == Invalid {
		return 0, false
	}
	idx := h.Index()
	if idx >= uint32(len(t.entries)) {
		return 0, false
	}
	e := &t.entries[idx]
	if e.kind == KindInvalid {
		return 0, false
	}
	if e.generation != h.Generation() {
		return 0, false
	}
	return idx, true
}

// Get resolves a handle to its live entry, rejecting Invalid, out-of-range
// indices, free slots, and stale generations (spec §4.2 get()).
func (t *Table) Get(h Handle) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok {
		return nil
	}
	return &t.entries[idx]
}

// GetChecked resolves h and verifies its kind matches expected (spec §4.2
// get_checked()).
func (t *Table) GetChecked(h Handle, expected Kind) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok || t.entries[idx].kind != expected {
		return nil
	}
	return &t.entries[idx]
}

// GetWithRights resolves h, verifies its kind, and verifies every bit of
// required is granted (spec §4.2 get_with_rights()).
func (t *Table) GetWithRights(h Handle, kind Kind, required Rights) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok {
		return nil
	}
	e := &t.entries[idx]
	if e.kind != kind || !e.rights.Has(required) {
		return nil
	}
	return e
}

// Take resolves h, requires it carry every bit of required, and — only if
// both checks pass — atomically removes it from the table, returning the
// entry's object/kind/rights as they stood just before the slot was
// recycled. ok is false, with no ownership taken, if h does not resolve
// or cannot supply required. This is the validate-and-invalidate step
// in-band handle transfer needs on the sender's side: the handle must
// stop working in the same locked step that captures what it pointed at
// (spec §4.4.2 try_send()'s per-handle capture).
func (t *Table) Take(h Handle, required Rights) (object Object, kind Kind, rights Rights, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, found := t.resolveLocked(h)
	if !found {
		return nil, KindInvalid, None, false
	}
	e := &t.entries[idx]
	if !e.rights.Has(required) {
		return nil, KindInvalid, None, false
	}
	object, kind, rights = e.object, e.kind, e.rights
	t.invalidateLocked(idx)
	return object, kind, rights, true
}

// Remove invalidates h's slot, bumps its generation, and returns it to the
// free list. It does not recurse into derived children — use Revoke for
// that (spec §4.2 remove()).
func (t *Table) Remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok {
		return
	}
	t.invalidateLocked(idx)
}

func (t *Table) invalidateLocked(idx uint32) {
	e := &t.entries[idx]
	e.object = nil
	e.kind = KindInvalid
	e.rights = None
	e.parentIndex = NoParent
	e.generation = nextGeneration(e.generation)
	e.nextFree = t.freeHead
	t.freeHead = idx
	t.count--
}

// Revoke invalidates h and, transitively, every live entry whose
// parentIndex chain reaches h, directly or indirectly (spec §4.2 revoke()).
// Returns the total number of entries revoked (including h itself).
//
// Parent indices form a DAG rooted at NoParent (derive() only ever points
// a new slot at an already-live parent), so a linear per-level scan over
// the table always terminates.
func (t *Table) Revoke(h Handle) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok {
		return 0
	}

	toRevoke := []uint32{idx}
	revoked := map[uint32]bool{idx: true}

	for i := 0; i < len(toRevoke); i++ {
		root := toRevoke[i]
		for j := range t.entries {
			e := &t.entries[j]
			if e.kind == KindInvalid || revoked[uint32(j)] {
				continue
			}
			if e.parentIndex == root {
				revoked[uint32(j)] = true
				toRevoke = append(toRevoke, uint32(j))
			}
		}
	}

	for _, i := range toRevoke {
		t.invalidateLocked(i)
	}
	return uint32(len(toRevoke))
}

// Derive creates a new root-free capability to the same object as h, with
// rights narrowed to rights(h) ∩ newRights. Requires h to carry CAP_DERIVE
// (spec §4.2 derive()).
func (t *Table) Derive(h Handle, newRights Rights) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolveLocked(h)
	if !ok {
		return Invalid
	}
	parent := &t.entries[idx]
	if !parent.rights.Has(Derive) {
		return Invalid
	}
	effective := parent.rights.Intersect(newRights)
	return t.insertLocked(parent.object, parent.kind, effective, idx)
}

// EntryAt returns the raw entry at index i for iteration/diagnostics
// without validating liveness (spec §4.2 entry_at()).
func (t *Table) EntryAt(i int) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.entries) {
		return nil
	}
	return &t.entries[i]
}

// GenerationAt returns the current generation counter for slot i.
func (t *Table) GenerationAt(i int) uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.entries) {
		return 0
	}
	return t.entries[i].generation
}

// refCounted is satisfied by every kobj.Object-backed kernel object;
// declared structurally here so cap (which kobj imports) never needs to
// import kobj back.
type refCounted interface {
	Ref()
}

// Clone builds a new table of the same capacity holding one fresh root
// entry per live slot in t, each pointing at the same object with the
// same rights, Ref()'ing every ref-counted object once for the new table
// — the same "duplicated fd table, one refcount bump per entry" shape as
// Unix fork() (spec §4.6 fork()).
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := NewTable(len(t.entries))
	for i := range t.entries {
		e := &t.entries[i]
		if e.kind == KindInvalid {
			continue
		}
		if rc, ok := e.object.(refCounted); ok {
			rc.Ref()
		}
		out.insertLocked(e.object, e.kind, e.rights, NoParent)
	}
	return out
}

// ErrFull reports table-full conditions to callers that want a typed error
// rather than testing against Invalid (used by pkg/syscall).
var ErrFull = common.ErrOutOfMemory
