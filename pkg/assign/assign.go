// Package assign implements ViperDOS's assign namespace: short,
// case-insensitive names ("SYS:", "C:", "S:") that resolve to a directory
// or a service channel, optionally chained across several backing entries
// (spec §3.3, §4.7).
//
// Grounded on original_source/viperdos/kernel/assign/assign.cpp.
package assign

import (
	"strings"
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
	"github.com/splanck/viperdos/pkg/ipc"
	"github.com/splanck/viperdos/pkg/kobj"
)

// Flags describe what kind of target an entry points at and whether it is
// protected (spec §4.7).
type Flags uint32

const (
	// System marks an entry the kernel created at boot (SYS:, D0:); it
	// can never be overwritten or removed via Set/Remove (spec §4.7
	// set()'s "refuses ASSIGN_SYSTEM" rule).
	System Flags = 1 << 0

	// Service marks an entry that resolves to a channel (a running
	// service) rather than a directory.
	Service Flags = 1 << 1

	// Multi marks a non-head link in a multi-entry chain (spec §4.7
	// add()).
	Multi Flags = 1 << 2
)

// entry is one link of an assign chain.
type entry struct {
	dir     externalio.DirectoryBackend
	channel *ipc.Channel
	flags   Flags
	next    *entry
}

// Table is the kernel's assign namespace: a flat map from upper-cased name
// to an entry chain.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewTable creates an empty assign table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// normalize upper-cases name the same ASCII-only way the original's
// str_eq_nocase does, so lookups are case-insensitive without pulling in
// a locale-aware fold (spec §4.7).
func normalize(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// Init creates the two assigns the kernel itself depends on: SYS: (the
// kernel's own root) and D0: (the first disk's root), both marked System
// so user space can never repoint them (spec §4.7 init()).
func (t *Table) Init(sysRoot, disk0Root externalio.DirectoryBackend) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries["SYS"] = &entry{dir: sysRoot, flags: System}
	t.entries["D0"] = &entry{dir: disk0Root, flags: System}
}

// SetupStandardAssigns wires the conventional C:/S:/L:/T:/CERTS: assigns
// onto paths under the user disk, the way the original's
// setup_standard_assigns() does (spec §4.7 supplemented feature).
func (t *Table) SetupStandardAssigns(resolver externalio.PathResolver) error {
	standard := map[string]string{
		"C":     "/c",
		"S":     "/s",
		"L":     "/l",
		"T":     "/t",
		"CERTS": "/certs",
	}
	for name, path := range standard {
		dir, err := resolver.ResolveDir(path)
		if err != nil {
			return err
		}
		if err := t.setDirLocked(name, dir, 0); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) setDirLocked(name string, dir externalio.DirectoryBackend, flags Flags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := normalize(name)
	if e, ok := t.entries[key]; ok && e.flags&System != 0 {
		return common.ErrPermission
	}
	t.entries[key] = &entry{dir: dir, flags: flags}
	return nil
}

// Set points name at dir, replacing any existing chain. System entries
// cannot be overwritten (spec §4.7 set()).
func (t *Table) Set(name string, dir externalio.DirectoryBackend) error {
	return t.setDirLocked(name, dir, 0)
}

// SetChannel points name at a service channel instead of a directory
// (spec §4.7 set_channel()).
func (t *Table) SetChannel(name string, ch *ipc.Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := normalize(name)
	if e, ok := t.entries[key]; ok && e.flags&System != 0 {
		return common.ErrPermission
	}
	t.entries[key] = &entry{channel: ch, flags: Service}
	return nil
}

// Add appends dir as an additional chain link behind name instead of
// replacing the existing target (spec §4.7 add()).
func (t *Table) Add(name string, dir externalio.DirectoryBackend) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := normalize(name)
	head, ok := t.entries[key]
	if !ok {
		t.entries[key] = &entry{dir: dir}
		return nil
	}
	if head.flags&System != 0 {
		return common.ErrPermission
	}
	tail := head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = &entry{dir: dir, flags: Multi}
	return nil
}

// Remove deletes the whole chain behind name. System entries cannot be
// removed (spec §4.7 remove()).
func (t *Table) Remove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := normalize(name)
	e, ok := t.entries[key]
	if !ok {
		return common.ErrNotFound
	}
	if e.flags&System != 0 {
		return common.ErrPermission
	}
	delete(t.entries, key)
	return nil
}

// Exists reports whether name has an entry.
func (t *Table) Exists(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[normalize(name)]
	return ok
}

// IsSystem reports whether name is a protected kernel-created entry.
func (t *Table) IsSystem(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[normalize(name)]
	return ok && e.flags&System != 0
}

// Get resolves name to a fresh read/traverse-only DIRECTORY capability
// inserted into capTable, the way the original mints a new handle on
// every get() call rather than caching one (spec §4.7 get()).
func (t *Table) Get(name string, capTable *cap.Table) (cap.Handle, error) {
	t.mu.Lock()
	e, ok := t.entries[normalize(name)]
	t.mu.Unlock()
	if !ok {
		return cap.Invalid, common.ErrNotFound
	}
	if e.dir == nil {
		return cap.Invalid, common.ErrNotSupported
	}
	h := capTable.Insert(kobj.NewDirectory(e.dir), cap.KindDirectory, cap.Read|cap.Traverse)
	if h == cap.Invalid {
		return cap.Invalid, common.ErrOutOfMemory
	}
	return h, nil
}

// GetChannel resolves a Service assign to a fresh send-only capability
// onto the underlying channel object, taking an extra reference each
// call. The original never hands out the stored channel handle directly,
// only ever a new capability derived from it, so a leaked/misused
// capability at a client can't corrupt the service's own handle (spec
// §4.7 get_channel()).
func (t *Table) GetChannel(name string, capTable *cap.Table) (cap.Handle, error) {
	t.mu.Lock()
	e, ok := t.entries[normalize(name)]
	t.mu.Unlock()
	if !ok || e.channel == nil {
		return cap.Invalid, common.ErrNotFound
	}
	e.channel.Ref()
	h := capTable.Insert(e.channel, cap.KindChannel, cap.Write|cap.Transfer)
	if h == cap.Invalid {
		e.channel.Unref()
		return cap.Invalid, common.ErrOutOfMemory
	}
	return h, nil
}

// ResolvePath splits "NAME:rest/of/path" at the colon, looks up NAME's
// root directory, and walks each remaining component — descending through
// OpenDir for every component but the last, then opening the last
// component as a directory or a file depending on what Lookup reports —
// returning a freshly inserted capability of whichever kind it turned out
// to be (spec §4.7 resolve_path()). An empty remainder after the colon
// resolves to the assign's root directory itself.
func (t *Table) ResolvePath(path string, flags uint32, capTable *cap.Table) (cap.Handle, error) {
	name, rest, ok := ParseAssign(path)
	if !ok {
		return cap.Invalid, common.ErrInvalidArg
	}

	t.mu.Lock()
	e, ok := t.entries[normalize(name)]
	t.mu.Unlock()
	if !ok || e.dir == nil {
		return cap.Invalid, common.ErrNotFound
	}

	dir := e.dir
	parts := SplitPath(rest)
	for i, part := range parts {
		ent, found, err := dir.Lookup(part)
		if err != nil {
			return cap.Invalid, err
		}
		if !found {
			return cap.Invalid, common.ErrNotFound
		}

		last := i == len(parts)-1
		if last && !ent.IsDir {
			file, err := dir.OpenFile(part)
			if err != nil {
				return cap.Invalid, err
			}
			h := capTable.Insert(kobj.NewFile(file, flags), cap.KindFile, cap.Read|cap.Write)
			if h == cap.Invalid {
				return cap.Invalid, common.ErrOutOfMemory
			}
			return h, nil
		}

		child, err := dir.OpenDir(part)
		if err != nil {
			return cap.Invalid, err
		}
		dir = child
	}

	h := capTable.Insert(kobj.NewDirectory(dir), cap.KindDirectory, cap.Read|cap.Traverse)
	if h == cap.Invalid {
		return cap.Invalid, common.ErrOutOfMemory
	}
	return h, nil
}

// List returns one AssignInfo per chain head (chain links are internal
// and not separately listed), matching the original's list() (spec
// §4.7).
func (t *Table) List() []common.AssignInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.AssignInfo, 0, len(t.entries))
	for name, e := range t.entries {
		var info common.AssignInfo
		copy(info.Name[:], name)
		info.Flags = uint32(e.flags)
		out = append(out, info)
	}
	return out
}

// ParseAssign splits a path of the form "NAME:rest/of/path" into its
// assign name and remainder. ok is false if path contains no ':'.
func ParseAssign(path string) (name, rest string, ok bool) {
	idx := strings.IndexByte(path, ':')
	if idx < 0 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

// isSeparator reports whether b is a path component separator. Both '/'
// and '\\' are accepted, matching the original's is_separator() (spec
// §4.7).
func isSeparator(b byte) bool {
	return b == '/' || b == '\\'
}

// SplitPath breaks an assign-relative path into its components, skipping
// empty components produced by repeated or leading/trailing separators.
func SplitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if isSeparator(path[i]) {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		parts = append(parts, path[start:])
	}
	return parts
}
