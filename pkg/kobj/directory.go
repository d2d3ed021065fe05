package kobj

import (
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/externalio"
)

// Directory is the kernel object a DIRECTORY capability resolves to. cursor
// tracks how far a FS_READ_DIR stream has progressed so repeated calls page
// through the listing instead of always returning it from the top (spec
// §6.1 FS_READ_DIR, FS_REWIND_DIR).
type Directory struct {
	Object

	Backend externalio.DirectoryBackend

	mu     sync.Mutex
	cursor int
}

// NewDirectory wraps a backend in a Directory kernel object.
func NewDirectory(backend externalio.DirectoryBackend) *Directory {
	return &Directory{
		Object:  NewObject(cap.KindDirectory),
		Backend: backend,
	}
}

// ReadDir returns up to max entries starting at the current cursor and
// advances the cursor past them (spec §6.1 FS_READ_DIR). A count smaller
// than max means the listing is exhausted.
func (d *Directory) ReadDir(max int) ([]externalio.DirEntry, error) {
	all, err := d.Backend.ReadDir()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor >= len(all) {
		return nil, nil
	}
	end := d.cursor + max
	if end > len(all) {
		end = len(all)
	}
	out := all[d.cursor:end]
	d.cursor = end
	return out, nil
}

// Rewind resets the listing cursor to the start (spec §6.1 FS_REWIND_DIR).
func (d *Directory) Rewind() {
	d.mu.Lock()
	d.cursor = 0
	d.mu.Unlock()
}
