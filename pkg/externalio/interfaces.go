// Package externalio defines the seams between the ViperDOS kernel core
// and the subsystems spec §1 places out of scope for this repo: the real
// filesystem, input devices, and the network/TLS stack. The kernel only
// ever talks to these small interfaces, so a host environment (this
// module's tests, cmd/viperdosd's selftest boot) can supply in-memory
// fakes without the kernel core knowing the difference.
package externalio

import "io"

// FileBackend is the byte-stream behind a FILE kernel object. A concrete
// filesystem (ViperFS, a passthrough to the host, a RAM disk) implements
// this; pkg/kobj and pkg/syscall never assume more than positioned reads
// and writes, Close, Truncate and Size. The backend has no seek cursor of
// its own.
type FileBackend interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate resizes the backing store.
	Truncate(size int64) error

	// Size reports the backing store's current length.
	Size() (int64, error)
}

// DirEntry is one entry returned by DirectoryBackend.ReadDir.
type DirEntry struct {
	Name  string
	Inode uint64
	IsDir bool
}

// DirectoryBackend is the directory-listing/traversal surface behind a
// DIRECTORY kernel object.
type DirectoryBackend interface {
	// ReadDir lists the directory's immediate children.
	ReadDir() ([]DirEntry, error)

	// Lookup resolves a single child name without listing the whole
	// directory, used by path traversal (spec §4.7).
	Lookup(name string) (DirEntry, bool, error)

	// Inode returns the backing inode number this directory represents.
	Inode() uint64

	// OpenDir opens a child name as a directory (spec §6.1 FS_OPEN,
	// resolve_path()'s directory case).
	OpenDir(name string) (DirectoryBackend, error)

	// OpenFile opens a child name as a byte-stream file (spec §6.1 FS_OPEN,
	// resolve_path()'s file case).
	OpenFile(name string) (FileBackend, error)
}

// InputSource is the pseudo-handle readiness source behind
// HANDLE_CONSOLE_INPUT (spec §4.5): something external can push key
// events, and poll/pollset ask whether any are pending.
type InputSource interface {
	// HasInput reports whether an unread input event is pending.
	HasInput() bool

	// ReadEvent consumes and returns the next pending input event. It
	// returns false if none was pending.
	ReadEvent() (KeyEvent, bool)
}

// KeyEvent is a single console input event.
type KeyEvent struct {
	Code    uint32
	Pressed bool
}

// PathResolver resolves a plain filesystem path ("/c") down to a
// DirectoryBackend, the seam pkg/assign uses instead of reaching into a
// concrete filesystem package directly (spec §4.7).
type PathResolver interface {
	ResolveDir(path string) (DirectoryBackend, error)
}
