package kobj

import (
	"errors"
	"io"
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
	"github.com/splanck/viperdos/pkg/common"
	"github.com/splanck/viperdos/pkg/externalio"
)

// File is the kernel object a FILE capability resolves to: a handle onto a
// backend-provided byte stream, plus the cursor/flags state the kernel
// tracks on the caller's behalf (spec §3.3).
type File struct {
	Object

	Backend externalio.FileBackend
	Flags   uint32

	mu     sync.Mutex
	offset int64
}

// NewFile wraps a backend in a File kernel object with refcount 1.
func NewFile(backend externalio.FileBackend, flags uint32) *File {
	return &File{
		Object:  NewObject(cap.KindFile),
		Backend: backend,
		Flags:   flags,
	}
}

// Offset returns the file's current read/write cursor.
func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Read reads up to len(buf) bytes starting at the cursor, advancing it by
// the number of bytes read (spec §6.1 IO_READ).
func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Backend.ReadAt(buf, f.offset)
	f.offset += int64(n)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// Write writes data starting at the cursor, advancing it by the number of
// bytes written (spec §6.1 IO_WRITE).
func (f *File) Write(data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Backend.WriteAt(data, f.offset)
	f.offset += int64(n)
	return n, err
}

// SeekWhence mirrors the three POSIX-style seek origins (spec §6.1
// IO_SEEK).
type SeekWhence int32

const (
	SeekSet SeekWhence = iota
	SeekCur
	SeekEnd
)

// Seek repositions the cursor relative to whence, rejecting any result
// that would land before byte 0 (spec §6.1 IO_SEEK).
func (f *File) Seek(offset int64, whence SeekWhence) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.offset
	case SeekEnd:
		size, err := f.Backend.Size()
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, common.ErrInvalidArg
	}

	next := base + offset
	if next < 0 {
		return 0, common.ErrInvalidArg
	}
	f.offset = next
	return next, nil
}

// Finalize closes the backing store once the last reference drops.
func (f *File) Finalize() {
	if f.Backend != nil {
		_ = f.Backend.Close()
	}
}
