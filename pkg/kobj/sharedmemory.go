package kobj

import (
	"sync"

	"github.com/splanck/viperdos/pkg/cap"
)

// SharedMemory is the kernel object a SHARED_MEMORY capability resolves
// to: a page-granular byte region that two or more Vipers can map into
// their address spaces (spec §3.3, §4.8). This hosted implementation
// models "mapping" as every holder sharing the same backing slice rather
// than manipulating real page tables.
type SharedMemory struct {
	Object

	mu   sync.RWMutex
	data []byte
}

// PageSize mirrors the page granularity spec §4.8 allocates
// SharedMemory regions in.
const PageSize = 4096

// NewSharedMemory allocates a zeroed region rounded up to a whole number
// of pages.
func NewSharedMemory(size int) *SharedMemory {
	pages := (size + PageSize - 1) / PageSize
	if pages < 1 {
		pages = 1
	}
	return &SharedMemory{
		Object: NewObject(cap.KindSharedMemory),
		data:   make([]byte, pages*PageSize),
	}
}

// Len returns the region's size in bytes.
func (s *SharedMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// ReadAt copies Len(p) bytes starting at off into p.
func (s *SharedMemory) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if off < 0 || int(off) > len(s.data) {
		return 0, nil
	}
	return copy(p, s.data[off:]), nil
}

// WriteAt copies p into the region starting at off.
func (s *SharedMemory) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off < 0 || int(off) > len(s.data) {
		return 0, nil
	}
	return copy(s.data[off:], p), nil
}
