// allocator.go - executable region allocator (component A)
//
// Bump-allocator concept grounded on arena.go's growth-factor arena, with a
// plain bump rule over one page at a time instead of a growth factor; the R-X page
// lifecycle is grounded on filewatcher_unix.go / filewatcher_darwin.go
// wrapping golang.org/x/sys/unix for OS-level memory primitives.
package archhook

import "sync"

// Protection is the page-protection flags an allocator or patcher requests
// from a Platform.
type Protection int

const (
	ProtNone Protection = iota
	ProtReadWrite
	ProtReadExec
	ProtReadWriteExec
)

// MemoryRange is a plain {start, size} value (spec §3 "Memory range").
type MemoryRange struct {
	Start uintptr
	Size  int
}

// allocSlice is a bump allocator over one R-X virtual page (spec §3
// "Allocator slice"). Sub-ranges are alignment-aligned and disjoint and are
// never individually released.
type allocSlice struct {
	addr      uintptr
	size      int
	used      int
	alignment int
}

func (s *allocSlice) alloc(n int) (MemoryRange, bool) {
	aligned := alignUp(s.used, s.alignment)
	if aligned+n > s.size {
		return MemoryRange{}, false
	}
	r := MemoryRange{Start: s.addr + uintptr(aligned), Size: n}
	s.used = aligned + n
	return r, true
}

func alignUp(v, alignment int) int {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

const sliceAlignment = 8

// Allocator is the process-wide executable-region allocator (spec §3
// "Process-wide state"): a lazily-grown set of R-X pages, bump-allocated
// with 8-byte alignment, never remapped and never individually freed.
type Allocator struct {
	mu       sync.Mutex
	platform Platform
	slices   []*allocSlice
}

// NewAllocator creates an allocator backed by platform.
func NewAllocator(platform Platform) *Allocator {
	return &Allocator{platform: platform}
}

// Allocate reserves size bytes inside a page mapped R-X (spec §4.A). size
// must not exceed the platform's page size.
func (a *Allocator) Allocate(size int) (MemoryRange, error) {
	if size <= 0 {
		return MemoryRange{}, statusError("Allocate", InvalidArgument)
	}
	pageSize := a.platform.PageSize()
	if size > pageSize {
		return MemoryRange{}, statusError("Allocate", MemoryOverflow)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.slices {
		if r, ok := s.alloc(size); ok {
			verbosef("allocator: reused slice at 0x%x for %d bytes", s.addr, size)
			return r, nil
		}
	}

	addr, err := a.platform.MapAnonymous(pageSize)
	if err != nil {
		return MemoryRange{}, wrapError("Allocate", MemoryMapping, err)
	}
	if err := a.platform.Protect(addr, pageSize, ProtReadExec); err != nil {
		return MemoryRange{}, wrapError("Allocate", MemoryPermission, err)
	}

	s := &allocSlice{addr: addr, size: pageSize, alignment: sliceAlignment}
	a.slices = append(a.slices, s)

	r, ok := s.alloc(size)
	if !ok {
		return MemoryRange{}, statusError("Allocate", MemoryOverflow)
	}
	verbosef("allocator: mapped fresh R-X slice at 0x%x", addr)
	return r, nil
}

// sliceFor returns the slice backing addr, or nil. Used when attaching a
// fixed-address Assembler to freshly allocated space.
func (a *Allocator) sliceFor(addr uintptr) *allocSlice {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slices {
		if addr >= s.addr && addr < s.addr+uintptr(s.size) {
			return s
		}
	}
	return nil
}

// Teardown forgets every tracked slice. It does not unmap memory: per spec
// §4.A, releasing individual slices is unsupported, and §4.I only asks
// destroy_all_inline_hooks to release "the executable-region allocator's
// slice table" — its bookkeeping, not the underlying pages.
func (a *Allocator) Teardown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slices = nil
}
