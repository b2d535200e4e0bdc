// patcher.go - cross-page-safe code patcher (component H)
package archhook

// PageWriteCallback is invoked with the page-aligned base address of a page
// about to be (or having just been) mutated, so platforms with page-based
// code signing can re-hash it (spec §6 callback signatures).
type PageWriteCallback func(alignedPage uintptr)

// Patcher writes bytes into live process memory through a Platform,
// flipping page protection around each write and invoking the caller's
// before/after callbacks exactly once per page touched.
type Patcher struct {
	platform Platform
}

// NewPatcher creates a Patcher backed by platform.
func NewPatcher(platform Platform) *Patcher {
	return &Patcher{platform: platform}
}

// Patch writes data to target, splitting the write at page boundaries and
// invoking before/after around each page touched (spec §4.H). Either
// callback may be nil. A protection failure aborts the patch and returns
// MemoryPermission; bytes already written by completed sub-patches are not
// rolled back (spec §7).
func (p *Patcher) Patch(target uintptr, data []byte, before, after PageWriteCallback) error {
	if len(data) == 0 {
		return nil
	}
	pageSize := uintptr(p.platform.PageSize())
	pageFloor := target &^ (pageSize - 1)
	pageEnd := pageFloor + pageSize

	if target+uintptr(len(data)) > pageEnd {
		firstLen := int(pageEnd - target)
		if err := p.patchWithinPage(target, data[:firstLen], before, after); err != nil {
			return err
		}
		return p.Patch(pageEnd, data[firstLen:], before, after)
	}
	return p.patchWithinPage(target, data, before, after)
}

func (p *Patcher) patchWithinPage(target uintptr, data []byte, before, after PageWriteCallback) error {
	pageSize := uintptr(p.platform.PageSize())
	pageFloor := target &^ (pageSize - 1)

	if before != nil {
		before(pageFloor)
	}
	if err := p.platform.Protect(pageFloor, int(pageSize), ProtReadWriteExec); err != nil {
		return wrapError("Patch", MemoryPermission, err)
	}

	memcpyTo(target, data)
	clearCache(target, len(data))

	if err := p.platform.Protect(pageFloor, int(pageSize), ProtReadExec); err != nil {
		return wrapError("Patch", MemoryPermission, err)
	}
	if after != nil {
		after(pageFloor)
	}
	return nil
}
