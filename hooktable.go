// hooktable.go - tracks installed hooks (component I)
//
// Hook entries live in a doubly-linked list with a sentinel head;
// container/list already is exactly that (a ring with a sentinel root
// element), so it is used here instead of hand-rolling one.
package archhook

import (
	"container/list"
	"sync"
)

// relocationBudget bounds how large a relocated prologue (plus its return
// branch and literal pool) may grow. Comfortably covers the worst case of
// relocationWindowBytes/4 source instructions, each expanding to at most
// five emitted instructions, plus the final return branch and its literal.
const relocationBudget = 256

// relocationWindowBytes is how much of the target's entry is made
// available to the relocator as source; always well above any trampoline's
// patched_range.size, so Relocate never runs out of source bytes before
// reaching minSize.
const relocationWindowBytes = 32

// HookEntry is the state kept for one installed hook (spec §3 "Hook
// entry"). patchedRange is the region overwritten in the target;
// relocatedRange.Start is the trampoline handed back to the caller.
type HookEntry struct {
	targetAddress      uintptr
	replacementAddress uintptr
	patchedRange       MemoryRange
	relocatedRange     MemoryRange
	originalBytes      []byte
	beforeWrite        PageWriteCallback
	afterWrite         PageWriteCallback
}

// HookTable is the process-wide singleton tracking every installed hook
// (spec §3 "Hook table" / "Process-wide state").
type HookTable struct {
	mu        sync.Mutex
	entries   *list.List
	allocator *Allocator
	patcher   *Patcher
	platform  Platform
}

// NewHookTable creates a hook table backed by platform. Production code
// uses the singleton returned by DefaultHookTable; tests construct their
// own against a fakePlatform.
func NewHookTable(platform Platform) *HookTable {
	return &HookTable{
		entries:   list.New(),
		allocator: NewAllocator(platform),
		patcher:   NewPatcher(platform),
		platform:  platform,
	}
}

var (
	defaultHookTableOnce sync.Once
	defaultHookTable     *HookTable
)

// DefaultHookTable returns the process-wide singleton hook table, lazily
// constructed against the real Platform on first use (spec §9: "model each
// as an explicit singleton with a lazily-constructed lifetime").
func DefaultHookTable() *HookTable {
	defaultHookTableOnce.Do(func() {
		defaultHookTable = NewHookTable(NewRealPlatform())
	})
	return defaultHookTable
}

// Install builds a trampoline at target that diverts control to
// replacement, relocates the displaced bytes into a freshly allocated
// executable region, and patches target to jump through the trampoline
// (spec §4.I install). It returns the address of the relocated prologue —
// the "original function" pointer — on success.
func (t *HookTable) Install(target, replacement uintptr, before, after PageWriteCallback) (uintptr, error) {
	if target == 0 || replacement == 0 {
		return 0, statusError("Install", NullArgument)
	}
	target = stripPointerAuth(target)
	replacement = stripPointerAuth(replacement)

	tramp, err := BuildTrampoline(uint64(target), uint64(replacement))
	if err != nil {
		return 0, err
	}
	patchSize := tramp.Len()

	relocRange, err := t.allocator.Allocate(relocationBudget)
	if err != nil {
		tramp.Release()
		return 0, err
	}
	relocSlice := t.allocator.sliceFor(relocRange.Start)

	relocAsm := NewFixedAssembler("relocated-prologue", relocSlice)
	source := memcpyFrom(target, relocationWindowBytes)
	consumed, err := Relocate(relocAsm, uint64(target), source, patchSize)
	if err != nil {
		tramp.Release()
		relocAsm.Release()
		return 0, err
	}
	if err := AppendReturnBranch(relocAsm, uint64(target)+uint64(consumed)); err != nil {
		tramp.Release()
		relocAsm.Release()
		return 0, err
	}
	if err := relocAsm.FlushLiteralPool(); err != nil {
		tramp.Release()
		relocAsm.Release()
		return 0, err
	}
	if relocAsm.Len() > relocRange.Size {
		tramp.Release()
		relocAsm.Release()
		return 0, statusError("Install", MemoryOverflow)
	}

	if err := t.patcher.Patch(relocRange.Start, relocAsm.Bytes(), nil, nil); err != nil {
		tramp.Release()
		relocAsm.Release()
		return 0, err
	}

	original := memcpyFrom(target, patchSize)

	entry := &HookEntry{
		targetAddress:      target,
		replacementAddress: replacement,
		patchedRange:       MemoryRange{Start: target, Size: patchSize},
		relocatedRange:     MemoryRange{Start: relocRange.Start, Size: relocAsm.Len()},
		originalBytes:      original,
		beforeWrite:        before,
		afterWrite:         after,
	}

	t.mu.Lock()
	elem := t.entries.PushBack(entry)
	t.mu.Unlock()

	if err := t.patcher.Patch(target, tramp.Bytes(), before, after); err != nil {
		t.mu.Lock()
		t.entries.Remove(elem)
		t.mu.Unlock()
		tramp.Release()
		relocAsm.Release()
		return 0, err
	}

	tramp.Release()
	relocAsm.Release()

	return signPointerAuth(relocRange.Start), nil
}

// Uninstall restores target's original bytes and unlinks its hook entry
// (spec §4.I uninstall). Returns NotFound if no entry matches target.
func (t *HookTable) Uninstall(target uintptr) error {
	target = stripPointerAuth(target)

	t.mu.Lock()
	elem, entry := t.find(target)
	if elem == nil {
		t.mu.Unlock()
		return statusError("Uninstall", NotFound)
	}
	t.entries.Remove(elem)
	t.mu.Unlock()

	return t.patcher.Patch(entry.targetAddress, entry.originalBytes, entry.beforeWrite, entry.afterWrite)
}

// UninstallAll repeatedly removes the head entry, restoring its bytes,
// until the table is empty, then releases the allocator's slice table
// (spec §4.I uninstall_all). Idempotent: calling it on an empty table is a
// no-op (spec §8 testable property 3).
func (t *HookTable) UninstallAll() error {
	for {
		t.mu.Lock()
		front := t.entries.Front()
		if front == nil {
			t.mu.Unlock()
			break
		}
		entry := front.Value.(*HookEntry)
		t.entries.Remove(front)
		t.mu.Unlock()

		if err := t.patcher.Patch(entry.targetAddress, entry.originalBytes, entry.beforeWrite, entry.afterWrite); err != nil {
			return err
		}
	}
	t.allocator.Teardown()
	return nil
}

func (t *HookTable) find(target uintptr) (*list.Element, *HookEntry) {
	for e := t.entries.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*HookEntry)
		if entry.targetAddress == target {
			return e, entry
		}
	}
	return nil, nil
}

// Len reports the number of installed hooks, used by tests asserting
// well-formedness after a failed install.
func (t *HookTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}
