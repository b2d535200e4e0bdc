package archhook

import "testing"

const nopWord = 0xD503201F

func fillNops(buf []byte) {
	for i := 0; i+4 <= len(buf); i += 4 {
		buf[i] = byte(nopWord)
		buf[i+1] = byte(nopWord >> 8)
		buf[i+2] = byte(nopWord >> 16)
		buf[i+3] = byte(nopWord >> 24)
	}
}

func TestInstallPatchesTargetWithTrampoline(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)

	target := make([]byte, 64)
	fillNops(target)
	targetAddr := uintptr(unsafePointer(target))
	replacementAddr := targetAddr + 0x1000 // near form, |delta| << 2^32

	want, err := BuildTrampoline(uint64(targetAddr), uint64(replacementAddr))
	if err != nil {
		t.Fatalf("BuildTrampoline: %v", err)
	}
	wantBytes := append([]byte(nil), want.Bytes()...)

	orig, err := table.Install(targetAddr, replacementAddr, nil, nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if orig == 0 {
		t.Fatalf("Install returned a nil trampoline address")
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}

	got := memcpyFrom(targetAddr, len(wantBytes))
	if string(got) != string(wantBytes) {
		t.Errorf("target bytes after install = %x, want %x", got, wantBytes)
	}
}

func TestInstallThenUninstallRestoresOriginalBytes(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)

	target := make([]byte, 64)
	fillNops(target)
	targetAddr := uintptr(unsafePointer(target))
	replacementAddr := targetAddr + 0x2000

	before := append([]byte(nil), target[:16]...)

	if _, err := table.Install(targetAddr, replacementAddr, nil, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := table.Uninstall(targetAddr); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() after Uninstall = %d, want 0", table.Len())
	}

	after := memcpyFrom(targetAddr, 16)
	if string(after) != string(before) {
		t.Errorf("bytes after uninstall = %x, want original %x", after, before)
	}
}

func TestUninstallUnknownTargetReturnsNotFound(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)
	if err := table.Uninstall(0xdeadbeef); err == nil {
		t.Fatalf("expected NotFound for an untracked target")
	}
}

func TestUninstallAllIsIdempotent(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)

	if err := table.UninstallAll(); err != nil {
		t.Fatalf("UninstallAll on empty table: %v", err)
	}

	target := make([]byte, 64)
	fillNops(target)
	targetAddr := uintptr(unsafePointer(target))
	if _, err := table.Install(targetAddr, targetAddr+0x3000, nil, nil); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := table.UninstallAll(); err != nil {
		t.Fatalf("UninstallAll: %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() after UninstallAll = %d, want 0", table.Len())
	}
	if err := table.UninstallAll(); err != nil {
		t.Fatalf("second UninstallAll: %v", err)
	}
}

func TestInstallLeavesNoNodeOnFailure(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)
	if _, err := table.Install(0, 0x1000, nil, nil); err == nil {
		t.Fatalf("expected error for a null target")
	}
	if table.Len() != 0 {
		t.Errorf("a failed install left a node behind: Len() = %d", table.Len())
	}
}

func TestInstallInvokesPageWriteCallbacks(t *testing.T) {
	plat := newFakePlatform(4096)
	table := NewHookTable(plat)

	target := make([]byte, 64)
	fillNops(target)
	targetAddr := uintptr(unsafePointer(target))

	var beforeCount, afterCount int
	_, err := table.Install(targetAddr, targetAddr+0x4000,
		func(uintptr) { beforeCount++ },
		func(uintptr) { afterCount++ },
	)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if beforeCount != 1 || afterCount != 1 {
		t.Errorf("before=%d after=%d, want 1 each for a single-page target patch", beforeCount, afterCount)
	}
}
