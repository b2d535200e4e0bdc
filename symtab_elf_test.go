//go:build linux

package archhook

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildFakeELF writes a minimal little-endian ELF64 object containing one
// PT_LOAD segment and a single SHT_SYMTAB section with one STT_FUNC symbol,
// enough for resolveInModule's walk to find it.
func buildFakeELF(symbolName string, symbolValue uint64) []byte {
	const (
		ehsize  = 64
		phsize  = 56
		shsize  = 64
		symsize = 24
	)

	strtab := []byte{0}
	strtab = append(strtab, []byte(symbolName)...)
	strtab = append(strtab, 0)

	phoff := uint64(ehsize)
	symOff := alignUp64(phoff+phsize, 8)
	symData := make([]byte, symsize)
	binary.LittleEndian.PutUint32(symData[0:4], 1) // Name offset into strtab
	symData[4] = (1 << 4) | 2                       // STB_GLOBAL<<4 | STT_FUNC
	binary.LittleEndian.PutUint64(symData[8:16], symbolValue)

	strOff := alignUp64(symOff+symsize, 8)
	shoff := alignUp64(strOff+uint64(len(strtab)), 8)

	var buf bytes.Buffer
	hdr := make([]byte, ehsize)
	hdr[0], hdr[1], hdr[2], hdr[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	hdr[4] = elfClass64
	binary.LittleEndian.PutUint64(hdr[32:40], phoff)
	binary.LittleEndian.PutUint64(hdr[40:48], shoff)
	binary.LittleEndian.PutUint16(hdr[54:56], phsize)
	binary.LittleEndian.PutUint16(hdr[56:58], 1) // Phnum
	binary.LittleEndian.PutUint16(hdr[58:60], shsize)
	binary.LittleEndian.PutUint16(hdr[60:62], 3) // Shnum: null + symtab + strtab
	buf.Write(hdr)

	buf.Write(make([]byte, int(phoff)-buf.Len()))
	ph := make([]byte, phsize)
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint64(ph[8:16], 0) // Offset
	binary.LittleEndian.PutUint64(ph[16:24], 0x400000)
	buf.Write(ph)

	buf.Write(make([]byte, int(symOff)-buf.Len()))
	buf.Write(symData)

	buf.Write(make([]byte, int(strOff)-buf.Len()))
	buf.Write(strtab)

	buf.Write(make([]byte, int(shoff)-buf.Len()))
	buf.Write(make([]byte, shsize)) // null section (index 0)

	symSh := make([]byte, shsize)
	binary.LittleEndian.PutUint32(symSh[4:8], 2) // SHT_SYMTAB
	binary.LittleEndian.PutUint64(symSh[24:32], symOff)
	binary.LittleEndian.PutUint64(symSh[32:40], uint64(len(symData)))
	binary.LittleEndian.PutUint32(symSh[40:44], 2) // Link -> section 2 (strtab)
	buf.Write(symSh)                               // index 1

	strSh := make([]byte, shsize)
	binary.LittleEndian.PutUint32(strSh[4:8], 3) // SHT_STRTAB
	binary.LittleEndian.PutUint64(strSh[24:32], strOff)
	binary.LittleEndian.PutUint64(strSh[32:40], uint64(len(strtab)))
	buf.Write(strSh) // index 2

	return buf.Bytes()
}

func alignUp64(v, align uint64) uint64 {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}

func TestResolveSymbolFindsMatchInModule(t *testing.T) {
	const symbolValue = 0x400000 + 0x1234
	elfBytes := buildFakeELF("hook_target", symbolValue)

	platform := newFakePlatform(4096)
	platform.procMaps = "00400000-00401000 r-xp 00000000 00:00 0 /fake/module.so\n"
	platform.mapFile = func(path string, offset, length int64) ([]byte, error) {
		if path != "/fake/module.so" {
			t.Fatalf("unexpected path requested: %s", path)
		}
		return elfBytes, nil
	}

	lookup := newPlatformSymbolLookup(platform)
	addr, err := lookup.ResolveSymbol("hook_target", "module.so")
	if err != nil {
		t.Fatalf("ResolveSymbol: %v", err)
	}
	if addr != uintptr(symbolValue) {
		t.Fatalf("addr = %#x, want %#x", addr, symbolValue)
	}
}

func TestResolveSymbolMissingNameReturnsNotFound(t *testing.T) {
	elfBytes := buildFakeELF("some_other_symbol", 0x400100)

	platform := newFakePlatform(4096)
	platform.procMaps = "00400000-00401000 r-xp 00000000 00:00 0 /fake/module.so\n"
	platform.mapFile = func(path string, offset, length int64) ([]byte, error) {
		return elfBytes, nil
	}

	lookup := newPlatformSymbolLookup(platform)
	if _, err := lookup.ResolveSymbol("hook_target", ""); err == nil {
		t.Fatal("ResolveSymbol with no matching symbol: want error, got nil")
	}
}

func TestResolveSymbolSkipsNonMatchingImageSubstring(t *testing.T) {
	elfBytes := buildFakeELF("hook_target", 0x400100)

	platform := newFakePlatform(4096)
	platform.procMaps = "00400000-00401000 r-xp 00000000 00:00 0 /fake/unrelated.so\n"
	platform.mapFile = func(path string, offset, length int64) ([]byte, error) {
		return elfBytes, nil
	}

	lookup := newPlatformSymbolLookup(platform)
	if _, err := lookup.ResolveSymbol("hook_target", "module.so"); err == nil {
		t.Fatal("ResolveSymbol with non-matching image substring: want error, got nil")
	}
}

func TestEnumerateModulesSkipsBracketedAndDuplicatePaths(t *testing.T) {
	platform := newFakePlatform(4096)
	platform.procMaps = "" +
		"00400000-00401000 r-xp 00000000 00:00 0 [vdso]\n" +
		"00500000-00501000 r-xp 00000000 00:00 0 /fake/module.so\n" +
		"00501000-00502000 r--p 00001000 00:00 0 /fake/module.so\n"

	lookup := &elfSymbolLookup{platform: platform}
	modules, err := lookup.enumerateModules()
	if err != nil {
		t.Fatalf("enumerateModules: %v", err)
	}
	if len(modules) != 1 {
		t.Fatalf("len(modules) = %d, want 1", len(modules))
	}
	if modules[0].path != "/fake/module.so" {
		t.Fatalf("modules[0].path = %q, want /fake/module.so", modules[0].path)
	}
}

func TestComputeLoadBiasFirstPTLoad(t *testing.T) {
	elfBytes := buildFakeELF("hook_target", 0x400100)
	var hdr elf64Header
	if err := decodeLE(elfBytes, 0, &hdr); err != nil {
		t.Fatalf("decodeLE header: %v", err)
	}
	bias, err := computeLoadBias(elfBytes, hdr, 0x400000)
	if err != nil {
		t.Fatalf("computeLoadBias: %v", err)
	}
	if bias != 0 {
		t.Fatalf("bias = %d, want 0 (module base matches p_vaddr-p_offset)", bias)
	}
}

// TestComputeLoadBiasPTPhdrSurvivesLaterPTLoad reproduces the real-world
// program header order (PT_PHDR first, PT_LOAD segments after, as in
// /bin/ls) and checks the PT_PHDR-derived bias is not clobbered by the
// PT_LOAD encountered afterward.
func TestComputeLoadBiasPTPhdrSurvivesLaterPTLoad(t *testing.T) {
	const (
		ehsize = 64
		phsize = 56
	)

	const moduleBase = uintptr(0x555555554000)
	const phoff = uint64(ehsize)
	const phdrVaddr = uint64(0x40)  // conventional: PT_PHDR vaddr == ehsize
	const loadVaddr = uint64(0x0)
	const loadOffset = uint64(0x0)

	hdr := make([]byte, ehsize)
	hdr[0], hdr[1], hdr[2], hdr[3] = elfMagic0, elfMagic1, elfMagic2, elfMagic3
	hdr[4] = elfClass64
	binary.LittleEndian.PutUint64(hdr[32:40], phoff)
	binary.LittleEndian.PutUint16(hdr[54:56], phsize)
	binary.LittleEndian.PutUint16(hdr[56:58], 2) // Phnum: PT_PHDR then PT_LOAD

	phdrPh := make([]byte, phsize)
	binary.LittleEndian.PutUint32(phdrPh[0:4], ptPhdr)
	binary.LittleEndian.PutUint64(phdrPh[16:24], phdrVaddr)

	loadPh := make([]byte, phsize)
	binary.LittleEndian.PutUint32(loadPh[0:4], ptLoad)
	binary.LittleEndian.PutUint64(loadPh[8:16], loadOffset)
	binary.LittleEndian.PutUint64(loadPh[16:24], loadVaddr)

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(phdrPh)
	buf.Write(loadPh)
	data := buf.Bytes()

	var parsedHdr elf64Header
	if err := decodeLE(data, 0, &parsedHdr); err != nil {
		t.Fatalf("decodeLE header: %v", err)
	}

	bias, err := computeLoadBias(data, parsedHdr, moduleBase)
	if err != nil {
		t.Fatalf("computeLoadBias: %v", err)
	}

	wantBias := int64(moduleBase) + int64(phoff) - int64(phdrVaddr)
	if bias != wantBias {
		t.Fatalf("bias = %d, want %d (PT_PHDR override clobbered by later PT_LOAD)", bias, wantBias)
	}
}
