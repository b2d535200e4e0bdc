//go:build linux

// symtab_elf.go - ELF symbol resolver (component K)
//
// Struct shapes and section-type constants are adapted from
// elf_sections.go's writer-side definitions (SHT_SYMTAB, SHT_DYNSYM,
// STT_FUNC, ...) into a reader that walks /proc/self/maps and each
// module's section headers.
package archhook

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	elfMagic0, elfMagic1, elfMagic2, elfMagic3 = 0x7f, 'E', 'L', 'F'

	elfClass64 = 2

	ptLoad = 1
	ptPhdr = 6
)

type elf64Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf64ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

type elf64SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type elf64Symbol struct {
	Name  uint32
	Info  byte
	Other byte
	Shndx uint16
	Value uint64
	Size  uint64
}

type elfModule struct {
	path string
	base uintptr
}

type elfSymbolLookup struct {
	platform Platform
}

func newPlatformSymbolLookup(platform Platform) SymbolLookup {
	return &elfSymbolLookup{platform: platform}
}

// ResolveSymbol implements spec §4.K: enumerate mapped modules from
// /proc/self/maps, map each module file, and search .symtab then .dynsym
// for a matching name.
func (l *elfSymbolLookup) ResolveSymbol(symbolName, imageSubstring string) (uintptr, error) {
	modules, err := l.enumerateModules()
	if err != nil {
		return 0, err
	}

	for _, m := range modules {
		if imageSubstring != "" && !strings.Contains(m.path, imageSubstring) {
			continue
		}
		addr, ok, err := l.resolveInModule(m, symbolName)
		if err != nil {
			continue
		}
		if ok {
			return addr, nil
		}
	}
	return 0, statusError("ResolveSymbol", NotFound)
}

func (l *elfSymbolLookup) enumerateModules() ([]elfModule, error) {
	f, err := l.platform.ProcSelfMaps()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := map[string]bool{}
	var modules []elfModule
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		perms := fields[1]
		path := fields[5]
		if path == "" || strings.HasPrefix(path, "[") || seen[path] {
			continue
		}
		if perms != "r--p" && perms != "r-xp" {
			continue
		}
		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		base, err := parseHexAddr(addrRange[0])
		if err != nil {
			continue
		}
		seen[path] = true
		modules = append(modules, elfModule{path: path, base: base})
	}
	if err := sc.Err(); err != nil {
		return nil, wrapError("ResolveSymbol", UnexpectedFormat, err)
	}
	return modules, nil
}

func (l *elfSymbolLookup) resolveInModule(m elfModule, symbolName string) (uintptr, bool, error) {
	data, err := l.platform.MapFile(m.path, 0, fileSizeHint)
	if err != nil {
		return 0, false, err
	}
	if len(data) < 64 || data[0] != elfMagic0 || data[1] != elfMagic1 || data[2] != elfMagic2 || data[3] != elfMagic3 {
		return 0, false, statusError("resolveInModule", UnexpectedFormat)
	}
	if data[4] != elfClass64 {
		return 0, false, statusError("resolveInModule", UnhandledType)
	}

	var hdr elf64Header
	if err := decodeLE(data, 0, &hdr); err != nil {
		return 0, false, err
	}

	loadBias, err := computeLoadBias(data, hdr, m.base)
	if err != nil {
		return 0, false, err
	}

	sections := make([]elf64SectionHeader, hdr.Shnum)
	for i := range sections {
		if err := decodeLE(data, int64(hdr.Shoff)+int64(i)*int64(hdr.Shentsize), &sections[i]); err != nil {
			return 0, false, err
		}
	}

	for _, pair := range []struct{ symType, strType uint32 }{{2 /*SHT_SYMTAB*/, 3}, {11 /*SHT_DYNSYM*/, 3}} {
		symSec, strSec, ok := findSymbolSection(sections, pair.symType)
		if !ok {
			continue
		}
		addr, found := searchSymtab(data, symSec, strSec, symbolName, m.base, loadBias)
		if found {
			return addr, true, nil
		}
	}
	return 0, false, nil
}

func findSymbolSection(sections []elf64SectionHeader, symType uint32) (symSec, strSec elf64SectionHeader, ok bool) {
	for _, s := range sections {
		if s.Type == symType {
			link := s.Link
			if int(link) < len(sections) {
				return s, sections[link], true
			}
		}
	}
	return elf64SectionHeader{}, elf64SectionHeader{}, false
}

func searchSymtab(data []byte, symSec, strSec elf64SectionHeader, want string, moduleBase uintptr, loadBias int64) (uintptr, bool) {
	const symSize = 24
	count := symSec.Size / symSize
	for i := uint64(0); i < count; i++ {
		var sym elf64Symbol
		if err := decodeLE(data, int64(symSec.Offset)+int64(i*symSize), &sym); err != nil {
			continue
		}
		name := cString(data, int64(strSec.Offset)+int64(sym.Name))
		if symbolNameMatches(name, want) {
			return uintptr(int64(sym.Value) + loadBias), true
		}
	}
	return 0, false
}

// computeLoadBias implements spec §4.K step 4: the first PT_LOAD gives
// load_bias = mmap_base - (p_vaddr - p_offset); a PT_PHDR overrides with
// phdr_addr - p_vaddr.
func computeLoadBias(data []byte, hdr elf64Header, moduleBase uintptr) (int64, error) {
	var bias int64
	haveLoad := false
	havePhdr := false
	for i := 0; i < int(hdr.Phnum); i++ {
		var ph elf64ProgramHeader
		if err := decodeLE(data, int64(hdr.Phoff)+int64(i)*int64(hdr.Phentsize), &ph); err != nil {
			return 0, err
		}
		switch ph.Type {
		case ptLoad:
			if !haveLoad && !havePhdr {
				bias = int64(moduleBase) - (int64(ph.Vaddr) - int64(ph.Offset))
				haveLoad = true
			}
		case ptPhdr:
			phdrAddr := int64(moduleBase) + int64(hdr.Phoff)
			bias = phdrAddr - int64(ph.Vaddr)
			havePhdr = true
		}
	}
	return bias, nil
}

const fileSizeHint = 1 << 26 // generous upper bound on a shared object's file size for MapFile

func decodeLE(data []byte, offset int64, v any) error {
	if offset < 0 || offset >= int64(len(data)) {
		return statusError("decodeLE", UnexpectedFormat)
	}
	return binary.Read(bytes.NewReader(data[offset:]), binary.LittleEndian, v)
}

func cString(data []byte, offset int64) string {
	if offset < 0 || offset >= int64(len(data)) {
		return ""
	}
	end := offset
	for end < int64(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[offset:end])
}
