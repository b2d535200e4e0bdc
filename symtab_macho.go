//go:build darwin

// symtab_macho.go - Mach-O symbol resolver (component J)
//
// Struct shapes (MachOHeader64, LoadCommand, SegmentCommand64, Section64,
// SymtabCommand, Nlist64) are adapted from macho.go's writer-side
// definitions into a reader that walks load commands and the symbol table,
// following spec §4.J.
package archhook

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	machHeaderMagic64 = 0xfeedfacf

	lcSegment64 = 0x19
	lcSymtab    = 0x2
)

type machOHeader64 struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
	Reserved   uint32
}

type loadCommand struct {
	Cmd     uint32
	CmdSize uint32
}

type segmentCommand64 struct {
	Cmd      uint32
	CmdSize  uint32
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

type symtabCommand struct {
	Cmd     uint32
	CmdSize uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

type nlist64 struct {
	Nstrx  uint32
	Ntype  uint8
	Nsect  uint8
	Ndesc  uint16
	Nvalue uint64
}

const nlistSize = 16

// dyldCacheLocalSymbolsInfo is the header of a shared cache's local-symbols
// region (either the "<cache>.symbols" sidecar file or the live cache's
// localSymbolsOffset/Size range), per spec §4.J step 3.
type dyldCacheLocalSymbolsInfo struct {
	NlistOffset   uint32
	NlistCount    uint32
	StringsOffset uint32
	StringsSize   uint32
	EntriesOffset uint32
	EntriesCount  uint32
}

// dyldCacheLocalSymbolsEntry maps one dylib's offset into the cache to its
// slice of the shared nlist/string tables.
type dyldCacheLocalSymbolsEntry struct {
	DylibOffset     uint32
	NlistStartIndex uint32
	NlistCount      uint32
}

const dyldCacheLocalSymbolsEntrySize = 12

type machoSymbolLookup struct {
	platform Platform
}

func newPlatformSymbolLookup(platform Platform) SymbolLookup {
	return &machoSymbolLookup{platform: platform}
}

// ResolveSymbol implements spec §4.J: enumerate loaded images, skip those
// not matching imageSubstring, try the shared-cache local-symbols fast path
// (step 3) for each remaining image, and fall back to a load-command walk
// (step 4) when the fast path misses or the cache isn't active.
func (l *machoSymbolLookup) ResolveSymbol(symbolName, imageSubstring string) (uintptr, error) {
	images, err := l.platform.EnumerateImages()
	if err != nil {
		return 0, err
	}
	for _, img := range images {
		if imageSubstring != "" && !strings.Contains(img.Path, imageSubstring) {
			continue
		}
		if addr, ok, _ := l.resolveViaSharedCache(img, symbolName); ok {
			return addr, nil
		}
		addr, ok, err := l.resolveInImage(img, symbolName)
		if err != nil {
			continue
		}
		if ok {
			return addr, nil
		}
	}
	return 0, statusError("ResolveSymbol", NotFound)
}

// resolveViaSharedCache implements spec §4.J step 3: check the image header
// is at or above the cache base (no upper bound is checked), map its
// local-symbols table (the
// "<cache>.symbols" sidecar first, the live cache's local-symbols region
// otherwise), and walk the entry matching the image's offset into the
// cache. A miss (including an inactive or unreachable cache) is not an
// error — the caller falls through to the step 4 load-command walk.
func (l *machoSymbolLookup) resolveViaSharedCache(img ImageInfo, symbolName string) (uintptr, bool, error) {
	info, err := l.platform.SharedCacheInfo()
	if err != nil || !info.Active || img.Header < info.BaseAddress {
		return 0, false, nil
	}

	data, err := l.mapLocalSymbols(info)
	if err != nil || data == nil {
		return 0, false, nil
	}

	var symInfo dyldCacheLocalSymbolsInfo
	if err := machoDecode(data, 0, &symInfo); err != nil {
		return 0, false, nil
	}

	dylibOffset := uint32(int64(img.Header) - int64(info.BaseAddress))
	for i := uint32(0); i < symInfo.EntriesCount; i++ {
		var entry dyldCacheLocalSymbolsEntry
		off := int64(symInfo.EntriesOffset) + int64(i)*dyldCacheLocalSymbolsEntrySize
		if err := machoDecode(data, off, &entry); err != nil {
			continue
		}
		if entry.DylibOffset != dylibOffset {
			continue
		}
		for j := uint32(0); j < entry.NlistCount; j++ {
			var sym nlist64
			symOff := int64(symInfo.NlistOffset) + int64(entry.NlistStartIndex+j)*nlistSize
			if err := machoDecode(data, symOff, &sym); err != nil {
				continue
			}
			name := cString(data, int64(symInfo.StringsOffset)+int64(sym.Nstrx))
			if symbolNameMatches(name, symbolName) {
				return uintptr(int64(sym.Nvalue) + info.Slide), true, nil
			}
		}
		return 0, false, nil
	}
	return 0, false, nil
}

// mapLocalSymbols maps the shared cache's local-symbols table: the
// "<Path>.symbols" sidecar file when present, else the live cache's
// localSymbolsOffset/Size range.
func (l *machoSymbolLookup) mapLocalSymbols(info SharedCacheInfo) ([]byte, error) {
	if info.Path == "" {
		return nil, statusError("mapLocalSymbols", Unimplemented)
	}
	if data, err := l.platform.MapFile(info.Path+".symbols", 0, fileSizeHint); err == nil {
		return data, nil
	}
	if info.LocalSymbolsSize == 0 {
		return nil, statusError("mapLocalSymbols", NotFound)
	}
	return l.platform.MapFile(info.Path, int64(info.LocalSymbolsOffset), int64(info.LocalSymbolsSize))
}

func (l *machoSymbolLookup) resolveInImage(img ImageInfo, symbolName string) (uintptr, bool, error) {
	data, err := l.platform.MapFile(img.Path, 0, fileSizeHint)
	if err != nil {
		return 0, false, err
	}

	var hdr machOHeader64
	if err := machoDecode(data, 0, &hdr); err != nil {
		return 0, false, err
	}
	if hdr.Magic != machHeaderMagic64 {
		return 0, false, statusError("resolveInImage", UnexpectedFormat)
	}

	const headerSize = 32
	offset := int64(headerSize)

	var textVMAddr uint64
	haveText := false
	var symtab symtabCommand
	haveSymtab := false

	for i := uint32(0); i < hdr.NCmds; i++ {
		var lc loadCommand
		if err := machoDecode(data, offset, &lc); err != nil {
			return 0, false, err
		}
		switch lc.Cmd {
		case lcSegment64:
			var seg segmentCommand64
			if err := machoDecode(data, offset, &seg); err != nil {
				return 0, false, err
			}
			if machoSegName(seg.SegName) == "__TEXT" && !haveText {
				textVMAddr = seg.VMAddr
				haveText = true
			}
		case lcSymtab:
			if err := machoDecode(data, offset, &symtab); err != nil {
				return 0, false, err
			}
			haveSymtab = true
		}
		offset += int64(lc.CmdSize)
	}

	if !haveSymtab || !haveText {
		return 0, false, statusError("resolveInImage", NotFound)
	}
	slide := int64(img.Header) - int64(textVMAddr)

	for i := uint32(0); i < symtab.Nsyms; i++ {
		var sym nlist64
		if err := machoDecode(data, int64(symtab.Symoff)+int64(i)*nlistSize, &sym); err != nil {
			continue
		}
		name := cString(data, int64(symtab.Stroff)+int64(sym.Nstrx))
		if symbolNameMatches(name, symbolName) {
			return uintptr(int64(sym.Nvalue) + slide), true, nil
		}
	}
	return 0, false, nil
}

func machoSegName(raw [16]byte) string {
	n := bytes.IndexByte(raw[:], 0)
	if n < 0 {
		n = len(raw)
	}
	return string(raw[:n])
}

func machoDecode(data []byte, offset int64, v any) error {
	if offset < 0 || offset >= int64(len(data)) {
		return statusError("machoDecode", UnexpectedFormat)
	}
	return binary.Read(bytes.NewReader(data[offset:]), binary.LittleEndian, v)
}
