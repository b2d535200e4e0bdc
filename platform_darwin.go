//go:build darwin

// platform_darwin.go - real Platform for Apple targets: golang.org/x/sys/unix
// for page primitives (as filewatcher_darwin.go already does), plus a small
// cgo shim over dyld's image-enumeration and shared-cache APIs, grounded on
// override_arm64.go's precedent for a minimal cgo helper around a single
// libc/runtime facility.
package archhook

/*
#include <mach-o/dyld.h>
#include <mach-o/dyld_images.h>
#include <stdint.h>

static uint32_t archhook_image_count(void) {
	return _dyld_image_count();
}

static const char *archhook_image_name(uint32_t idx) {
	return _dyld_get_image_name(idx);
}

static uintptr_t archhook_image_header(uint32_t idx) {
	return (uintptr_t)_dyld_get_image_header(idx);
}

static uintptr_t archhook_shared_cache_range(size_t *out_len) {
	return (uintptr_t)_dyld_get_shared_cache_range(out_len);
}

// dyld_shared_cache_file_path is a dyld SPI (mach-o/dyld_priv.h, not always
// present in the public SDK) resolved at link time against libdyld, which is
// present in every process; declared here rather than pulling in the private
// header.
extern const char *dyld_shared_cache_file_path(void);

static const char *archhook_shared_cache_path(void) {
	return dyld_shared_cache_file_path();
}
*/
import "C"

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type realPlatform struct{}

// NewRealPlatform returns the production Platform for the current OS.
func NewRealPlatform() Platform { return realPlatform{} }

func (realPlatform) PageSize() int { return os.Getpagesize() }

func (realPlatform) MapAnonymous(size int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafePointer(b)), nil
}

func (realPlatform) Protect(addr uintptr, size int, prot Protection) error {
	b := bytesAt(addr, size)
	return unix.Mprotect(b, protectionToUnix(prot))
}

func protectionToUnix(prot Protection) int {
	switch prot {
	case ProtNone:
		return unix.PROT_NONE
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtReadExec:
		return unix.PROT_READ | unix.PROT_EXEC
	case ProtReadWriteExec:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	default:
		return unix.PROT_NONE
	}
}

// EnumerateImages walks the dyld image list via _dyld_image_count /
// _dyld_get_image_name / _dyld_get_image_header (spec §4.J step 1).
func (realPlatform) EnumerateImages() ([]ImageInfo, error) {
	count := int(C.archhook_image_count())
	images := make([]ImageInfo, 0, count)
	for i := 0; i < count; i++ {
		name := C.archhook_image_name(C.uint32_t(i))
		header := C.archhook_image_header(C.uint32_t(i))
		images = append(images, ImageInfo{
			Path:   C.GoString(name),
			Header: uintptr(header),
		})
	}
	return images, nil
}

func (realPlatform) MapFile(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapError("MapFile", FileIO, err)
	}
	defer f.Close()
	b, err := unix.Mmap(int(f.Fd()), offset, int(length), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, wrapError("MapFile", MemoryMapping, err)
	}
	return b, nil
}

func (realPlatform) ProcSelfMaps() (io.ReadCloser, error) {
	return nil, statusError("ProcSelfMaps", Unimplemented)
}

// dyldCacheHeader mirrors the leading fields of dyld_cache_header (dyld's
// private dyld_cache_format.h), decoded with encoding/binary rather than a
// cgo struct overlay since only the header's first few fields are needed.
// The blank field reproduces the C compiler's alignment padding before the
// first uint64 member.
type dyldCacheHeader struct {
	Magic                 [16]byte
	MappingOffset         uint32
	MappingCount          uint32
	ImagesOffsetOld       uint32
	ImagesCountOld        uint32
	DyldBaseAddress       uint32
	_                     uint32
	CodeSignatureOffset   uint64
	CodeSignatureSize     uint64
	SlideInfoOffsetUnused uint64
	SlideInfoSizeUnused   uint64
	LocalSymbolsOffset    uint64
	LocalSymbolsSize      uint64
}

// dyldCacheMappingInfo mirrors dyld_cache_mapping_info; mappings[0].address
// is the cache's preferred/static base, used to compute the runtime slide.
type dyldCacheMappingInfo struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	MaxProt    uint32
	InitProt   uint32
}

// SharedCacheInfo reports the dyld shared cache's mapped range, on-disk
// path, runtime slide, and local-symbols region, used by the Mach-O
// resolver's shared-cache fast path (spec §4.J step 3).
func (realPlatform) SharedCacheInfo() (SharedCacheInfo, error) {
	var length C.size_t
	base := C.archhook_shared_cache_range(&length)
	if uintptr(base) == 0 {
		return SharedCacheInfo{}, nil
	}
	info := SharedCacheInfo{BaseAddress: uintptr(base), Active: true}

	if rawPath := C.archhook_shared_cache_path(); rawPath != nil {
		info.Path = C.GoString(rawPath)
	}

	const headerSize = 88 // through LocalSymbolsSize; later dyld_cache_header fields are unused here
	header := bytesAt(uintptr(base), headerSize)
	var hdr dyldCacheHeader
	if err := binary.Read(bytes.NewReader(header), binary.LittleEndian, &hdr); err != nil {
		return info, nil
	}
	info.LocalSymbolsOffset = hdr.LocalSymbolsOffset
	info.LocalSymbolsSize = hdr.LocalSymbolsSize

	if hdr.MappingCount > 0 {
		const mappingInfoSize = 32
		mapping := bytesAt(uintptr(base)+uintptr(hdr.MappingOffset), mappingInfoSize)
		var m dyldCacheMappingInfo
		if err := binary.Read(bytes.NewReader(mapping), binary.LittleEndian, &m); err == nil {
			info.Slide = int64(base) - int64(m.Address)
		}
	}

	return info, nil
}
