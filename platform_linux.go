//go:build linux

// platform_linux.go - real Platform backed by golang.org/x/sys/unix,
// grounded on filewatcher_unix.go's use of the same package for OS
// primitives.
package archhook

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

type realPlatform struct{}

// NewRealPlatform returns the production Platform for the current OS.
func NewRealPlatform() Platform { return realPlatform{} }

func (realPlatform) PageSize() int { return os.Getpagesize() }

func (realPlatform) MapAnonymous(size int) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
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

// EnumerateImages derives the loaded-image list from /proc/self/maps: one
// entry per distinct backing file, based at its first readable mapping. The
// mapping's contents are not checked for an ELF header. symtab_elf.go
// re-parses /proc/self/maps independently for symbol resolution.
func (p realPlatform) EnumerateImages() ([]ImageInfo, error) {
	f, err := p.ProcSelfMaps()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := map[string]bool{}
	var images []ImageInfo
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[len(fields)-1]
		if path == "" || strings.HasPrefix(path, "[") || seen[path] {
			continue
		}
		perms := fields[1]
		if !strings.Contains(perms, "r") {
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
		images = append(images, ImageInfo{Path: path, Header: base})
	}
	if err := sc.Err(); err != nil {
		return nil, wrapError("EnumerateImages", UnexpectedFormat, err)
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
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, wrapError("ProcSelfMaps", ProcMapsOpen, err)
	}
	return f, nil
}

func (realPlatform) SharedCacheInfo() (SharedCacheInfo, error) {
	return SharedCacheInfo{}, statusError("SharedCacheInfo", Unimplemented)
}

func parseHexAddr(s string) (uintptr, error) {
	var v uintptr
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uintptr(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uintptr(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uintptr(c-'A') + 10
		default:
			return 0, statusError("parseHexAddr", UnexpectedFormat)
		}
	}
	return v, nil
}
