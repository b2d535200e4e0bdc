// platform.go - capability interface consumed from the OS (spec §6)
//
// Grounded on arch.go's Architecture interface + NewArchitecture factory
// pattern: a narrow capability seam the core is parameterized over, with a
// real implementation selected per build tag and a fake substituted in
// tests.
package archhook

import "io"

// ImageInfo describes one loaded image as reported by image enumeration.
type ImageInfo struct {
	Path   string
	Header uintptr
}

// SharedCacheInfo describes the Apple dyld shared cache's location in the
// current process, when present, plus what the symbol resolver needs to
// locate a loaded image's local symbols without parsing the whole cache
// again (spec §4.J step 3).
type SharedCacheInfo struct {
	BaseAddress uintptr
	Active      bool

	// Path is the shared cache file's on-disk location, used to look for a
	// "<Path>.symbols" sidecar or, failing that, to map the local-symbols
	// region directly out of the live cache file. Empty when unknown.
	Path string

	// Slide is runtime base minus the cache's static/preferred base address
	// (mappings[0].address in the cache header), applied uniformly to every
	// local symbol's n_value.
	Slide int64

	// LocalSymbolsOffset/Size locate the live cache's local-symbols region,
	// used when no "<Path>.symbols" sidecar file exists.
	LocalSymbolsOffset uint64
	LocalSymbolsSize   uint64
}

// Platform is the narrow OS capability surface the core consumes (spec §6
// "Capability interface consumed from the OS"). Production code gets a
// realPlatform selected by build tag; tests inject a fakePlatform.
type Platform interface {
	// PageSize reports the host's virtual memory page size in bytes.
	PageSize() int

	// MapAnonymous reserves size bytes of anonymous memory with no initial
	// access permission, returning its base address.
	MapAnonymous(size int) (uintptr, error)

	// Protect changes the protection of the size bytes starting at addr.
	Protect(addr uintptr, size int, prot Protection) error

	// EnumerateImages lists the images currently loaded in the process.
	EnumerateImages() ([]ImageInfo, error)

	// MapFile maps length bytes of path starting at offset, read-only.
	MapFile(path string, offset, length int64) ([]byte, error)

	// ProcSelfMaps opens /proc/self/maps (Linux only; other platforms
	// return Unimplemented).
	ProcSelfMaps() (io.ReadCloser, error)

	// SharedCacheInfo reports the dyld shared cache location (Apple only;
	// other platforms return Unimplemented).
	SharedCacheInfo() (SharedCacheInfo, error)
}
