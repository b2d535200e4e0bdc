//go:build arm64

// cache_arm64.go - instruction-cache invalidation after a code write,
// grounded on override_arm64.go's cgo wrapper around
// __builtin___clear_cache, the same compiler builtin used there to make an
// overwritten function prologue visible to the instruction fetcher.
package archhook

/*
#include <stdint.h>
#include <stddef.h>

static void archhook_clear_cache(uintptr_t addr, size_t len) {
	char *start = (char *)addr;
	__builtin___clear_cache(start, start + len);
}
*/
import "C"

// clearCache flushes the instruction cache for the byte range
// [addr, addr+size), required on ARM64 because data and instruction caches
// are not coherent (spec §5 "Instruction-cache coherence").
func clearCache(addr uintptr, size int) {
	C.archhook_clear_cache(C.uintptr_t(addr), C.size_t(size))
}
