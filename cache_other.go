//go:build !arm64

// cache_other.go - no-op cache maintenance for non-ARM64 build targets
// (module tests run under the host's native GOARCH; only the arm64 build
// actually hooks anything).
package archhook

func clearCache(addr uintptr, size int) {}
