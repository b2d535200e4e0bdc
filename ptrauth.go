// ptrauth.go - pointer-authentication capability (spec §9: "treat
// stripping/signing as a capability the platform layer exposes; core logic
// works with raw addresses"). Default build: identity, since PAC only
// exists on Apple arm64e.
//go:build !(arm64 && darwin)

package archhook

func stripPointerAuth(addr uintptr) uintptr { return addr }

func signPointerAuth(addr uintptr) uintptr { return addr }
