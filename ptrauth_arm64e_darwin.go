//go:build arm64 && darwin

// ptrauth_arm64e_darwin.go - Apple arm64e pointer-authentication stripping
// and re-signing, exposed as a capability of the platform layer per spec §9
// so the relocator/assembler never has to reason about signed pointers.
package archhook

/*
#include <ptrauth.h>
#include <stdint.h>

static uintptr_t archhook_strip(uintptr_t addr) {
	return (uintptr_t)ptrauth_strip((void *)addr, ptrauth_key_asia);
}

static uintptr_t archhook_sign(uintptr_t addr) {
	return (uintptr_t)ptrauth_sign_unauthenticated((void *)addr, ptrauth_key_asia, 0);
}
*/
import "C"

// stripPointerAuth removes the ASIA pointer-authentication signature from
// addr before the core treats it as a raw code address (spec §4.I:
// "target and replacement are stripped of pointer-authentication
// signatures before use").
func stripPointerAuth(addr uintptr) uintptr {
	return uintptr(C.archhook_strip(C.uintptr_t(addr)))
}

// signPointerAuth re-signs addr with key ASIA before handing it back to the
// caller (spec §4.I: "the returned original is re-signed with key ASIA").
func signPointerAuth(addr uintptr) uintptr {
	return uintptr(C.archhook_sign(C.uintptr_t(addr)))
}
