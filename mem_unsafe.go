// mem_unsafe.go - raw address <-> slice conversions shared by the patcher
// and the real Platform implementations. Inline hooking is inherently
// unsafe-pointer territory: there is no safe Go API for "write these bytes
// at this process address."
package archhook

import "unsafe"

// bytesAt views size bytes starting at addr as a slice, for handing to
// unix.Mprotect/Mmap-style APIs that expect a []byte covering the target
// region.
func bytesAt(addr uintptr, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// unsafePointer returns the address of b's backing array.
func unsafePointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// memcpyTo copies data into size bytes of process memory starting at addr.
func memcpyTo(addr uintptr, data []byte) {
	dst := bytesAt(addr, len(data))
	copy(dst, data)
}

// memcpyFrom reads size bytes of process memory starting at addr.
func memcpyFrom(addr uintptr, size int) []byte {
	src := bytesAt(addr, size)
	out := make([]byte, size)
	copy(out, src)
	return out
}
