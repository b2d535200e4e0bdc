// membuf.go - growable instruction buffer (component B)
package archhook

import (
	"encoding/binary"
	"fmt"
)

// instrBuffer is a growable byte buffer for emitted machine code. Capacity
// doubles on overflow, matching spec §4.B; size never exceeds capacity.
//
// Unlike a debug-oriented SafeBuffer, this buffer has no commit/lifecycle
// lock — the assembler that owns it is transient and single-purpose, so
// there is nothing to protect against reuse.
type instrBuffer struct {
	bytes []byte
	name  string // for diagnostics only, mirrors SafeBuffer's debug name
}

const initialBufferCapacity = 64

func newInstrBuffer(name string) *instrBuffer {
	return &instrBuffer{
		bytes: make([]byte, 0, initialBufferCapacity),
		name:  name,
	}
}

// Len reports the number of bytes written so far.
func (b *instrBuffer) Len() int { return len(b.bytes) }

// Bytes returns the buffer's contents. The returned slice aliases the
// buffer's backing array and is only valid until the next append.
func (b *instrBuffer) Bytes() []byte { return b.bytes }

// append grows the buffer, doubling capacity as needed, and copies p in.
func (b *instrBuffer) append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	needed := len(b.bytes) + len(p)
	if cap(b.bytes) < needed {
		newCap := cap(b.bytes)
		if newCap == 0 {
			newCap = initialBufferCapacity
		}
		for newCap < needed {
			newCap *= 2
		}
		grown := make([]byte, len(b.bytes), newCap)
		copy(grown, b.bytes)
		b.bytes = grown
	}
	b.bytes = append(b.bytes, p...)
	return nil
}

// appendU32 appends a single little-endian 32-bit ARM64 instruction word.
// This is the common case emitted by every assembler primitive.
func (b *instrBuffer) appendU32(word uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], word)
	return b.append(tmp[:])
}

// appendU64 appends a little-endian 64-bit value, used when flushing
// literal-pool entries into the instruction stream.
func (b *instrBuffer) appendU64(value uint64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], value)
	return b.append(tmp[:])
}

// patchU32At overwrites the 4 bytes at offset with word, used by the fixup
// pass once a literal pool entry's final offset is known.
func (b *instrBuffer) patchU32At(offset int, word uint32) error {
	if offset < 0 || offset+4 > len(b.bytes) {
		return fmt.Errorf("patchU32At: offset %d out of range for buffer of length %d", offset, len(b.bytes))
	}
	binary.LittleEndian.PutUint32(b.bytes[offset:offset+4], word)
	return nil
}

// u32At reads the 4-byte instruction at offset without mutating the buffer.
func (b *instrBuffer) u32At(offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(b.bytes) {
		return 0, fmt.Errorf("u32At: offset %d out of range for buffer of length %d", offset, len(b.bytes))
	}
	return binary.LittleEndian.Uint32(b.bytes[offset : offset+4]), nil
}
