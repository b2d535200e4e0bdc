// fixup.go - literal-pool entries and their pending fixups (component C)
package archhook

import "fmt"

// linkKind identifies how a fixup patches its referring instruction. Only
// LabelImm19 exists today (spec §3): patch bits 5-23 of the instruction at
// offsetInBuffer with (poolOffset-instructionOffset)>>2.
type linkKind int

const (
	linkLabelImm19 linkKind = iota
)

// fixupEntry is a single pending patch: once the literal pool's final offset
// in the instruction buffer is known, the instruction at offsetInBuffer gets
// its imm19 field rewritten to point at it.
type fixupEntry struct {
	kind           linkKind
	offsetInBuffer int
}

// poolEntry holds one 64-bit literal-pool constant together with the
// fixups (LDR literal instructions) that reference it. dataSize is always 8
// in this implementation (every pool entry here holds an address or a
// MOV-able 64-bit immediate), but the field exists to keep the struct
// shape honest about every pool entry holding a fixed-size 64-bit datum.
type poolEntry struct {
	data           [8]byte
	dataSize       int
	poolOffset     int // set once the entry is appended to the buffer
	poolOffsetSet  bool
	fixups         []fixupEntry
}

func newPoolEntry(value uint64) *poolEntry {
	p := &poolEntry{dataSize: 8}
	for i := 0; i < 8; i++ {
		p.data[i] = byte(value >> (8 * i))
	}
	return p
}

func (p *poolEntry) value() uint64 {
	var v uint64
	for i := 0; i < p.dataSize && i < 8; i++ {
		v |= uint64(p.data[i]) << (8 * i)
	}
	return v
}

func (p *poolEntry) addFixup(offsetInBuffer int) {
	p.fixups = append(p.fixups, fixupEntry{kind: linkLabelImm19, offsetInBuffer: offsetInBuffer})
}

// patchFixups rewrites imm19 in every instruction that referenced this pool
// entry, now that its final poolOffset is known. Spec §4.C: imm19 bits 5-23
// get (poolOffset-instructionOffset)>>2.
func (p *poolEntry) patchFixups(buf *instrBuffer) error {
	if !p.poolOffsetSet {
		return fmt.Errorf("patchFixups: pool entry has not been flushed to the buffer yet")
	}
	for _, f := range p.fixups {
		switch f.kind {
		case linkLabelImm19:
			word, err := buf.u32At(f.offsetInBuffer)
			if err != nil {
				return fmt.Errorf("patchFixups: reading instruction at %d: %w", f.offsetInBuffer, err)
			}
			delta := (p.poolOffset - f.offsetInBuffer) >> 2
			imm19 := uint32(delta) & 0x7ffff
			word = (word &^ (0x7ffff << 5)) | (imm19 << 5)
			if err := buf.patchU32At(f.offsetInBuffer, word); err != nil {
				return fmt.Errorf("patchFixups: patching instruction at %d: %w", f.offsetInBuffer, err)
			}
		default:
			return fmt.Errorf("patchFixups: unhandled link kind %d", f.kind)
		}
	}
	return nil
}
