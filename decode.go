// decode.go - instruction field extraction (component E)
package archhook

// signExtend returns value with bits above signBit-1 replaced by a copy of
// bit signBit-1, producing a signed 64-bit offset from an immediate field of
// width signBit. Spec §4.E / testable property 4.
func signExtend(value uint64, signBit uint) int64 {
	if signBit == 0 || signBit >= 64 {
		return int64(value)
	}
	shift := 64 - signBit
	return int64(value<<shift) >> shift
}

func bits(inst uint32, lo, hi uint) uint64 {
	mask := uint64(1)<<(hi-lo+1) - 1
	return uint64(inst>>lo) & mask
}

// imm26Offset extracts the signed word-offset encoded in an unconditional
// branch's 26-bit immediate (B/BL).
func imm26Offset(inst uint32) int64 {
	imm26 := bits(inst, 0, 25)
	return signExtend(imm26<<2, 28)
}

// imm19Offset extracts the signed word-offset encoded in a conditional
// branch, CBZ/CBNZ, or LDR-literal's 19-bit immediate.
func imm19Offset(inst uint32) int64 {
	imm19 := bits(inst, 5, 23)
	return signExtend(imm19<<2, 21)
}

// imm14Offset extracts the signed word-offset encoded in TBZ/TBNZ's 14-bit
// immediate.
func imm14Offset(inst uint32) int64 {
	imm14 := bits(inst, 5, 18)
	return signExtend(imm14<<2, 16)
}

// immhiImmloOffset extracts ADR's byte-granular signed 21-bit immediate
// (immhi:immlo).
func immhiImmloOffset(inst uint32) int64 {
	immlo := bits(inst, 29, 30)
	immhi := bits(inst, 5, 23)
	imm21 := immhi<<2 | immlo
	return signExtend(imm21, 21)
}

// immhiImmloZero12Offset extracts ADRP's page-granular signed immediate:
// the same 21-bit field as ADR, shifted left by 12 to form a byte offset
// measured in whole pages.
func immhiImmloZero12Offset(inst uint32) int64 {
	return immhiImmloOffset(inst) << 12
}

// splitImm21 packs a signed 21-bit value into ADR/ADRP's immhi:immlo fields.
func splitImm21(imm21 int64) (immhi uint32, immlo uint32) {
	u := uint32(imm21) & 0x1fffff
	immlo = u & 0x3
	immhi = (u >> 2) & 0x7ffff
	return immhi, immlo
}
