// trampoline.go - short branch written at a hooked target (component G)
package archhook

import "math"

// trampolineFarThreshold is a conservative cutoff (distance < UINT32_MAX - 1)
// rather than the full ±4GiB range ADRP can technically reach.
const trampolineFarThreshold = uint64(math.MaxUint32) - 1

// BuildTrampoline emits the short code sequence written at a hooked
// target's entry that transfers control to replacement (spec §4.G):
//
//   - near form (|to-from| < trampolineFarThreshold): ADRP X17, to; ADD
//     X17, X17, to&0xFFF; BR X17 — 12 bytes.
//   - far form: LDR X17, =to; BR X17 plus an 8-byte literal — 16 bytes
//     after the pool flush.
func BuildTrampoline(from, to uint64) (*Assembler, error) {
	a := NewAssembler("trampoline")

	var distance uint64
	if to >= from {
		distance = to - from
	} else {
		distance = from - to
	}

	if distance < trampolineFarThreshold {
		if err := a.EmitAdrpAdd(XReg17, from, to); err != nil {
			a.Release()
			return nil, err
		}
		br := uint32(0xD61F0000) | (uint32(scratchReg) << 5)
		if err := a.EmitU32(br); err != nil {
			a.Release()
			return nil, err
		}
		return a, nil
	}

	if err := a.EmitLiteralLdrBranch(to, false); err != nil {
		a.Release()
		return nil, err
	}
	if err := a.FlushLiteralPool(); err != nil {
		a.Release()
		return nil, err
	}
	return a, nil
}
