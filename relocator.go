// relocator.go - rewrites PC-relative instructions for a new address (component F)
//
// Classification masks below follow the ARMv8 ARM's fixed encoding bits for
// each instruction class; the rewrite rules are grounded on the bit-packing
// already exercised by relocation_test.go and pltgot_aarch64.go.
package archhook

import "fmt"

func isUnconditionalBranch(inst uint32) bool { return inst&0x7C000000 == 0x14000000 }
func isBranchLink(inst uint32) bool          { return inst>>31&1 == 1 }

func isLiteralLoadFixed(inst uint32) bool { return inst&0x3B000000 == 0x18000000 }
func literalLoadOpc(inst uint32) uint32   { return uint32(bits(inst, 30, 31)) }

func isPCRelAddrFixed(inst uint32) bool { return inst&0x1F000000 == 0x10000000 }
func isAdrp(inst uint32) bool           { return inst>>31&1 == 1 }

func isCondBranch(inst uint32) bool    { return inst&0xFF000010 == 0x54000000 }
func isCompareBranch(inst uint32) bool { return inst&0x7E000000 == 0x34000000 }
func isTestBranch(inst uint32) bool    { return inst&0x7E000000 == 0x36000000 }

// Relocate scans the raw instruction words in code (the target's displaced
// entry bytes), rewriting each PC-relative form into a semantically
// equivalent absolute-address sequence emitted into dst, until at least
// minSize bytes of source have been consumed. It returns the number of
// source bytes actually consumed, always a multiple of 4 and always >=
// minSize (spec §4.F: "base.size is updated to the number of bytes actually
// consumed").
//
// baseAddr is the runtime address of code[0]; every PC-relative computation
// uses baseAddr+offset as "the current PC in the original code".
func Relocate(dst *Assembler, baseAddr uint64, code []byte, minSize int) (consumed int, err error) {
	if dst == nil {
		return 0, statusError("Relocate", NullArgument)
	}
	if minSize < 0 {
		return 0, statusError("Relocate", InvalidArgument)
	}

	for consumed < minSize {
		if consumed+4 > len(code) {
			return consumed, statusError("Relocate", MemoryOverflow)
		}
		inst := uint32(code[consumed]) | uint32(code[consumed+1])<<8 |
			uint32(code[consumed+2])<<16 | uint32(code[consumed+3])<<24
		currentPC := baseAddr + uint64(consumed)

		if err := relocateOne(dst, currentPC, inst); err != nil {
			return consumed, err
		}
		consumed += 4
	}
	return consumed, nil
}

func relocateOne(dst *Assembler, currentPC uint64, inst uint32) error {
	switch {
	case isUnconditionalBranch(inst):
		target := uint64(int64(currentPC) + imm26Offset(inst))
		return dst.EmitLiteralLdrBranch(target, isBranchLink(inst))

	case isLiteralLoadFixed(inst):
		return relocateLiteralLoad(dst, currentPC, inst)

	case isPCRelAddrFixed(inst):
		rd := X(uint8(bits(inst, 0, 4)))
		if isAdrp(inst) {
			abs := uint64(int64(currentPC) + immhiImmloZero12Offset(inst))
			pageTrunc := abs &^ 0xfff
			return dst.EmitMovImm64(rd, pageTrunc)
		}
		abs := uint64(int64(currentPC) + immhiImmloOffset(inst))
		return dst.EmitMovImm64(rd, abs)

	case isCondBranch(inst):
		target := uint64(int64(currentPC) + imm19Offset(inst))
		cond := bits(inst, 0, 3)
		inverted := cond ^ 1
		newInst := uint32(0x54000000) | (3 << 5) | uint32(inverted)
		if err := dst.EmitU32(newInst); err != nil {
			return err
		}
		return dst.EmitLiteralLdrBranch(target, false)

	case isCompareBranch(inst):
		target := uint64(int64(currentPC) + imm19Offset(inst))
		const keepMask = 0xFE00001F // sf, fixed op bits, Rt
		flippedZ := ((inst >> 24) & 1) ^ 1
		newInst := (inst & keepMask) | (flippedZ << 24) | (3 << 5)
		if err := dst.EmitU32(newInst); err != nil {
			return err
		}
		return dst.EmitLiteralLdrBranch(target, false)

	case isTestBranch(inst):
		target := uint64(int64(currentPC) + imm14Offset(inst))
		const keepMask = 0xFEF8001F // b5, fixed op bits, b40, Rt
		flippedOp := ((inst >> 24) & 1) ^ 1
		newInst := (inst & keepMask) | (flippedOp << 24) | (3 << 5)
		if err := dst.EmitU32(newInst); err != nil {
			return err
		}
		return dst.EmitLiteralLdrBranch(target, false)

	default:
		return dst.EmitU32(inst)
	}
}

func relocateLiteralLoad(dst *Assembler, currentPC uint64, inst uint32) error {
	abs := uint64(int64(currentPC) + imm19Offset(inst))
	rt := uint8(bits(inst, 0, 4))

	if err := dst.EmitMovImm64(XReg17, abs); err != nil {
		return err
	}

	opc := literalLoadOpc(inst)
	mem := MemOperand{BaseReg: XReg17, Offset: 0, Mode: AddrModeOffset}
	switch opc {
	case 0b00:
		return dst.EmitLoadStore(OpLDRw, W(rt), mem)
	case 0b01:
		return dst.EmitLoadStore(OpLDRx, X(rt), mem)
	default:
		return statusError("relocateLiteralLoad", Unimplemented)
	}
}

// AppendReturnBranch appends the final LDR X17,=returnAddress; BR X17 that
// rejoins the un-patched tail of the original function once the relocated
// prologue has finished running.
func AppendReturnBranch(dst *Assembler, returnAddress uint64) error {
	if dst == nil {
		return statusError("AppendReturnBranch", NullArgument)
	}
	if err := dst.EmitLiteralLdrBranch(returnAddress, false); err != nil {
		return fmt.Errorf("AppendReturnBranch: %w", err)
	}
	return nil
}
