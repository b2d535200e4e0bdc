// assembler.go - ARM64 micro-assembler (components C and D)
//
// Encodings here are grounded on the ADRP/ADD bit-packing already present in
// pltgot_aarch64.go's generatePLTARM64 (page-delta split into immhi:immlo)
// and on the register-validated emit style of arm64_instructions.go.
package archhook

import "fmt"

// LoadStoreOp is one of the unsigned-offset LDR/STR opcode bases the
// assembler knows how to emit. The scale used to encode mem operand offsets
// is derived from bits 30-31 of the op value itself (spec §4.C).
type LoadStoreOp uint32

const (
	OpSTRw LoadStoreOp = 0xB9000000
	OpLDRw LoadStoreOp = 0xB9400000
	OpSTRx LoadStoreOp = 0xF9000000
	OpLDRx LoadStoreOp = 0xF9400000
)

func (op LoadStoreOp) scale() uint32 { return (uint32(op) >> 30) & 0x3 }

// AddrMode selects how a MemOperand's offset is interpreted. AddrModeOffset
// is the only mode the assembler supports (spec §4.C).
type AddrMode int

const (
	AddrModeOffset AddrMode = iota
)

// MemOperand describes the addressing mode of an emitted load/store.
type MemOperand struct {
	BaseReg Register
	Offset  int64
	Mode    AddrMode
}

// Assembler is transient per-relocation or per-trampoline emission state: a
// buffer, the literal pool awaiting flush, and (optionally) the address the
// emitted code will ultimately live at (spec §3 "Assembler state").
type Assembler struct {
	buf          *instrBuffer
	pool         []*poolEntry
	fixedAddress uintptr
	fixedRange   *allocSlice
}

// NewAssembler creates an assembler with no fixed target address.
func NewAssembler(name string) *Assembler {
	return &Assembler{buf: newInstrBuffer(name)}
}

// NewFixedAssembler creates an assembler attached to a preallocated
// executable slice, recording the slice's base address and keeping a
// reference to the slice. The emission methods do not read the recorded
// address; the code they emit does not depend on where it is placed.
func NewFixedAssembler(name string, slice *allocSlice) *Assembler {
	return &Assembler{
		buf:          newInstrBuffer(name),
		fixedAddress: slice.addr,
		fixedRange:   slice,
	}
}

// Bytes returns the instructions (and, after FlushLiteralPool, any trailing
// literal data) emitted so far.
func (a *Assembler) Bytes() []byte { return a.buf.Bytes() }

// Len reports the number of bytes emitted so far.
func (a *Assembler) Len() int { return a.buf.Len() }

// Release drops the assembler's references to its buffer, pool, and fixed
// range (buffer, every pool entry and its fixups, the fixed-region
// reference), letting the GC reclaim them instead of an explicit free.
func (a *Assembler) Release() {
	a.buf = nil
	a.pool = nil
	a.fixedRange = nil
}

// EmitU32 appends a raw 32-bit instruction word.
func (a *Assembler) EmitU32(word uint32) error {
	if err := a.buf.appendU32(word); err != nil {
		return wrapError("EmitU32", OutOfMemory, err)
	}
	return nil
}

// EmitLoadStore emits an unsigned-offset LDR/STR. Only AddrModeOffset is
// supported; anything else is rejected with InvalidArgument.
func (a *Assembler) EmitLoadStore(op LoadStoreOp, reg Register, mem MemOperand) error {
	if mem.Mode != AddrModeOffset {
		return statusError("EmitLoadStore", InvalidArgument)
	}
	scale := op.scale()
	imm12 := uint32(mem.Offset>>scale) & 0xfff
	word := uint32(op) | (imm12 << 10) | (uint32(mem.BaseReg.ID()) << 5) | uint32(reg.ID())
	return a.EmitU32(word)
}

// EmitAdrpAdd emits ADRP reg, page(to); ADD reg, reg, to&0xfff, which
// materializes the absolute address `to` into reg when executed with the PC
// at `from`'s page. Requires |to-from| < 2^32 (spec §4.C).
func (a *Assembler) EmitAdrpAdd(reg Register, from, to uint64) error {
	diff := int64(to) - int64(from)
	if diff > (1<<32)-1 || diff <= -(1<<32) {
		return statusError("EmitAdrpAdd", InvalidArgument)
	}
	pageFrom := from &^ 0xfff
	pageTo := to &^ 0xfff
	pageDelta := (int64(pageTo) - int64(pageFrom)) >> 12

	immhi, immlo := splitImm21(pageDelta)
	adrp := 0x90000000 | (immlo << 29) | (immhi << 5) | uint32(reg.ID())
	if err := a.EmitU32(adrp); err != nil {
		return err
	}

	lo12 := uint32(to & 0xfff)
	add := 0x91000000 | (lo12 << 10) | (uint32(reg.ID()) << 5) | uint32(reg.ID())
	return a.EmitU32(add)
}

// EmitMovImm64 materializes an arbitrary 64-bit immediate into reg using
// MOVZ followed by three MOVK instructions. Always four instructions, even
// when upper halves are zero (spec §4.C).
func (a *Assembler) EmitMovImm64(reg Register, imm64 uint64) error {
	rd := uint32(reg.ID())
	movz := 0xD2800000 | (0 << 21) | (uint32(imm64&0xffff) << 5) | rd
	if err := a.EmitU32(movz); err != nil {
		return err
	}
	for hw := uint32(1); hw <= 3; hw++ {
		chunk := uint32((imm64 >> (16 * hw)) & 0xffff)
		movk := 0xF2800000 | (hw << 21) | (chunk << 5) | rd
		if err := a.EmitU32(movk); err != nil {
			return err
		}
	}
	return nil
}

// NewLiteral registers a new 64-bit literal-pool entry that will be
// appended to the buffer when FlushLiteralPool runs.
func (a *Assembler) NewLiteral(value uint64) *poolEntry {
	entry := newPoolEntry(value)
	a.pool = append(a.pool, entry)
	return entry
}

// EmitLdrLiteral appends an LDR-literal fixup referencing entry at the
// current buffer offset, then emits the LDR variant matching reg's class
// and size (spec §4.C).
func (a *Assembler) EmitLdrLiteral(reg Register, entry *poolEntry) error {
	offset := a.buf.Len()
	entry.addFixup(offset)

	var base uint32
	switch {
	case reg.Class() == RegW:
		base = 0x18000000
	case reg.Class() == RegX:
		base = 0x58000000
	case reg.Class() == RegS:
		base = 0x1C000000
	case reg.Class() == RegD:
		base = 0x5C000000
	case reg.Class() == RegQ:
		base = 0x9C000000
	default:
		return statusError("EmitLdrLiteral", InvalidArgument)
	}
	word := base | uint32(reg.ID())
	return a.EmitU32(word)
}

// EmitLiteralLdrBranch creates a pool entry holding targetAddress, loads it
// into X17 via EmitLdrLiteral, then emits BR X17 (or BLR X17 when link is
// true). Used by both the trampoline emitter (component G) and the
// relocator's far-branch rewrite (component F).
func (a *Assembler) EmitLiteralLdrBranch(targetAddress uint64, link bool) error {
	entry := a.NewLiteral(targetAddress)
	if err := a.EmitLdrLiteral(XReg17, entry); err != nil {
		return err
	}
	var br uint32
	if link {
		br = 0xD63F0000 | (uint32(scratchReg) << 5) // BLR X17
	} else {
		br = 0xD61F0000 | (uint32(scratchReg) << 5) // BR X17
	}
	return a.EmitU32(br)
}

// FlushLiteralPool appends every pending pool entry's raw bytes to the
// buffer in insertion order, records each entry's final poolOffset, and
// patches every instruction that referenced it. Pool entries are 8-byte
// aligned by padding with a NOP if necessary, since LDR-literal addresses
// are most naturally 8-byte data.
func (a *Assembler) FlushLiteralPool() error {
	if a.buf.Len()%8 != 0 {
		if err := a.EmitU32(0xD503201F); err != nil { // NOP, pads to 8-byte alignment
			return fmt.Errorf("FlushLiteralPool: padding: %w", err)
		}
	}
	for _, entry := range a.pool {
		entry.poolOffset = a.buf.Len()
		entry.poolOffsetSet = true
		if err := a.buf.appendU64(entry.value()); err != nil {
			return wrapError("FlushLiteralPool", OutOfMemory, err)
		}
	}
	for _, entry := range a.pool {
		if err := entry.patchFixups(a.buf); err != nil {
			return fmt.Errorf("FlushLiteralPool: %w", err)
		}
	}
	return nil
}
