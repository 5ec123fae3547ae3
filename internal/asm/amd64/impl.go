package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tracejit/rv2amd64/internal/asm"
)

// labelNode is a bind-once position marker. It is never itself emitted as
// bytes; AssignJumpTarget is a no-op because labels are the target of a
// jump, never the source.
type labelNode struct {
	bound  bool
	offset uint64
}

func (l *labelNode) AssignJumpTarget(asm.Node) {}
func (l *labelNode) OffsetInBinary() uint64    { return l.offset }
func (l *labelNode) String() string {
	if !l.bound {
		return "label<unbound>"
	}
	return fmt.Sprintf("label@%#x", l.offset)
}

// jumpNode represents an emitted jump instruction whose 32-bit relative
// displacement is back-patched once its target label is known to be bound,
// the usual two-pass resolution a forward branch reference needs.
type jumpNode struct {
	instruction asm.Instruction
	// patchOffset is the buffer index of the little-endian rel32 field.
	patchOffset int
	target      *labelNode
}

func (j *jumpNode) AssignJumpTarget(n asm.Node) { j.target = n.(*labelNode) }
func (j *jumpNode) OffsetInBinary() uint64      { return uint64(j.patchOffset) }
func (j *jumpNode) String() string {
	return fmt.Sprintf("%s {%v}", InstructionName(j.instruction), j.target)
}

// Assembler is a minimal, hand-rolled x86-64 encoder scoped to the
// mnemonics the trace compiler emits. It owns a single contiguous code
// buffer, exclusively, appending bytes as each Compile* call is made and
// leaving rel32 placeholders for not-yet-bound jump targets, resolved in
// Assemble.
type Assembler struct {
	buf        []byte
	jumps      []*jumpNode
	errHandler func(error)
	firstErr   error
}

// NewAssembler returns a ready-to-use Assembler with an empty code buffer.
func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) OnError(handler func(error)) { a.errHandler = handler }

func (a *Assembler) fail(err error) {
	if a.firstErr == nil {
		a.firstErr = err
	}
	if a.errHandler != nil {
		a.errHandler(err)
	}
}

func (a *Assembler) NewLabel() asm.Node { return &labelNode{} }

func (a *Assembler) Bind(n asm.Node) {
	l := n.(*labelNode)
	l.bound = true
	l.offset = uint64(len(a.buf))
}

func (a *Assembler) Assemble() ([]byte, error) {
	if a.firstErr != nil {
		return nil, a.firstErr
	}
	for _, j := range a.jumps {
		if j.target == nil || !j.target.bound {
			err := errors.Errorf("asm/amd64: unbound jump target for %s", InstructionName(j.instruction))
			a.fail(err)
			return nil, err
		}
		rel := int64(j.target.offset) - int64(j.patchOffset+4)
		if rel > 1<<31-1 || rel < -(1<<31) {
			err := errors.Errorf("asm/amd64: jump displacement %d out of rel32 range", rel)
			a.fail(err)
			return nil, err
		}
		binary.LittleEndian.PutUint32(a.buf[j.patchOffset:], uint32(int32(rel)))
	}
	return a.buf, nil
}

// --- low-level byte helpers -------------------------------------------------

func (a *Assembler) emit(bs ...byte) { a.buf = append(a.buf, bs...) }

func (a *Assembler) emitREX(w, r, x, b bool) {
	if !w && !r && !x && !b {
		return
	}
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	a.emit(rex)
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

// emitRegDirect writes a mod=11 ModRM byte addressing rmReg directly, with
// regField holding either the opcode-extension digit or the other operand's
// register number.
func (a *Assembler) emitRegDirect(regField byte, rmReg asm.Register) {
	a.emit(modrm(3, regField, regNum(rmReg)))
}

// emitMem writes the ModRM (+ SIB if the base register requires the escape,
// see needsSIB) and disp32 for [mem.Base + mem.Disp], with regField holding
// either the opcode-extension digit or the other operand's register number.
// mod=10 (disp32) is used unconditionally: this is never the smallest
// possible encoding, but it is always correct, and near-optimal is enough
// for a code generator that isn't chasing maximally-compact sequences.
func (a *Assembler) emitMem(regField byte, mem asm.Mem) {
	base := regNum(mem.Base)
	if needsSIB(mem.Base) {
		a.emit(modrm(2, regField, 4))
		a.emit(0x24 | (base&7)<<0) // SIB: scale=00, index=100 (none), base=base
	} else {
		a.emit(modrm(2, regField, base))
	}
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], uint32(int32(mem.Disp)))
	a.emit(disp[:]...)
}

func putImm32(buf []byte, v int64) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
	return append(buf, b[:]...)
}

func putImm64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

// aluOp holds, for one ALU mnemonic in aluTable, its opcode bytes for the
// 32/64-bit register and memory-source forms, and the /digit used by the
// opcode-81 (r/m, imm32) immediate-group form. Shifts use shiftDigit.
type aluOp struct {
	rmRegOpcode byte // op r/m, r   (storing direction: rm <- rm OP reg)
	regRmOpcode byte // op r, r/m   (loading direction: reg <- reg OP rm), used for memory sources
	digit       byte // ModRM.reg digit for the opcode-81 immediate-group form
}

var aluTable = map[asm.Instruction]aluOp{
	ADDQ: {rmRegOpcode: 0x01, regRmOpcode: 0x03, digit: 0},
	ADDL: {rmRegOpcode: 0x01, regRmOpcode: 0x03, digit: 0},
	ORQ:  {rmRegOpcode: 0x09, regRmOpcode: 0x0B, digit: 1},
	ORL:  {rmRegOpcode: 0x09, regRmOpcode: 0x0B, digit: 1},
	ANDQ: {rmRegOpcode: 0x21, regRmOpcode: 0x23, digit: 4},
	ANDL: {rmRegOpcode: 0x21, regRmOpcode: 0x23, digit: 4},
	SUBQ: {rmRegOpcode: 0x29, regRmOpcode: 0x2B, digit: 5},
	SUBL: {rmRegOpcode: 0x29, regRmOpcode: 0x2B, digit: 5},
	XORQ: {rmRegOpcode: 0x31, regRmOpcode: 0x33, digit: 6},
	XORL: {rmRegOpcode: 0x31, regRmOpcode: 0x33, digit: 6},
	CMPQ: {rmRegOpcode: 0x39, regRmOpcode: 0x3B, digit: 7},
	CMPL: {rmRegOpcode: 0x39, regRmOpcode: 0x3B, digit: 7},
}

func is64(instruction asm.Instruction) bool {
	switch instruction {
	case ADDQ, SUBQ, ANDQ, ORQ, XORQ, CMPQ, NEGQ, SHLQ, SHRQ, SARQ, MOVQ,
		MOVBQSX, MOVBQZX, MOVWQSX, MOVWQZX, MOVLQSX, PUSHQ, POPQ:
		return true
	}
	return false
}

// --- Emitter implementation --------------------------------------------------

func (a *Assembler) CompileStandAlone(instruction asm.Instruction) asm.Node {
	switch instruction {
	case RET:
		a.emit(0xC3)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported stand-alone instruction %s", InstructionName(instruction)))
	}
	return nil
}

func (a *Assembler) CompileRegisterToRegister(instruction asm.Instruction, src, dst asm.Register) {
	if op, ok := aluTable[instruction]; ok {
		w := is64(instruction)
		a.emitREX(w, isExtended(src), false, isExtended(dst))
		a.emit(op.rmRegOpcode)
		a.emitRegDirect(regNum(src), dst)
		return
	}
	switch instruction {
	case MOVQ, MOVL:
		w := instruction == MOVQ
		a.emitREX(w, isExtended(src), false, isExtended(dst))
		a.emit(0x89)
		a.emitRegDirect(regNum(src), dst)
	case MOVBQZX, MOVBQSX:
		// ModRM.reg names dst and ModRM.rm names src, so REX.R goes with dst
		// and REX.B with src. MOVBQSX needs REX.W to sign-extend into all
		// 64 bits; MOVBQZX's 32-bit write already zero-extends.
		if instruction == MOVBQSX {
			a.emitREX(true, isExtended(dst), false, isExtended(src))
		} else {
			a.emitByteREX(dst, src)
		}
		a.emit(0x0F, byteExtOpcode(instruction))
		a.emitRegDirect(regNum(dst), src)
	case MOVWQZX, MOVWQSX:
		a.emitREX(true, isExtended(dst), false, isExtended(src))
		a.emit(0x0F, byteExtOpcode(instruction))
		a.emitRegDirect(regNum(dst), src)
	case MOVLQSX:
		a.emitREX(true, isExtended(dst), false, isExtended(src))
		a.emit(0x63)
		a.emitRegDirect(regNum(dst), src)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported register-to-register instruction %s", InstructionName(instruction)))
	}
}

// emitByteREX emits the REX prefix for an 8-bit-operand instruction,
// forcing a (no-op) REX byte whenever either operand is RSP/RBP/RSI/RDI:
// without REX those ModRM encodings name AH/CH/DH/BH instead of the low
// byte of RSP/RBP/RSI/RDI.
func (a *Assembler) emitByteREX(a1, a2 asm.Register) {
	force := needsByteREX(a1) || needsByteREX(a2)
	r, b := isExtended(a1), isExtended(a2)
	if force && !r && !b {
		a.emit(0x40)
		return
	}
	a.emitREX(false, r, false, b)
}

func needsByteREX(reg asm.Register) bool {
	n := regNum(reg)
	return n >= 4 && n <= 7 && !isExtended(reg)
}

func byteExtOpcode(instruction asm.Instruction) byte {
	switch instruction {
	case MOVBQZX:
		return 0xB6
	case MOVBQSX:
		return 0xBE
	case MOVWQZX:
		return 0xB7
	case MOVWQSX:
		return 0xBF
	}
	return 0
}

func (a *Assembler) CompileConstToRegister(instruction asm.Instruction, value int64, dst asm.Register) {
	switch instruction {
	case MOVQ:
		a.emitREX(true, false, false, isExtended(dst))
		a.emit(0xB8 + regNum(dst)&7)
		a.buf = putImm64(a.buf, value)
	case MOVL:
		a.emitREX(false, false, false, isExtended(dst))
		a.emit(0xB8 + regNum(dst)&7)
		a.buf = putImm32(a.buf, value)
	case ADDQ, SUBQ, ANDQ, ORQ, XORQ, ADDL, SUBL, ANDL, ORL, XORL:
		op := aluTable[instruction]
		a.emitREX(is64(instruction), false, false, isExtended(dst))
		a.emit(0x81)
		a.emitRegDirect(op.digit, dst)
		a.buf = putImm32(a.buf, value)
	case SHLQ, SHRQ, SARQ, SHLL, SHRL, SARL:
		a.emitREX(is64(instruction), false, false, isExtended(dst))
		a.emit(0xC1)
		a.emitRegDirect(shiftDigit(instruction), dst)
		a.emit(byte(value))
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported const-to-register instruction %s", InstructionName(instruction)))
	}
}

func shiftDigit(instruction asm.Instruction) byte {
	switch instruction {
	case SHLQ, SHLL:
		return 4
	case SHRQ, SHRL:
		return 5
	case SARQ, SARL:
		return 7
	}
	return 0
}

// CompileRegisterOnly covers three distinct single-register shapes selected
// by instruction: NEGQ/NEGL (unary r/m), PUSHQ/POPQ (stack op), and
// SHLQ/SHRQ/SARQ/SHLL/SHRL/SARL used here to mean "shift dst by the count
// in CL" (the implicit-CL shift form, as opposed to CompileConstToRegister
// which means "shift dst by an immediate count").
func (a *Assembler) CompileRegisterOnly(instruction asm.Instruction, reg asm.Register) {
	switch instruction {
	case NEGQ, NEGL:
		a.emitREX(is64(instruction), false, false, isExtended(reg))
		a.emit(0xF7)
		a.emitRegDirect(3, reg)
	case PUSHQ:
		a.emitREX(false, false, false, isExtended(reg))
		a.emit(0x50 + regNum(reg)&7)
	case POPQ:
		a.emitREX(false, false, false, isExtended(reg))
		a.emit(0x58 + regNum(reg)&7)
	case SHLQ, SHRQ, SARQ, SHLL, SHRL, SARL:
		a.emitREX(is64(instruction), false, false, isExtended(reg))
		a.emit(0xD3)
		a.emitRegDirect(shiftDigit(instruction), reg)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported register-only instruction %s", InstructionName(instruction)))
	}
}

func (a *Assembler) CompileMemoryOnly(instruction asm.Instruction, mem asm.Mem) {
	switch instruction {
	case NEGQ, NEGL:
		a.emitREX(is64(instruction), false, false, isExtended(mem.Base))
		a.emit(0xF7)
		a.emitMem(3, mem)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported memory-only instruction %s", InstructionName(instruction)))
	}
}

func (a *Assembler) CompileMemoryToRegister(instruction asm.Instruction, src asm.Mem, dst asm.Register) {
	if op, ok := aluTable[instruction]; ok {
		a.emitREX(is64(instruction), isExtended(dst), false, isExtended(src.Base))
		a.emit(op.regRmOpcode)
		a.emitMem(regNum(dst), src)
		return
	}
	switch instruction {
	case MOVQ, MOVL:
		w := instruction == MOVQ
		a.emitREX(w, isExtended(dst), false, isExtended(src.Base))
		a.emit(0x8B)
		a.emitMem(regNum(dst), src)
	case MOVW:
		a.emit(0x66)
		a.emitREX(false, isExtended(dst), false, isExtended(src.Base))
		a.emit(0x8B)
		a.emitMem(regNum(dst), src)
	case MOVB:
		a.emitByteREXMem(dst, src.Base)
		a.emit(0x8A)
		a.emitMem(regNum(dst), src)
	case MOVBQZX, MOVBQSX, MOVWQZX, MOVWQSX:
		a.emitREX(true, isExtended(dst), false, isExtended(src.Base))
		a.emit(0x0F, byteExtOpcode(instruction))
		a.emitMem(regNum(dst), src)
	case MOVLQSX:
		a.emitREX(true, isExtended(dst), false, isExtended(src.Base))
		a.emit(0x63)
		a.emitMem(regNum(dst), src)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported memory-to-register instruction %s", InstructionName(instruction)))
	}
}

func (a *Assembler) emitByteREXMem(reg, base asm.Register) {
	force := needsByteREX(reg)
	r, b := isExtended(reg), isExtended(base)
	if force && !r && !b {
		a.emit(0x40)
		return
	}
	a.emitREX(false, r, false, b)
}

func (a *Assembler) CompileRegisterToMemory(instruction asm.Instruction, src asm.Register, dst asm.Mem) {
	switch instruction {
	case MOVQ, MOVL:
		w := instruction == MOVQ
		a.emitREX(w, isExtended(src), false, isExtended(dst.Base))
		a.emit(0x89)
		a.emitMem(regNum(src), dst)
	case MOVW:
		a.emit(0x66)
		a.emitREX(false, isExtended(src), false, isExtended(dst.Base))
		a.emit(0x89)
		a.emitMem(regNum(src), dst)
	case MOVB:
		a.emitByteREXMem(src, dst.Base)
		a.emit(0x88)
		a.emitMem(regNum(src), dst)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported register-to-memory instruction %s", InstructionName(instruction)))
	}
}

func (a *Assembler) CompileConstToMemory(instruction asm.Instruction, value int64, dst asm.Mem) {
	switch instruction {
	case MOVQ:
		a.emitREX(true, false, false, isExtended(dst.Base))
		a.emit(0xC7)
		a.emitMem(0, dst)
		a.buf = putImm32(a.buf, value)
	case MOVL:
		a.emitREX(false, false, false, isExtended(dst.Base))
		a.emit(0xC7)
		a.emitMem(0, dst)
		a.buf = putImm32(a.buf, value)
	case MOVW:
		a.emit(0x66)
		a.emitREX(false, false, false, isExtended(dst.Base))
		a.emit(0xC7)
		a.emitMem(0, dst)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(value))
		a.emit(b[:]...)
	case MOVB:
		a.emitREX(false, false, false, isExtended(dst.Base))
		a.emit(0xC6)
		a.emitMem(0, dst)
		a.emit(byte(value))
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported const-to-memory instruction %s", InstructionName(instruction)))
	}
}

func (a *Assembler) CompileMemoryToConst(instruction asm.Instruction, src asm.Mem, value int64) {
	op, ok := aluTable[instruction]
	if !ok {
		a.fail(errors.Errorf("asm/amd64: unsupported memory-to-const instruction %s", InstructionName(instruction)))
		return
	}
	a.emitREX(is64(instruction), false, false, isExtended(src.Base))
	a.emit(0x81)
	a.emitMem(op.digit, src)
	a.buf = putImm32(a.buf, value)
}

func (a *Assembler) CompileRegisterToConst(instruction asm.Instruction, src asm.Register, value int64) {
	switch instruction {
	case CMPQ, CMPL:
		op := aluTable[instruction]
		a.emitREX(is64(instruction), false, false, isExtended(src))
		a.emit(0x81)
		a.emitRegDirect(op.digit, src)
		a.buf = putImm32(a.buf, value)
	case SETL, SETB:
		// SETcc takes no immediate; value is ignored. Kept on this method so
		// callers that conditionally need "set from flags" can share the
		// const-bearing call shape used immediately after emit_cmp.
		a.emitByteREX(src, src)
		a.emit(0x0F, setCCOpcode(instruction))
		a.emitRegDirect(0, src)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported register-to-const instruction %s", InstructionName(instruction)))
	}
}

func setCCOpcode(instruction asm.Instruction) byte {
	switch instruction {
	case SETL:
		return 0x9C
	case SETB:
		return 0x92
	}
	return 0
}

func (a *Assembler) CompileJump(instruction asm.Instruction) asm.Node {
	a.emitJumpOpcode(instruction)
	patch := len(a.buf)
	a.buf = putImm32(a.buf, 0)
	j := &jumpNode{instruction: instruction, patchOffset: patch}
	a.jumps = append(a.jumps, j)
	return j
}

func (a *Assembler) CompileJumpToLabel(instruction asm.Instruction, target asm.Node) {
	j := a.CompileJump(instruction).(*jumpNode)
	j.target = target.(*labelNode)
}

func (a *Assembler) emitJumpOpcode(instruction asm.Instruction) {
	switch instruction {
	case JMP:
		a.emit(0xE9)
	case JE:
		a.emit(0x0F, 0x84)
	case JNE:
		a.emit(0x0F, 0x85)
	case JL:
		a.emit(0x0F, 0x8C)
	case JGE:
		a.emit(0x0F, 0x8D)
	case JB:
		a.emit(0x0F, 0x82)
	case JAE:
		a.emit(0x0F, 0x83)
	default:
		a.fail(errors.Errorf("asm/amd64: unsupported jump instruction %s", InstructionName(instruction)))
	}
}
