package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// lowerAluReg lowers rd = rs1 OP rs2 for the three-operand ALU opcodes
// (add/sub/and/or/xor). When rd already shares rs1's bound host register
// the operation runs in place; otherwise rs1's value is staged through
// scratch0 first. skipZero lets the rs2==x0 case skip emitting the
// operation altogether for opcodes where OP(x, 0) == x (add/sub/or/xor;
// not and).
func (l *lowering) lowerAluReg(e asm.Emitter, instr asm.Instruction, rd, rs1, rs2 rvtrace.Reg, skipZero bool) {
	if host, ok := l.inPlace(rd, rs1); ok {
		l.applyRegOperand(e, instr, rs2, host, skipZero)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	l.applyRegOperand(e, instr, rs2, scratch0, skipZero)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerAluRegW is lowerAluReg's width-32 counterpart (addw/subw): the ALU
// op runs on the 32-bit register view and the result is sign-extended back
// to 64 bits before it reaches rd, per RV64's *w semantics.
func (l *lowering) lowerAluRegW(e asm.Emitter, instr32 asm.Instruction, rd, rs1, rs2 rvtrace.Reg, skipZero bool) {
	if host, ok := l.inPlace(rd, rs1); ok {
		l.applyRegOperand(e, instr32, rs2, host, skipZero)
		sext32(e, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	l.applyRegOperand(e, instr32, rs2, scratch0, skipZero)
	sext32(e, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerAluImm lowers rd = rs1 OP imm (addi/andi/ori/xori).
func (l *lowering) lowerAluImm(e asm.Emitter, instr asm.Instruction, rd, rs1 rvtrace.Reg, imm int64) {
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileConstToRegister(instr, imm, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileConstToRegister(instr, imm, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerAluImmW is lowerAluImm's width-32 counterpart (addiw).
func (l *lowering) lowerAluImmW(e asm.Emitter, instr32 asm.Instruction, rd, rs1 rvtrace.Reg, imm int64) {
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileConstToRegister(instr32, imm, host)
		sext32(e, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileConstToRegister(instr32, imm, scratch0)
	sext32(e, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// LowerAdd through LowerXori are the opcode entry points driver.go dispatches
// to; each just names the instruction and identity rule for its mnemonic.
func (l *lowering) LowerAdd(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluReg(e, amd64.ADDQ, rd, rs1, rs2, true)
}
func (l *lowering) LowerSub(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluReg(e, amd64.SUBQ, rd, rs1, rs2, true)
}
func (l *lowering) LowerAnd(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluReg(e, amd64.ANDQ, rd, rs1, rs2, false)
}
func (l *lowering) LowerOr(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluReg(e, amd64.ORQ, rd, rs1, rs2, true)
}
func (l *lowering) LowerXor(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluReg(e, amd64.XORQ, rd, rs1, rs2, true)
}
func (l *lowering) LowerAddw(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluRegW(e, amd64.ADDL, rd, rs1, rs2, true)
}
func (l *lowering) LowerSubw(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerAluRegW(e, amd64.SUBL, rd, rs1, rs2, true)
}

func (l *lowering) LowerAddi(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerAluImm(e, amd64.ADDQ, rd, rs1, imm)
}
func (l *lowering) LowerAndi(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerAluImm(e, amd64.ANDQ, rd, rs1, imm)
}
func (l *lowering) LowerOri(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerAluImm(e, amd64.ORQ, rd, rs1, imm)
}
func (l *lowering) LowerXori(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerAluImm(e, amd64.XORQ, rd, rs1, imm)
}
func (l *lowering) LowerAddiw(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerAluImmW(e, amd64.ADDL, rd, rs1, imm)
}
