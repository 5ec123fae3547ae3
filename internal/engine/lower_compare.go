package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// lowerSltReg lowers rd = (rs1 <signed/unsigned> rs2) ? 1 : 0, grounded on
// emit_cmp's case split on which of rs1/rs2 are bound: the comparison
// itself runs directly against rs1's host when bound, or through scratch0
// when rs1 is spilled, so only one branch needs a preliminary load. The
// boolean result always lands in scratch0 via SETcc+MOVZX regardless of
// where the comparison ran, since SETcc only reads flags.
func (l *lowering) lowerSltReg(e asm.Emitter, setInstr asm.Instruction, rd, rs1, rs2 rvtrace.Reg) {
	if host1, ok := l.regs.HostOf(rs1); ok {
		l.applyRegOperand(e, amd64.CMPQ, rs2, host1, false)
	} else {
		l.loadToScratch(e, rs1, scratch0)
		l.applyRegOperand(e, amd64.CMPQ, rs2, scratch0, false)
	}
	e.CompileRegisterToConst(setInstr, scratch0, 0)
	e.CompileRegisterToRegister(amd64.MOVBQZX, scratch0, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerSltImm lowers rd = (rs1 <signed/unsigned> imm) ? 1 : 0 (slti/sltiu).
func (l *lowering) lowerSltImm(e asm.Emitter, setInstr asm.Instruction, rd, rs1 rvtrace.Reg, imm int64) {
	if host1, ok := l.regs.HostOf(rs1); ok {
		e.CompileRegisterToConst(amd64.CMPQ, host1, imm)
	} else {
		l.loadToScratch(e, rs1, scratch0)
		e.CompileRegisterToConst(amd64.CMPQ, scratch0, imm)
	}
	e.CompileRegisterToConst(setInstr, scratch0, 0)
	e.CompileRegisterToRegister(amd64.MOVBQZX, scratch0, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

func (l *lowering) LowerSlt(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerSltReg(e, amd64.SETL, rd, rs1, rs2)
}
func (l *lowering) LowerSltu(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerSltReg(e, amd64.SETB, rd, rs1, rs2)
}
func (l *lowering) LowerSlti(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerSltImm(e, amd64.SETL, rd, rs1, imm)
}
func (l *lowering) LowerSltiu(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerSltImm(e, amd64.SETB, rd, rs1, imm)
}
