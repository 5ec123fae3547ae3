package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// lowerShiftReg lowers rd = rs1 shiftOp rs2 (sll/srl/sra): the shift amount
// must sit in CL, so rs2 is always staged through scratch1 (RCX) first.
// x86's shift-by-CL form masks the count to 6 bits for a 64-bit operand
// (5 bits for 32-bit), which already matches RV64's shift-amount masking,
// so no explicit AND is needed here.
func (l *lowering) lowerShiftReg(e asm.Emitter, instr asm.Instruction, rd, rs1, rs2 rvtrace.Reg) {
	l.loadToScratch(e, rs2, scratch1)
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileRegisterOnly(instr, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileRegisterOnly(instr, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerShiftRegW is lowerShiftReg's width-32 counterpart (sllw/srlw/sraw).
func (l *lowering) lowerShiftRegW(e asm.Emitter, instr32 asm.Instruction, rd, rs1, rs2 rvtrace.Reg) {
	l.loadToScratch(e, rs2, scratch1)
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileRegisterOnly(instr32, host)
		sext32(e, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileRegisterOnly(instr32, scratch0)
	sext32(e, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerShiftImm lowers rd = rs1 shiftOp shamt (slli/srli/srai).
func (l *lowering) lowerShiftImm(e asm.Emitter, instr asm.Instruction, rd, rs1 rvtrace.Reg, shamt int64) {
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileConstToRegister(instr, shamt, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileConstToRegister(instr, shamt, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

// lowerShiftImmW is lowerShiftImm's width-32 counterpart (slliw/srliw/sraiw).
func (l *lowering) lowerShiftImmW(e asm.Emitter, instr32 asm.Instruction, rd, rs1 rvtrace.Reg, shamt int64) {
	if host, ok := l.inPlace(rd, rs1); ok {
		e.CompileConstToRegister(instr32, shamt, host)
		sext32(e, host)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	e.CompileConstToRegister(instr32, shamt, scratch0)
	sext32(e, scratch0)
	l.storeFromScratch(e, rd, scratch0)
}

func (l *lowering) LowerSll(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) { l.lowerShiftReg(e, amd64.SHLQ, rd, rs1, rs2) }
func (l *lowering) LowerSrl(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) { l.lowerShiftReg(e, amd64.SHRQ, rd, rs1, rs2) }
func (l *lowering) LowerSra(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) { l.lowerShiftReg(e, amd64.SARQ, rd, rs1, rs2) }

func (l *lowering) LowerSllw(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerShiftRegW(e, amd64.SHLL, rd, rs1, rs2)
}
func (l *lowering) LowerSrlw(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerShiftRegW(e, amd64.SHRL, rd, rs1, rs2)
}
func (l *lowering) LowerSraw(e asm.Emitter, rd, rs1, rs2 rvtrace.Reg) {
	l.lowerShiftRegW(e, amd64.SARL, rd, rs1, rs2)
}

func (l *lowering) LowerSlli(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImm(e, amd64.SHLQ, rd, rs1, shamt)
}
func (l *lowering) LowerSrli(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImm(e, amd64.SHRQ, rd, rs1, shamt)
}
func (l *lowering) LowerSrai(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImm(e, amd64.SARQ, rd, rs1, shamt)
}
func (l *lowering) LowerSlliw(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImmW(e, amd64.SHLL, rd, rs1, shamt)
}
func (l *lowering) LowerSrliw(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImmW(e, amd64.SHRL, rd, rs1, shamt)
}
func (l *lowering) LowerSraiw(e asm.Emitter, rd, rs1 rvtrace.Reg, shamt int64) {
	l.lowerShiftImmW(e, amd64.SARL, rd, rs1, shamt)
}
