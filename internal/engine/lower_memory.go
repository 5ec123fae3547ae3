package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// addressOperand builds the [rs1 + imm] memory operand loads and stores
// address. The guest address space is assumed directly host-addressable
// (the surrounding memory subsystem's concern, out of scope here): rs1's
// value is used verbatim as a host pointer base. x0 has no host register,
// so the x0-base case (a bare absolute address) stages the immediate
// through scratch0 instead.
func (l *lowering) addressOperand(e asm.Emitter, rs1 rvtrace.Reg, imm int64) asm.Mem {
	if rs1 == rvtrace.Zero {
		e.CompileConstToRegister(amd64.MOVQ, imm, scratch0)
		return asm.Mem{Base: scratch0, Disp: 0}
	}
	if host, ok := l.regs.HostOf(rs1); ok {
		return asm.Mem{Base: host, Disp: imm}
	}
	l.loadToScratch(e, rs1, scratch0)
	return asm.Mem{Base: scratch0, Disp: imm}
}

// lowerLoad lowers rd = *(width)(rs1 + imm), sign/zero-extending per instr.
func (l *lowering) lowerLoad(e asm.Emitter, instr asm.Instruction, rd, rs1 rvtrace.Reg, imm int64) {
	mem := l.addressOperand(e, rs1, imm)
	if host, ok := l.regs.HostOf(rd); ok {
		e.CompileMemoryToRegister(instr, mem, host)
		return
	}
	if rd == rvtrace.Zero {
		return
	}
	e.CompileMemoryToRegister(instr, mem, scratch1)
	e.CompileRegisterToMemory(amd64.MOVQ, scratch1, SpillMem(l.frame.Base(), rd))
}

// lowerStore lowers *(width)(rs1 + imm) = rs2, storing an explicit zero of
// the right width when rs2 is x0.
func (l *lowering) lowerStore(e asm.Emitter, instr asm.Instruction, rs1, rs2 rvtrace.Reg, imm int64) {
	mem := l.addressOperand(e, rs1, imm)
	if rs2 == rvtrace.Zero {
		e.CompileConstToMemory(instr, 0, mem)
		return
	}
	if host, ok := l.regs.HostOf(rs2); ok {
		e.CompileRegisterToMemory(instr, host, mem)
		return
	}
	l.loadToScratch(e, rs2, scratch1)
	e.CompileRegisterToMemory(instr, scratch1, mem)
}

func (l *lowering) LowerLd(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVQ, rd, rs1, imm)
}
func (l *lowering) LowerLw(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVLQSX, rd, rs1, imm)
}
func (l *lowering) LowerLwu(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVL, rd, rs1, imm)
}
func (l *lowering) LowerLh(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVWQSX, rd, rs1, imm)
}
func (l *lowering) LowerLhu(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVWQZX, rd, rs1, imm)
}
func (l *lowering) LowerLb(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVBQSX, rd, rs1, imm)
}
func (l *lowering) LowerLbu(e asm.Emitter, rd, rs1 rvtrace.Reg, imm int64) {
	l.lowerLoad(e, amd64.MOVBQZX, rd, rs1, imm)
}

func (l *lowering) LowerSd(e asm.Emitter, rs1, rs2 rvtrace.Reg, imm int64) {
	l.lowerStore(e, amd64.MOVQ, rs1, rs2, imm)
}
func (l *lowering) LowerSw(e asm.Emitter, rs1, rs2 rvtrace.Reg, imm int64) {
	l.lowerStore(e, amd64.MOVL, rs1, rs2, imm)
}
func (l *lowering) LowerSh(e asm.Emitter, rs1, rs2 rvtrace.Reg, imm int64) {
	l.lowerStore(e, amd64.MOVW, rs1, rs2, imm)
}
func (l *lowering) LowerSb(e asm.Emitter, rs1, rs2 rvtrace.Reg, imm int64) {
	l.lowerStore(e, amd64.MOVB, rs1, rs2, imm)
}
