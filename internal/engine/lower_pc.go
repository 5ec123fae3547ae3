package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// writeConst materializes a compile-time-known 64-bit value into rd. Spilled
// destinations always stage through scratch0: MOV r/m64, imm32 only carries
// a sign-extended 32-bit immediate, too narrow for an arbitrary absolute
// address, so the full 64-bit load-immediate form (MOV r64, imm64) is used
// against scratch0 first and then stored.
func (l *lowering) writeConst(e asm.Emitter, rd rvtrace.Reg, value int64) {
	if rd == rvtrace.Zero {
		return
	}
	if host, ok := l.regs.HostOf(rd); ok {
		e.CompileConstToRegister(amd64.MOVQ, value, host)
		return
	}
	e.CompileConstToRegister(amd64.MOVQ, value, scratch0)
	e.CompileRegisterToMemory(amd64.MOVQ, scratch0, SpillMem(l.frame.Base(), rd))
}

// LowerAuipc lowers rd = pc + imm. Both operands are known at trace-compile
// time, so this is a constant materialization rather than a runtime add.
func (l *lowering) LowerAuipc(e asm.Emitter, rd rvtrace.Reg, pc uint64, imm int64) {
	l.writeConst(e, rd, int64(pc)+imm)
}

// LowerLui lowers rd = imm (the decoder has already sign-extended the
// 20-bit immediate into its 64-bit form).
func (l *lowering) LowerLui(e asm.Emitter, rd rvtrace.Reg, imm int64) {
	l.writeConst(e, rd, imm)
}

// LowerFusionLi lowers the synthesized load-immediate pseudo-op: rd = imm,
// where imm is the already-combined 64-bit constant the fusion recognizer
// assembled from the instruction sequence it collapsed.
func (l *lowering) LowerFusionLi(e asm.Emitter, rd rvtrace.Reg, imm int64) {
	l.writeConst(e, rd, imm)
}

// LowerFusionLa lowers the synthesized load-address pseudo-op: rd = imm,
// where imm is the absolute address the fusion recognizer already resolved
// from an auipc+addi pair.
func (l *lowering) LowerFusionLa(e asm.Emitter, rd rvtrace.Reg, imm int64) {
	l.writeConst(e, rd, imm)
}

// LowerJal lowers jal's register-write half: rd = nextPC. The control
// transfer is carried by TraceDriver, which records the jump target pc+imm
// as the trace's termination PC; no jump to an existing label is emitted.
func (l *lowering) LowerJal(e asm.Emitter, rd rvtrace.Reg, nextPC uint64) {
	l.writeConst(e, rd, int64(nextPC))
}

// LowerFusionCall lowers the synthesized call pseudo-op's register-write
// half: rd = nextPC (the return address), identical to LowerJal. The
// fusion recognizer is what distinguishes "this jal is a call"; by the time
// the lowering sees it the only difference from jal is cosmetic.
func (l *lowering) LowerFusionCall(e asm.Emitter, rd rvtrace.Reg, nextPC uint64) {
	l.writeConst(e, rd, int64(nextPC))
}
