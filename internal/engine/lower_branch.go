package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// LowerBranchCompare emits the flag-setting comparison rs1 - rs2 a
// conditional branch jumps on. It mirrors lowerSltReg's case split: run the
// CMP directly against rs1's host when bound, otherwise stage rs1 through
// scratch0 first.
func (l *lowering) LowerBranchCompare(e asm.Emitter, rs1, rs2 rvtrace.Reg) {
	if host1, ok := l.regs.HostOf(rs1); ok {
		l.applyRegOperand(e, amd64.CMPQ, rs2, host1, false)
		return
	}
	l.loadToScratch(e, rs1, scratch0)
	l.applyRegOperand(e, amd64.CMPQ, rs2, scratch0, false)
}

// branchJcc returns the x86 condition-code jump that tests the same
// relation op's RISC-V mnemonic names, given flags already set by rs1 - rs2.
func branchJcc(op rvtrace.Op) asm.Instruction {
	switch op {
	case rvtrace.OpBeq:
		return amd64.JE
	case rvtrace.OpBne:
		return amd64.JNE
	case rvtrace.OpBlt:
		return amd64.JL
	case rvtrace.OpBge:
		return amd64.JGE
	case rvtrace.OpBltu:
		return amd64.JB
	case rvtrace.OpBgeu:
		return amd64.JAE
	}
	return amd64.JMP
}

// invertJcc returns the condition that fires exactly when instr's would not
// have, used to turn "jump if taken" into "guard: exit if NOT taken" (or
// vice versa) depending on which side of the branch the trace continues on.
func invertJcc(instr asm.Instruction) asm.Instruction {
	switch instr {
	case amd64.JE:
		return amd64.JNE
	case amd64.JNE:
		return amd64.JE
	case amd64.JL:
		return amd64.JGE
	case amd64.JGE:
		return amd64.JL
	case amd64.JB:
		return amd64.JAE
	case amd64.JAE:
		return amd64.JB
	}
	return instr
}
