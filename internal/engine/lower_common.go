package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// scratch registers. Neither is ever a RegMap binding target, so lowerings
// are free to clobber them between instructions without saving anything.
const (
	scratch0 = amd64.RAX
	scratch1 = amd64.RCX
)

// lowering holds the state every per-opcode lowering function needs: the
// register binding table and the frame it addresses spill slots through.
type lowering struct {
	regs  *RegMap
	frame *FrameIO
}

func newLowering(regs *RegMap, frame *FrameIO) *lowering {
	return &lowering{regs: regs, frame: frame}
}

// loadToScratch materializes g's current value into scratch: an immediate
// 0 if g is x0, a register-to-register move if g is bound, or a spill load
// otherwise.
func (l *lowering) loadToScratch(e asm.Emitter, g rvtrace.Reg, scratch asm.Register) {
	switch {
	case g == rvtrace.Zero:
		e.CompileConstToRegister(amd64.MOVQ, 0, scratch)
	default:
		if host, ok := l.regs.HostOf(g); ok {
			e.CompileRegisterToRegister(amd64.MOVQ, host, scratch)
		} else {
			e.CompileMemoryToRegister(amd64.MOVQ, SpillMem(l.frame.Base(), g), scratch)
		}
	}
}

// storeFromScratch writes scratch into rd's home. Writes to x0 are
// discarded: x0's spill slot is never written, so it keeps reading as zero.
func (l *lowering) storeFromScratch(e asm.Emitter, rd rvtrace.Reg, scratch asm.Register) {
	if rd == rvtrace.Zero {
		return
	}
	if host, ok := l.regs.HostOf(rd); ok {
		if host != scratch {
			e.CompileRegisterToRegister(amd64.MOVQ, scratch, host)
		}
		return
	}
	e.CompileRegisterToMemory(amd64.MOVQ, scratch, SpillMem(l.frame.Base(), rd))
}

// applyRegOperand emits instr with g as the source operand against dst
// (dst OP= g), choosing a register or memory source form depending on
// whether g is bound, and skipping the operation entirely when g is x0 and
// skipZero reports that x0 would be a no-op for this instr (e.g. adding or
// subtracting zero). Callers for which x0 is not an identity (AND, CMP)
// pass skipZero=false.
func (l *lowering) applyRegOperand(e asm.Emitter, instr asm.Instruction, g rvtrace.Reg, dst asm.Register, skipZero bool) {
	if g == rvtrace.Zero && skipZero {
		return
	}
	if g == rvtrace.Zero {
		// Only reached by instructions where x0 is not an identity element
		// (AND, comparisons): the zero is read from x0's spill slot.
		if host, ok := l.regs.HostOf(g); ok {
			e.CompileRegisterToRegister(instr, host, dst)
			return
		}
		e.CompileMemoryToRegister(instr, SpillMem(l.frame.Base(), g), dst)
		return
	}
	if host, ok := l.regs.HostOf(g); ok {
		e.CompileRegisterToRegister(instr, host, dst)
		return
	}
	e.CompileMemoryToRegister(instr, SpillMem(l.frame.Base(), g), dst)
}

// inPlace reports whether rd and g share the same bound host register,
// letting an ALU lowering skip staging through scratch0 and operate
// directly on rd's host.
func (l *lowering) inPlace(rd, g rvtrace.Reg) (asm.Register, bool) {
	rdHost, rdOk := l.regs.HostOf(rd)
	gHost, gOk := l.regs.HostOf(g)
	if rdOk && gOk && rdHost == gHost {
		return rdHost, true
	}
	return asm.NilRegister, false
}

// sext32 sign-extends the low 32 bits of reg into its full 64-bit width, in
// place. Used by every width-32 (*w) lowering: x86 ops on the 32-bit
// register view zero-extend the upper half, but RV64's *w opcodes require
// sign extension.
func sext32(e asm.Emitter, reg asm.Register) {
	e.CompileRegisterToRegister(amd64.MOVLQSX, reg, reg)
}
