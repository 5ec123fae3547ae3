package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// Processor frame layout, mirrored exactly by tracejit.Processor's field
// order. The compiler never imports the tracejit package (which instead
// imports engine), so the layout lives here as the single source of truth
// and tracejit documents that it must match.
const (
	// intRegsOffset is the byte offset of Processor.IntRegs[0].
	intRegsOffset = 0
	// regSlotSize is the stride between consecutive IntRegs slots.
	regSlotSize = 8
	// pcOffset is the byte offset of Processor.PC, immediately following
	// the 32 guest integer register slots.
	pcOffset = 32 * regSlotSize
)

// calleeSavedHosts are the SysV AMD64 callee-saved general registers among
// RegMap's bindings: rbx, r12-r15. rdx/rsi/rdi are caller-saved and need no
// preservation beyond the incoming Processor pointer, which EmitPrologue
// copies out of rdi into rbp before rdi is repurposed as a bound register.
var calleeSavedHosts = []asm.Register{amd64.RBX, amd64.R12, amd64.R13, amd64.R14, amd64.R15}

// FrameIO emits the fixed prologue/epilogue frame around a trace's body,
// grounded on fusion-emitter.h's emit_prolog/emit_epilog: push callee-saved
// hosts, adopt the incoming Processor pointer as the frame base, load every
// bound guest register out of its spill slot, run the trace body, then
// store bound registers back and unwind in reverse.
type FrameIO struct {
	regs *RegMap
	base asm.Register
	term asm.Node
}

// NewFrameIO returns a FrameIO using RBP as the frame-pointer register
// holding the Processor pointer for the trace's lifetime.
func NewFrameIO(regs *RegMap) *FrameIO {
	return &FrameIO{regs: regs, base: amd64.RBP}
}

// Base returns the register holding the Processor pointer, used by
// lowerings to address spill slots via SpillMem.
func (f *FrameIO) Base() asm.Register { return f.base }

// TermLabel returns the shared exit label every trace termination site
// jumps (or falls through) to. It is valid to reference from EmitPrologue
// onward, but is only Bound by EmitEpilogue.
func (f *FrameIO) TermLabel() asm.Node { return f.term }

// EmitPrologue saves the caller's frame, adopts rdi (the single incoming
// Processor* argument per the SysV AMD64 ABI) as the frame base in rbp, and
// loads every bound guest register from its spill slot.
func (f *FrameIO) EmitPrologue(e asm.Emitter) {
	e.CompileRegisterOnly(amd64.PUSHQ, amd64.RBP)
	e.CompileRegisterToRegister(amd64.MOVQ, amd64.RDI, amd64.RBP)
	for _, r := range calleeSavedHosts {
		if boundToAny(f.regs, r) {
			e.CompileRegisterOnly(amd64.PUSHQ, r)
		}
	}
	for g := rvtrace.X1; g <= rvtrace.X31; g++ {
		if host, ok := f.regs.HostOf(g); ok {
			e.CompileMemoryToRegister(amd64.MOVQ, SpillMem(f.base, g), host)
		}
	}
	f.term = e.NewLabel()
}

// EmitExit stores termPC into the Processor's PC field and transfers
// control to the epilogue. The PC is staged through scratch0 as a full
// 64-bit immediate, since MOV r/m64, imm32 only sign-extends 32 bits.
// fallthroughExit should be true only for the
// single exit site that is immediately followed by EmitEpilogue in program
// order (the common "ran off the end of the trace" case), letting that one
// site skip an unconditional jump to its own next instruction.
func (f *FrameIO) EmitExit(e asm.Emitter, termPC uint64, fallthroughExit bool) {
	e.CompileConstToRegister(amd64.MOVQ, int64(termPC), scratch0)
	e.CompileRegisterToMemory(amd64.MOVQ, scratch0, asm.Mem{Base: f.base, Disp: pcOffset})
	if !fallthroughExit {
		e.CompileJumpToLabel(amd64.JMP, f.term)
	}
}

// EmitEpilogue binds the shared exit label, writes every bound guest
// register back to its spill slot, unwinds the pushes EmitPrologue made (in
// reverse order) and returns to the caller.
func (f *FrameIO) EmitEpilogue(e asm.Emitter) {
	e.Bind(f.term)
	for g := rvtrace.X1; g <= rvtrace.X31; g++ {
		if host, ok := f.regs.HostOf(g); ok {
			e.CompileRegisterToMemory(amd64.MOVQ, host, SpillMem(f.base, g))
		}
	}
	for i := len(calleeSavedHosts) - 1; i >= 0; i-- {
		r := calleeSavedHosts[i]
		if boundToAny(f.regs, r) {
			e.CompileRegisterOnly(amd64.POPQ, r)
		}
	}
	e.CompileRegisterOnly(amd64.POPQ, amd64.RBP)
	e.CompileStandAlone(amd64.RET)
}

func boundToAny(regs *RegMap, host asm.Register) bool {
	for _, r := range regs.BoundHostRegisters() {
		if r == host {
			return true
		}
	}
	return false
}
