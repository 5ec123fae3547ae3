// Package engine is the trace compiler: it drives per-instruction lowering
// of decoded RV64IM (plus fusion pseudo-ops) into the host Emitter, using a
// fixed static guest->host register binding rather than cross-trace
// register allocation.
package engine

import (
	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// RegMap is the fixed guest->host register binding. It never changes within
// or across traces: there is no cross-trace register allocation, so the
// table is a plain array that NewRegMap fills with the same bindings on
// every call.
//
// RAX and RCX are reserved scratch registers and are never binding targets:
// lowerings use RAX as the staging register for mem-mem operand shapes and
// RCX as the implicit shift-count register (CL).
type RegMap struct {
	bound [32]asm.Register // rvtrace.Reg -> amd64 register, or asm.NilRegister
}

// NewRegMap builds the static binding table. The mapping is fixed by the
// guest ABI name, not by hardware register number: x0 has no host home (it
// reads as the constant zero and writes are discarded), ra/sp/t0/t1 bind to
// rdx/rbx/rsi/rdi, and the eight argument registers a0-a7 bind to r8-r15.
// Every other guest register spills to its frame slot (see FrameIO).
func NewRegMap() *RegMap {
	m := &RegMap{}
	m.bound[rvtrace.RA] = amd64.RDX
	m.bound[rvtrace.SP] = amd64.RBX
	m.bound[rvtrace.T0] = amd64.RSI
	m.bound[rvtrace.T1] = amd64.RDI
	m.bound[rvtrace.A0] = amd64.R8
	m.bound[rvtrace.A1] = amd64.R9
	m.bound[rvtrace.A2] = amd64.R10
	m.bound[rvtrace.A3] = amd64.R11
	m.bound[rvtrace.A4] = amd64.R12
	m.bound[rvtrace.A5] = amd64.R13
	m.bound[rvtrace.A6] = amd64.R14
	m.bound[rvtrace.A7] = amd64.R15
	return m
}

// HostOf returns the bound host register for g and true, or
// (asm.NilRegister, false) if g is unbound (including x0, which is never a
// binding target: it is produced/consumed as an immediate zero instead).
func (m *RegMap) HostOf(g rvtrace.Reg) (asm.Register, bool) {
	if !g.Valid() || g == rvtrace.Zero {
		return asm.NilRegister, false
	}
	if r := m.bound[g]; r != asm.NilRegister {
		return r, true
	}
	return asm.NilRegister, false
}

// Bound reports whether g has a dedicated host register.
func (m *RegMap) Bound(g rvtrace.Reg) bool {
	_, ok := m.HostOf(g)
	return ok
}

// BoundHostRegisters returns the host registers this map binds, in guest
// register order. FrameIO checks membership in it to decide which
// callee-saved hosts to push and pop; the push order is calleeSavedHosts'.
func (m *RegMap) BoundHostRegisters() []asm.Register {
	var out []asm.Register
	for g := rvtrace.X1; g <= rvtrace.X31; g++ {
		if r, ok := m.HostOf(g); ok {
			out = append(out, r)
		}
	}
	return out
}

// spillSlot is the byte offset, relative to the Processor base pointer, of
// guest register g's integer-register slot. See tracejit.Processor for the
// frame layout this indexes into.
func spillSlot(g rvtrace.Reg) int64 {
	return int64(g) * 8
}

// SpillMem returns the memory operand for guest register g's spill slot,
// addressed off the frame base register. Valid for every g including bound
// registers (the prologue/epilogue still use this address to load/store the
// initial and final values of bound registers).
func SpillMem(base asm.Register, g rvtrace.Reg) asm.Mem {
	return asm.Mem{Base: base, Disp: spillSlot(g)}
}
