// Package asm defines the architecture-independent contract the trace
// compiler uses to talk to a concrete instruction encoder (the "Emitter").
// The encoder itself -- the thing that turns a mnemonic and its operands
// into actual machine-code bytes -- is an external collaborator; this
// package only names its shape, following the split wazero uses between
// internal/asm (arch-independent) and internal/asm/amd64 (concrete).
package asm

import "fmt"

// Register identifies a physical host register. Its numbering is
// architecture-specific; NilRegister is the only architecture-independent
// value and marks "no register".
type Register byte

// NilRegister marks the absence of a register operand.
const NilRegister Register = 0

// Instruction identifies an architecture-specific mnemonic.
type Instruction byte

// Width selects the operand width of a memory or register-truncating
// instruction.
type Width byte

const (
	Width8 Width = iota
	Width16
	Width32
	Width64
)

// Mem describes a base+displacement memory operand: [Base + Disp]. The
// compiler never needs indexed addressing, so Mem has no index/scale.
type Mem struct {
	Base Register
	Disp int64
}

// Node is a handle on a position in the emitter's output: a label, or a
// jump whose target is resolved in Assemble. A label Node can be referenced
// by AssignJumpTarget before it is Bound.
type Node interface {
	fmt.Stringer
	// AssignJumpTarget wires this jump-type node to land at target once the
	// emitter resolves offsets in Assemble.
	AssignJumpTarget(target Node)
	// OffsetInBinary returns this node's byte offset in the assembled
	// buffer. Valid only after Assemble.
	OffsetInBinary() uint64
}

// Emitter is the black-box instruction encoder the compiler is built
// against. A concrete implementation (internal/asm/amd64.Assembler) owns a
// contiguous code buffer and a two-pass label/jump resolution scheme.
type Emitter interface {
	// NewLabel allocates a Node that can be bound later and referenced by
	// jump-type instructions before it is bound (forward reference).
	NewLabel() Node
	// Bind fixes label's position to the current end of the emitted
	// instruction stream.
	Bind(label Node)

	// CompileStandAlone emits an instruction with no operands (RET, etc).
	CompileStandAlone(instruction Instruction) Node

	// CompileRegisterToRegister emits instruction with register source and
	// destination operands.
	CompileRegisterToRegister(instruction Instruction, src, dst Register)
	// CompileConstToRegister emits instruction with an immediate source and
	// register destination.
	CompileConstToRegister(instruction Instruction, value int64, dst Register)
	// CompileMemoryToRegister emits instruction loading from src into dst.
	CompileMemoryToRegister(instruction Instruction, src Mem, dst Register)
	// CompileRegisterToMemory emits instruction storing src into dst.
	CompileRegisterToMemory(instruction Instruction, src Register, dst Mem)
	// CompileConstToMemory emits instruction storing an immediate into dst.
	CompileConstToMemory(instruction Instruction, value int64, dst Mem)
	// CompileMemoryToConst emits a comparison between a memory operand and
	// an immediate (used for CMP mem, imm).
	CompileMemoryToConst(instruction Instruction, src Mem, value int64)
	// CompileRegisterToConst emits a comparison between a register operand
	// and an immediate (used for CMP reg, imm).
	CompileRegisterToConst(instruction Instruction, src Register, value int64)
	// CompileRegisterOnly emits a single-register-operand instruction such
	// as NEG reg.
	CompileRegisterOnly(instruction Instruction, reg Register)
	// CompileMemoryOnly emits a single-memory-operand instruction such as
	// NEG mem.
	CompileMemoryOnly(instruction Instruction, mem Mem)

	// CompileJump emits an unconditional or conditional jump whose target
	// is not yet known and returns the Node so the caller can
	// AssignJumpTarget once the destination label exists.
	CompileJump(instruction Instruction) Node
	// CompileJumpToLabel emits a jump whose target is already bound or
	// already allocated via NewLabel.
	CompileJumpToLabel(instruction Instruction, target Node)

	// OnError registers a handler invoked for every encoding failure the
	// emitter detects, whether in a Compile* call or in Assemble. It logs
	// and does not itself abort emission -- the caller
	// discards the trace based on Assemble's returned error.
	OnError(handler func(error))

	// Assemble finalizes all forward references and returns the contiguous
	// machine code buffer.
	Assemble() ([]byte, error)
}
