// Package amd64 is a hand-rolled x86-64 encoder scoped to exactly the
// mnemonics the trace compiler (internal/engine) needs. Naming follows the
// Go assembler / wazero's internal/asm/amd64 convention.
package amd64

import "github.com/tracejit/rv2amd64/internal/asm"

// Instruction mnemonics. Only the subset the JIT lowerings in
// internal/engine actually emit is defined -- this is not a general-purpose
// x86-64 assembler.
const (
	NONE asm.Instruction = iota

	ADDQ
	SUBQ
	ANDQ
	ORQ
	XORQ
	CMPQ
	NEGQ

	ADDL
	SUBL
	ANDL
	ORL
	XORL
	CMPL
	NEGL

	SHLQ
	SHRQ
	SARQ
	SHLL
	SHRL
	SARL

	MOVQ
	MOVL
	MOVW
	MOVB

	// Sign/zero-extending moves, named like the Go assembler: src width
	// then dst width then {SX,ZX}.
	MOVBQSX
	MOVBQZX
	MOVWQSX
	MOVWQZX
	MOVLQSX // MOVSXD: sign-extend a 32-bit source into a 64-bit register.

	SETL
	SETB

	JMP
	JE
	JNE
	JL
	JGE
	JB
	JAE

	PUSHQ
	POPQ
	RET
)

var instructionNames = map[asm.Instruction]string{
	ADDQ: "ADDQ", SUBQ: "SUBQ", ANDQ: "ANDQ", ORQ: "ORQ", XORQ: "XORQ", CMPQ: "CMPQ", NEGQ: "NEGQ",
	ADDL: "ADDL", SUBL: "SUBL", ANDL: "ANDL", ORL: "ORL", XORL: "XORL", CMPL: "CMPL", NEGL: "NEGL",
	SHLQ: "SHLQ", SHRQ: "SHRQ", SARQ: "SARQ", SHLL: "SHLL", SHRL: "SHRL", SARL: "SARL",
	MOVQ: "MOVQ", MOVL: "MOVL", MOVW: "MOVW", MOVB: "MOVB",
	MOVBQSX: "MOVBQSX", MOVBQZX: "MOVBQZX", MOVWQSX: "MOVWQSX", MOVWQZX: "MOVWQZX", MOVLQSX: "MOVLQSX",
	SETL: "SETL", SETB: "SETB",
	JMP: "JMP", JE: "JE", JNE: "JNE", JL: "JL", JGE: "JGE", JB: "JB", JAE: "JAE",
	PUSHQ: "PUSHQ", POPQ: "POPQ", RET: "RET",
}

// InstructionName renders instruction for debugging/logging purposes.
func InstructionName(instruction asm.Instruction) string {
	if name, ok := instructionNames[instruction]; ok {
		return name
	}
	return "UNKNOWN"
}

// Registers, in standard x86-64 register-encoding order but offset by one
// so that 0 stays asm.NilRegister; regNum recovers the hardware number.
const (
	RAX asm.Register = asm.NilRegister + 1 + iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = map[asm.Register]string{
	RAX: "RAX", RCX: "RCX", RDX: "RDX", RBX: "RBX", RSP: "RSP", RBP: "RBP", RSI: "RSI", RDI: "RDI",
	R8: "R8", R9: "R9", R10: "R10", R11: "R11", R12: "R12", R13: "R13", R14: "R14", R15: "R15",
}

// RegisterName renders reg for debugging/logging purposes.
func RegisterName(reg asm.Register) string {
	if reg == asm.NilRegister {
		return "nil"
	}
	if name, ok := registerNames[reg]; ok {
		return name
	}
	return "?"
}

// regNum returns the 0-15 hardware encoding for reg, used to split the
// REX.B/REX.R/REX.X extension bit from the 3-bit ModRM/SIB field.
func regNum(reg asm.Register) byte {
	return byte(reg) - byte(RAX)
}

// isExtended reports whether reg is one of R8-R15, requiring a REX prefix
// bit to address.
func isExtended(reg asm.Register) bool {
	return regNum(reg) >= 8
}

// needsSIB reports whether encoding reg as a ModRM r/m (or SIB base) field
// requires an escape SIB byte: RSP and R12 both encode to low-3-bits 100,
// which the ModRM r/m=100 encoding reserves to mean "SIB follows" rather
// than "register RSP/R12 directly" whenever paired with a displacement.
func needsSIB(reg asm.Register) bool {
	return regNum(reg)&7 == 4
}
