package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracejit/rv2amd64/internal/asm"
)

// decodeOne disassembles the single instruction at the start of code using
// x86asm as an independent oracle, and fails the test if code isn't exactly
// one instruction's worth of bytes.
func decodeOne(t *testing.T, code []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, len(code), inst.Len, "code must be exactly one instruction")
	return inst
}

func TestAssembler_RegisterToRegister_ALU(t *testing.T) {
	tests := []struct {
		name string
		inst asm.Instruction
		op   x86asm.Op
	}{
		{"ADDQ", ADDQ, x86asm.ADD},
		{"SUBQ", SUBQ, x86asm.SUB},
		{"ANDQ", ANDQ, x86asm.AND},
		{"ORQ", ORQ, x86asm.OR},
		{"XORQ", XORQ, x86asm.XOR},
		{"CMPQ", CMPQ, x86asm.CMP},
		{"ADDL", ADDL, x86asm.ADD},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAssembler()
			a.CompileRegisterToRegister(tc.inst, RSI, RDI)
			code, err := a.Assemble()
			require.NoError(t, err)
			decoded := decodeOne(t, code)
			require.Equal(t, tc.op, decoded.Op)
		})
	}
}

func TestAssembler_ConstToRegister_MOVQ_FullWidth(t *testing.T) {
	a := NewAssembler()
	a.CompileConstToRegister(MOVQ, 0x0102030405060708, R12)
	code, err := a.Assemble()
	require.NoError(t, err)
	decoded := decodeOne(t, code)
	require.Equal(t, x86asm.MOV, decoded.Op)
	require.Equal(t, uint64(0x0102030405060708), uint64(decoded.Args[1].(x86asm.Imm)))
}

func TestAssembler_ByteRegisterREXQuirk(t *testing.T) {
	// DIL (the low byte of RDI) requires a REX prefix to avoid aliasing BH;
	// without one the encoding would instead address AH/CH/DH/BH.
	a := NewAssembler()
	a.CompileRegisterToRegister(MOVBQZX, RDI, RAX)
	code, err := a.Assemble()
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, byte(0x40), code[0]&0xF0, "expected a REX prefix byte")
	decoded := decodeOne(t, code)
	require.Equal(t, x86asm.MOVZX, decoded.Op)
}

func TestAssembler_MemoryOperand_SIBEscape(t *testing.T) {
	// RSP (and R12) as a base register needs a SIB escape byte: ModRM r/m=100
	// would otherwise be read as "SIB follows", never "RSP directly".
	for _, base := range []asm.Register{RSP, R12, RAX} {
		a := NewAssembler()
		a.CompileMemoryToRegister(MOVQ, asm.Mem{Base: base, Disp: 16}, RDX)
		code, err := a.Assemble()
		require.NoError(t, err)
		decoded := decodeOne(t, code)
		require.Equal(t, x86asm.MOV, decoded.Op)
		mem, ok := decoded.Args[1].(x86asm.Mem)
		require.True(t, ok)
		require.EqualValues(t, 16, mem.Disp)
	}
}

func TestAssembler_ShiftByImmediateAndByCL(t *testing.T) {
	a := NewAssembler()
	a.CompileConstToRegister(SHLQ, 5, RDX)
	a.CompileRegisterOnly(SHRQ, RBX) // shift-by-CL convention
	code, err := a.Assemble()
	require.NoError(t, err)

	first, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.SHL, first.Op)

	second, err := x86asm.Decode(code[first.Len:], 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.SHR, second.Op)
	require.Equal(t, x86asm.CL, second.Args[1])
}

func TestAssembler_SETcc(t *testing.T) {
	tests := []struct {
		inst asm.Instruction
		op   x86asm.Op
	}{
		{SETL, x86asm.SETL},
		{SETB, x86asm.SETB},
	}
	for _, tc := range tests {
		a := NewAssembler()
		a.CompileRegisterToConst(tc.inst, RAX, 0)
		code, err := a.Assemble()
		require.NoError(t, err)
		decoded := decodeOne(t, code)
		require.Equal(t, tc.op, decoded.Op)
	}
}

func TestAssembler_JumpToLabel_ForwardReference(t *testing.T) {
	a := NewAssembler()
	label := a.NewLabel()
	a.CompileJumpToLabel(JE, label)
	a.CompileRegisterToRegister(ADDQ, RAX, RBX) // filler so the label lands elsewhere
	a.Bind(label)
	a.CompileStandAlone(RET)

	code, err := a.Assemble()
	require.NoError(t, err)

	jcc := decodeOne(t, code[:6]) // 0F 8x + rel32
	require.Equal(t, x86asm.JE, jcc.Op)

	rel := int32(code[2]) | int32(code[3])<<8 | int32(code[4])<<16 | int32(code[5])<<24
	// the jump's displacement is relative to the end of the jump instruction.
	require.EqualValues(t, len(code)-6-1, rel) // -1 for the trailing RET
}

func TestAssembler_UnboundLabelFailsAssemble(t *testing.T) {
	a := NewAssembler()
	label := a.NewLabel()
	a.CompileJumpToLabel(JMP, label)
	_, err := a.Assemble()
	require.Error(t, err)
}

func TestAssembler_OnErrorInvokedOnFailure(t *testing.T) {
	a := NewAssembler()
	var gotErr error
	a.OnError(func(err error) { gotErr = err })
	label := a.NewLabel()
	a.CompileJumpToLabel(JMP, label)
	_, err := a.Assemble()
	require.Error(t, err)
	require.Equal(t, err, gotErr)
}

func TestAssembler_PushPopRoundTrip(t *testing.T) {
	a := NewAssembler()
	a.CompileRegisterOnly(PUSHQ, RBP)
	a.CompileRegisterOnly(PUSHQ, R12)
	a.CompileRegisterOnly(POPQ, R12)
	a.CompileRegisterOnly(POPQ, RBP)
	a.CompileStandAlone(RET)
	code, err := a.Assemble()
	require.NoError(t, err)

	offset := 0
	wantOps := []x86asm.Op{x86asm.PUSH, x86asm.PUSH, x86asm.POP, x86asm.POP, x86asm.RET}
	for _, want := range wantOps {
		inst, err := x86asm.Decode(code[offset:], 64)
		require.NoError(t, err)
		require.Equal(t, want, inst.Op)
		offset += inst.Len
	}
	require.Equal(t, len(code), offset)
}
