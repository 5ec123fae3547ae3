package engine

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

func newTestDriver() (*amd64.Assembler, *TraceDriver) {
	a := amd64.NewAssembler()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	regs := NewRegMap()
	frame := NewFrameIO(regs)
	return a, NewTraceDriver(regs, frame, log)
}

// decodeAll disassembles code end to end with x86asm, failing the test if
// any byte range doesn't parse as a valid instruction -- a coarse sanity
// check that emission never produces garbage partway through.
func decodeAll(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()
	var out []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err, "decode failed at offset %#x", off)
		out = append(out, inst)
		off += inst.Len
	}
	return out
}

func TestTraceDriver_StraightLineInstructions(t *testing.T) {
	a, d := newTestDriver()
	frame := d.frame
	frame.EmitPrologue(a)

	insts := []rvtrace.Inst{
		{Op: rvtrace.OpAddi, PC: 0x1000, Rd: rvtrace.A0, Rs1: rvtrace.Zero, Imm: 5, Length: 4},
		{Op: rvtrace.OpAddi, PC: 0x1004, Rd: rvtrace.A1, Rs1: rvtrace.A0, Imm: 10, Length: 4},
	}
	var lastPC uint64 = 0x1008
	for _, in := range insts {
		cont, err := d.Emit(a, in, false)
		require.NoError(t, err)
		require.True(t, cont)
	}
	pc, valid := d.TermPC()
	require.True(t, valid)
	require.Equal(t, lastPC, pc)

	frame.EmitExit(a, pc, true)
	frame.EmitEpilogue(a)

	code, err := a.Assemble()
	require.NoError(t, err)
	decodeAll(t, code)
}

func TestTraceDriver_RevisitedPCEndsTrace(t *testing.T) {
	a, d := newTestDriver()
	first := rvtrace.Inst{Op: rvtrace.OpAddi, PC: 0x1000, Rd: rvtrace.A0, Rs1: rvtrace.Zero, Imm: 1, Length: 4}

	cont, err := d.Emit(a, first, false)
	require.NoError(t, err)
	require.True(t, cont)

	cont, err = d.Emit(a, first, false)
	require.NoError(t, err)
	require.False(t, cont, "recompiling an already-bound PC must end the trace without emitting anything")
}

func TestTraceDriver_UnsupportedOpcodeEndsTraceWithoutError(t *testing.T) {
	a, d := newTestDriver()
	bad := rvtrace.Inst{Op: rvtrace.OpInvalid, PC: 0x1000, Length: 4}
	cont, err := d.Emit(a, bad, false)
	require.NoError(t, err)
	require.False(t, cont)
}

// TestTraceDriver_BranchShapeBothFound exercises shape 1: both the branch
// target and the fallthrough target already carry a label bound earlier in
// the trace, so the branch becomes two direct intra-trace jumps with no
// store-and-exit at all.
func TestTraceDriver_BranchShapeBothFound(t *testing.T) {
	a, d := newTestDriver()

	// Bind labels at what will become this branch's targets first, the way
	// an unrolled loop body revisits earlier-compiled code.
	_, err := d.Emit(a, rvtrace.Inst{Op: rvtrace.OpAddi, PC: 0x2000, Rd: rvtrace.A0, Rs1: rvtrace.Zero, Imm: 1, Length: 4}, false)
	require.NoError(t, err)
	_, err = d.Emit(a, rvtrace.Inst{Op: rvtrace.OpAddi, PC: 0x1004, Rd: rvtrace.A1, Rs1: rvtrace.Zero, Imm: 2, Length: 4}, false)
	require.NoError(t, err)

	branch := rvtrace.Inst{Op: rvtrace.OpBeq, PC: 0x1000, Rs1: rvtrace.A0, Rs2: rvtrace.A1, Imm: 0x1000, Length: 4}
	cont, err := d.Emit(a, branch, true)
	require.NoError(t, err)
	require.True(t, cont)

	code, err := a.Assemble()
	require.NoError(t, err)
	insts := decodeAll(t, code)
	// CMP, then two jumps (Jcc + JMP): no PC store (shape 1 never exits).
	lastTwo := insts[len(insts)-2:]
	require.Equal(t, x86asm.JE, lastTwo[0].Op)
	require.Equal(t, x86asm.JMP, lastTwo[1].Op)
}

// TestTraceDriver_BranchShapeNeitherFound exercises shape 4: a branch whose
// targets have not been seen in this trace before. Both arms must store a
// PC and jump to the shared term label.
func TestTraceDriver_BranchShapeNeitherFound(t *testing.T) {
	a, d := newTestDriver()
	d.frame.EmitPrologue(a)

	branch := rvtrace.Inst{Op: rvtrace.OpBlt, PC: 0x1000, Rs1: rvtrace.A0, Rs2: rvtrace.A1, Imm: 0x100, Length: 4}
	cont, err := d.Emit(a, branch, true)
	require.NoError(t, err)
	require.True(t, cont)

	d.frame.EmitEpilogue(a)
	code, err := a.Assemble()
	require.NoError(t, err)
	insts := decodeAll(t, code)

	var movCount, jmpCount int
	for _, in := range insts {
		switch in.Op {
		case x86asm.MOV:
			movCount++
		case x86asm.JMP:
			jmpCount++
		}
	}
	require.GreaterOrEqual(t, movCount, 2, "both arms of an unresolved branch must store their own exit PC")
	require.GreaterOrEqual(t, jmpCount, 2, "both arms must jump to the shared term label")
}

// TestTraceDriver_BranchShapeFastPathToKnownTarget exercises shape 2: the
// branch target is already labeled and predictedTaken favors it, so the
// taken arm becomes a direct jump and only the not-taken arm exits.
func TestTraceDriver_BranchShapeFastPathToKnownTarget(t *testing.T) {
	a, d := newTestDriver()
	d.frame.EmitPrologue(a)

	_, err := d.Emit(a, rvtrace.Inst{Op: rvtrace.OpAddi, PC: 0x2000, Rd: rvtrace.A0, Rs1: rvtrace.Zero, Imm: 1, Length: 4}, false)
	require.NoError(t, err)

	branch := rvtrace.Inst{Op: rvtrace.OpBge, PC: 0x1000, Rs1: rvtrace.A0, Rs2: rvtrace.A1, Imm: 0x1000, Length: 4}
	cont, err := d.Emit(a, branch, true)
	require.NoError(t, err)
	require.True(t, cont)

	d.frame.EmitEpilogue(a)
	code, err := a.Assemble()
	require.NoError(t, err)
	decodeAll(t, code)
}
