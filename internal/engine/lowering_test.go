package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

func newTestLowering() (*amd64.Assembler, *lowering) {
	a := amd64.NewAssembler()
	regs := NewRegMap()
	frame := NewFrameIO(regs)
	return a, newLowering(regs, frame)
}

func TestLowerShiftReg_StagesCountThroughCL(t *testing.T) {
	a, l := newTestLowering()
	// a1 (bound, r9) holds the shift count; a0 (bound, r8) is rd==rs1.
	l.LowerSll(a, rvtrace.A0, rvtrace.A0, rvtrace.A1)
	code, err := a.Assemble()
	require.NoError(t, err)

	var sawCLLoad, sawShift bool
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		if inst.Op == x86asm.MOV {
			if r, ok := inst.Args[0].(x86asm.Reg); ok && r == x86asm.RCX {
				sawCLLoad = true
			}
		}
		if inst.Op == x86asm.SHL {
			sawShift = true
			require.Equal(t, x86asm.CL, inst.Args[1])
		}
		off += inst.Len
	}
	require.True(t, sawCLLoad, "shift count must be staged into rcx before the shift")
	require.True(t, sawShift)
}

func TestLowerShiftReg_SpilledDestinationRoundTripsThroughScratch(t *testing.T) {
	a, l := newTestLowering()
	// x20 is unbound (spills); rs2 a1 is bound.
	l.LowerSrl(a, rvtrace.X20, rvtrace.X20, rvtrace.A1)
	code, err := a.Assemble()
	require.NoError(t, err)

	var sawLoadFromSpill, sawStoreToSpill bool
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		if mem, ok := findMemArg(inst); ok {
			require.EqualValues(t, spillSlot(rvtrace.X20), mem.Disp)
			if inst.Op == x86asm.MOV && inst.Args[0] == x86asm.RAX {
				sawLoadFromSpill = true
			}
			if inst.Op == x86asm.MOV {
				if _, isMemDst := inst.Args[0].(x86asm.Mem); isMemDst {
					sawStoreToSpill = true
				}
			}
		}
		off += inst.Len
	}
	require.True(t, sawLoadFromSpill)
	require.True(t, sawStoreToSpill)
}

func findMemArg(inst x86asm.Inst) (x86asm.Mem, bool) {
	for _, a := range inst.Args {
		if a == nil {
			continue
		}
		if m, ok := a.(x86asm.Mem); ok {
			return m, true
		}
	}
	return x86asm.Mem{}, false
}

func TestLowerSlt_EmitsCompareSetAndZeroExtend(t *testing.T) {
	a, l := newTestLowering()
	l.LowerSlt(a, rvtrace.A2, rvtrace.A0, rvtrace.A1)
	code, err := a.Assemble()
	require.NoError(t, err)

	var ops []x86asm.Op
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		ops = append(ops, inst.Op)
		off += inst.Len
	}
	require.Contains(t, ops, x86asm.CMP)
	require.Contains(t, ops, x86asm.SETL)
	require.Contains(t, ops, x86asm.MOVZX)
}

func TestLowerSltu_UsesSETB(t *testing.T) {
	a, l := newTestLowering()
	l.LowerSltu(a, rvtrace.A2, rvtrace.A0, rvtrace.A1)
	code, err := a.Assemble()
	require.NoError(t, err)

	var sawSETB bool
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		require.NoError(t, err)
		if inst.Op == x86asm.SETB {
			sawSETB = true
		}
		off += inst.Len
	}
	require.True(t, sawSETB)
}

func TestLowerLoad_BoundBaseUsesDirectMemoryOperand(t *testing.T) {
	a, l := newTestLowering()
	l.LowerLd(a, rvtrace.A1, rvtrace.A0, 24)
	code, err := a.Assemble()
	require.NoError(t, err)
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, inst.Op)
	mem, ok := inst.Args[1].(x86asm.Mem)
	require.True(t, ok)
	require.EqualValues(t, 24, mem.Disp)
}

func TestLowerLoad_ZeroBaseStagesAbsoluteAddress(t *testing.T) {
	a, l := newTestLowering()
	l.LowerLw(a, rvtrace.A1, rvtrace.Zero, 0x4000)
	code, err := a.Assemble()
	require.NoError(t, err)

	first, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, first.Op)
	require.EqualValues(t, 0x4000, int64(first.Args[1].(x86asm.Imm)))

	second, err := x86asm.Decode(code[first.Len:], 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOVSXD, second.Op)
}

func TestLowerStore_ZeroSourceWritesExplicitZero(t *testing.T) {
	a, l := newTestLowering()
	l.LowerSd(a, rvtrace.A0, rvtrace.Zero, 8)
	code, err := a.Assemble()
	require.NoError(t, err)
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, inst.Op)
	_, isMem := inst.Args[0].(x86asm.Mem)
	require.True(t, isMem)
	require.EqualValues(t, 0, int64(inst.Args[1].(x86asm.Imm)))
}

func TestWriteConst_BoundDestinationLoadsFullWidthImmediate(t *testing.T) {
	a, l := newTestLowering()
	l.LowerFusionLi(a, rvtrace.A0, 0x0102030405060708)
	code, err := a.Assemble()
	require.NoError(t, err)
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, inst.Op)
	require.EqualValues(t, 0x0102030405060708, uint64(inst.Args[1].(x86asm.Imm)))
}

func TestWriteConst_SpilledDestinationStagesThroughScratch(t *testing.T) {
	a, l := newTestLowering()
	l.LowerLui(a, rvtrace.X21, 0x123456)
	code, err := a.Assemble()
	require.NoError(t, err)

	first, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, first.Op)
	require.Equal(t, x86asm.RAX, first.Args[0])

	second, err := x86asm.Decode(code[first.Len:], 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, second.Op)
	mem, ok := second.Args[0].(x86asm.Mem)
	require.True(t, ok)
	require.EqualValues(t, spillSlot(rvtrace.X21), mem.Disp)
}

func TestWriteConst_ZeroDestinationEmitsNothing(t *testing.T) {
	a, l := newTestLowering()
	l.LowerLui(a, rvtrace.Zero, 42)
	code, err := a.Assemble()
	require.NoError(t, err)
	require.Empty(t, code)
}
