package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

func TestRegMap_FixedBindings(t *testing.T) {
	regs := NewRegMap()

	cases := []struct {
		name string
		g    rvtrace.Reg
		host byte
	}{
		{"ra", rvtrace.RA, byte(amd64.RDX)},
		{"sp", rvtrace.SP, byte(amd64.RBX)},
		{"t0", rvtrace.T0, byte(amd64.RSI)},
		{"t1", rvtrace.T1, byte(amd64.RDI)},
		{"a0", rvtrace.A0, byte(amd64.R8)},
		{"a1", rvtrace.A1, byte(amd64.R9)},
		{"a2", rvtrace.A2, byte(amd64.R10)},
		{"a3", rvtrace.A3, byte(amd64.R11)},
		{"a4", rvtrace.A4, byte(amd64.R12)},
		{"a5", rvtrace.A5, byte(amd64.R13)},
		{"a6", rvtrace.A6, byte(amd64.R14)},
		{"a7", rvtrace.A7, byte(amd64.R15)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, ok := regs.HostOf(tc.g)
			require.True(t, ok)
			require.Equal(t, tc.host, byte(host))
			require.True(t, regs.Bound(tc.g))
		})
	}
}

func TestRegMap_ZeroAndUnboundRegistersNeverBind(t *testing.T) {
	regs := NewRegMap()

	_, ok := regs.HostOf(rvtrace.Zero)
	require.False(t, ok)
	require.False(t, regs.Bound(rvtrace.Zero))

	// x3, x4, x8, x9 and x18-x31 (s-registers, gp, tp) are deliberately left
	// unbound: there are only 12 usable integer host registers available
	// after reserving rax/rcx as scratch, rbp as the frame base and rsp as
	// the stack pointer, and all 12 are taken.
	for _, g := range []rvtrace.Reg{rvtrace.X3, rvtrace.X4, rvtrace.X8, rvtrace.X9, rvtrace.X18, rvtrace.X31} {
		require.False(t, regs.Bound(g), "x%d should be unbound", g)
	}
}

func TestRegMap_ScratchNeverBound(t *testing.T) {
	regs := NewRegMap()
	bound := regs.BoundHostRegisters()
	for _, r := range bound {
		require.NotEqual(t, amd64.RAX, r)
		require.NotEqual(t, amd64.RCX, r)
	}
}

func TestSpillSlotStride(t *testing.T) {
	require.EqualValues(t, 0, spillSlot(rvtrace.X0))
	require.EqualValues(t, 8, spillSlot(rvtrace.X1))
	require.EqualValues(t, 31*8, spillSlot(rvtrace.X31))
}
