package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/rv2amd64/internal/asm/amd64"
)

func TestLabelTable_GetOrCreateIsIdempotentPerPC(t *testing.T) {
	a := amd64.NewAssembler()
	table := NewLabelTable()

	require.False(t, table.Seen(0x1000))
	n1 := table.GetOrCreate(a, 0x1000)
	require.True(t, table.Seen(0x1000))
	n2 := table.GetOrCreate(a, 0x1000)
	require.Same(t, n1, n2)
}

func TestLabelTable_LookupOnlyFindsRegisteredPCs(t *testing.T) {
	a := amd64.NewAssembler()
	table := NewLabelTable()

	_, ok := table.Lookup(0x2000)
	require.False(t, ok)

	created := table.GetOrCreate(a, 0x2000)
	found, ok := table.Lookup(0x2000)
	require.True(t, ok)
	require.Same(t, created, found)
}

func TestLabelTable_OrderIsFirstReferenced(t *testing.T) {
	a := amd64.NewAssembler()
	table := NewLabelTable()

	table.GetOrCreate(a, 0x300)
	table.GetOrCreate(a, 0x100)
	table.GetOrCreate(a, 0x300) // already seen: must not duplicate the order slice
	table.GetOrCreate(a, 0x200)

	require.Equal(t, []uint64{0x300, 0x100, 0x200}, table.Order())
}
