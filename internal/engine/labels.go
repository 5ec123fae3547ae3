package engine

import "github.com/tracejit/rv2amd64/internal/asm"

// LabelTable maps guest PCs to their emitted Node, in first-seen order.
// Only one label is ever bound per PC: a branch that targets a PC the trace
// has already visited reuses the existing label instead of allocating a
// second one at the same address.
type LabelTable struct {
	index map[uint64]asm.Node
	order []uint64
}

// NewLabelTable returns an empty table.
func NewLabelTable() *LabelTable {
	return &LabelTable{index: make(map[uint64]asm.Node)}
}

// Lookup returns the Node already allocated for pc, if any.
func (t *LabelTable) Lookup(pc uint64) (asm.Node, bool) {
	n, ok := t.index[pc]
	return n, ok
}

// GetOrCreate returns the existing Node for pc, or allocates a new
// (unbound) one via e.NewLabel and records it.
func (t *LabelTable) GetOrCreate(e asm.Emitter, pc uint64) asm.Node {
	if n, ok := t.index[pc]; ok {
		return n
	}
	n := e.NewLabel()
	t.index[pc] = n
	t.order = append(t.order, pc)
	return n
}

// Seen reports whether pc already has an allocated label, whether or not it
// has been bound yet.
func (t *LabelTable) Seen(pc uint64) bool {
	_, ok := t.index[pc]
	return ok
}

// Order returns the PCs in first-referenced order, for deterministic
// diagnostics.
func (t *LabelTable) Order() []uint64 {
	return t.order
}
