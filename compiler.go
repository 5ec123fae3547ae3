package tracejit

import (
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/internal/engine"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// Compiler turns one trace's worth of decoded instructions into x86-64
// machine code. Create one per trace with NewCompiler; it is not safe for
// concurrent use and is not reused across traces.
type Compiler struct {
	inner *engine.Compiler
}

// NewCompiler returns a Compiler ready to receive EmitPrologue.
func NewCompiler(opts ...Option) *Compiler {
	cfg := newConfig(opts)
	a := amd64.NewAssembler()
	return &Compiler{inner: engine.New(a, cfg.logger())}
}

// EmitPrologue emits the trace's fixed entry sequence: adopt the incoming
// Processor pointer as the frame base and load every statically bound
// guest register out of its Processor.IntRegs slot. Call this exactly once,
// before any EmitInstruction.
func (c *Compiler) EmitPrologue() error {
	return c.inner.EmitPrologue()
}

// EmitInstruction lowers one decoded instruction. predictedTaken is only
// consulted for conditional-branch opcodes: it is a best-effort guess, read
// from the embedding interpreter's live register state at compile time, at
// which way the branch will go. Guessing wrong never changes the compiled
// code's correctness, only which side of the branch gets the more direct
// encoding. It returns continueTrace=false when inst's PC was already
// compiled earlier in this trace (a back-edge closing a loop the trace has
// unrolled into itself) or when inst's opcode is not supported; the caller
// must then stop and call EmitEpilogue.
func (c *Compiler) EmitInstruction(inst rvtrace.Inst, predictedTaken bool) (continueTrace bool, err error) {
	return c.inner.EmitInstruction(inst, predictedTaken)
}

// EmitEpilogue closes out the trace. When ranOffEnd is true, termPC is the
// guest PC execution should resume at and is stored into Processor.PC
// before falling into the shared exit path; when ranOffEnd is false, termPC
// is ignored and nothing is stored on that path. Every branch shape stores
// its own exit PCs inline as it is emitted; non-branch lowerings store no
// PC, so after a non-branch instruction the PC reported by TermPC is stored
// only with ranOffEnd=true.
func (c *Compiler) EmitEpilogue(termPC uint64, ranOffEnd bool) error {
	return c.inner.EmitEpilogue(termPC, ranOffEnd)
}

// Finalize resolves every forward-referenced label and returns the
// assembled machine code. Call it once, after EmitEpilogue.
func (c *Compiler) Finalize() ([]byte, error) {
	return c.inner.Assemble()
}

// TermPC reports the PC execution would resume at if the trace ended right
// after the last EmitInstruction call, for callers deciding whether to keep
// extending the trace or stop and call EmitEpilogue.
func (c *Compiler) TermPC() (uint64, bool) {
	return c.inner.TermPC()
}
