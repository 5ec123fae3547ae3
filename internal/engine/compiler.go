package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// Compiler drives one trace's worth of compilation: a prologue, a sequence
// of per-instruction lowerings via TraceDriver, and an epilogue, all
// against a single Emitter whose Assemble produces the finished machine
// code.
type Compiler struct {
	e      asm.Emitter
	regs   *RegMap
	frame  *FrameIO
	driver *TraceDriver
	log    *logrus.Logger

	prologueDone bool
	finalized    bool
}

// New returns a Compiler emitting into e, logging per-instruction lowering
// at debug level through log (set log's level above debug to disable).
func New(e asm.Emitter, log *logrus.Logger) *Compiler {
	regs := NewRegMap()
	frame := NewFrameIO(regs)
	c := &Compiler{
		e:      e,
		regs:   regs,
		frame:  frame,
		driver: NewTraceDriver(regs, frame, log),
		log:    log,
	}
	e.OnError(func(err error) {
		log.WithError(err).Error("emitter reported an encoding error")
	})
	return c
}

// EmitPrologue must be called exactly once, before any EmitInstruction
// call.
func (c *Compiler) EmitPrologue() error {
	if c.prologueDone {
		return errors.New("engine: EmitPrologue called twice")
	}
	c.frame.EmitPrologue(c.e)
	c.prologueDone = true
	return nil
}

// EmitInstruction lowers one decoded instruction. predictedTaken is read
// only for conditional-branch opcodes: it is a best-effort guess (typically
// read from the embedding interpreter's live register state at compile
// time) at which way the branch will go. A wrong guess never changes the
// compiled code's correctness, only which side gets the more direct
// encoding. It returns continueTrace=false when inst's PC was already
// bound to a label earlier in this trace -- compiling it again would only
// duplicate work -- or when inst's opcode is not supported; the caller must
// then stop calling EmitInstruction and proceed to EmitEpilogue.
func (c *Compiler) EmitInstruction(inst rvtrace.Inst, predictedTaken bool) (continueTrace bool, err error) {
	if !c.prologueDone {
		return false, errors.New("engine: EmitInstruction called before EmitPrologue")
	}
	if c.finalized {
		return false, errors.New("engine: EmitInstruction called after EmitEpilogue")
	}
	return c.driver.Emit(c.e, inst, predictedTaken)
}

// EmitEpilogue terminates the trace's normal (fell-off-the-end) path at
// termPC when ranOffEnd is true, then emits the shared epilogue. Call it
// once, after the last EmitInstruction. When ranOffEnd is false termPC is
// ignored and no PC is stored on the fallthrough path. Every branch shape
// stores its own exit PCs inline, so nothing is left to store after a
// branch; non-branch lowerings store no PC, so after a non-branch the
// fallthrough PC reported by TermPC is stored only with ranOffEnd=true.
func (c *Compiler) EmitEpilogue(termPC uint64, ranOffEnd bool) error {
	if !c.prologueDone {
		return errors.New("engine: EmitEpilogue called before EmitPrologue")
	}
	if c.finalized {
		return errors.New("engine: EmitEpilogue called twice")
	}
	if ranOffEnd {
		c.frame.EmitExit(c.e, termPC, true)
	}
	c.frame.EmitEpilogue(c.e)
	c.finalized = true
	return nil
}

// Assemble finalizes the emitter and returns the compiled machine code.
func (c *Compiler) Assemble() ([]byte, error) {
	if !c.finalized {
		return nil, errors.New("engine: Assemble called before EmitEpilogue")
	}
	return c.e.Assemble()
}

// TermPC reports the PC the trace would resume at if it ended right now,
// mirroring TraceDriver.TermPC for callers (the public tracejit package)
// that decide when to stop feeding instructions.
func (c *Compiler) TermPC() (uint64, bool) {
	return c.driver.TermPC()
}
