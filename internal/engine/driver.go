package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/tracejit/rv2amd64/internal/asm"
	"github.com/tracejit/rv2amd64/internal/asm/amd64"
	"github.com/tracejit/rv2amd64/rvtrace"
)

// TerminationModel tracks where the trace would resume execution if
// compilation stopped right after the last instruction Emit processed:
// NextPC() for an ordinary instruction, pc+imm for jal, or nothing
// meaningful after a
// branch (every branch shape fully resolves both of its own outcomes, so
// there is no separate fallthrough PC to track).
type TerminationModel struct {
	lastPC uint64
	valid  bool
}

// TraceDriver lowers one decoded instruction at a time into the Emitter.
// Every PC is given at most one label (deduplicated via LabelTable): if
// Emit is asked to compile a PC it has already bound in this trace, it
// declares the trace complete without emitting anything, since replaying
// that PC's code would only duplicate work the trace already did. It is the
// caller's responsibility to decide when to stop feeding instructions --
// Emit reports success, not policy.
type TraceDriver struct {
	regs   *RegMap
	frame  *FrameIO
	labels *LabelTable
	lower  *lowering
	log    *logrus.Logger
	term   TerminationModel
}

// NewTraceDriver wires regs and frame into a lowering context and returns a
// driver with an empty label table.
func NewTraceDriver(regs *RegMap, frame *FrameIO, log *logrus.Logger) *TraceDriver {
	return &TraceDriver{
		regs:   regs,
		frame:  frame,
		labels: NewLabelTable(),
		lower:  newLowering(regs, frame),
		log:    log,
	}
}

// Emit lowers inst. predictedTaken is read only for conditional-branch
// opcodes: it is a best-effort guess at which way the branch will go,
// typically read from the embedding interpreter's live register state at
// compile time. It only ever changes which of the four branch shapes gets
// emitted (which side becomes a direct intra-trace jump versus a
// store-PC-and-exit guard) -- a wrong guess still produces correct code,
// just a less direct one. Emit returns continueTrace=false when inst's PC
// was already bound to a label earlier in this same trace (compiling it
// again would only duplicate work, so the trace is complete) and when
// inst's opcode is not supported (nothing is emitted for it).
func (d *TraceDriver) Emit(e asm.Emitter, inst rvtrace.Inst, predictedTaken bool) (continueTrace bool, err error) {
	if d.labels.Seen(inst.PC) {
		d.log.WithField("pc", inst.PC).Debug("pc already compiled in this trace: trace complete")
		return false, nil
	}
	label := d.labels.GetOrCreate(e, inst.PC)
	e.Bind(label)
	d.log.WithFields(logrus.Fields{"pc": inst.PC, "op": inst.Op.String()}).Debug("lowering instruction")

	if inst.Op.IsBranch() {
		d.emitBranch(e, inst, predictedTaken)
		d.term = TerminationModel{}
		return true, nil
	}

	if !d.dispatch(e, inst) {
		d.log.WithFields(logrus.Fields{"pc": inst.PC, "op": inst.Op.String()}).Debug("unsupported opcode: trace complete")
		return false, nil
	}
	next := inst.NextPC()
	if inst.Op == rvtrace.OpJal {
		next = uint64(int64(inst.PC) + inst.Imm)
	}
	d.term = TerminationModel{lastPC: next, valid: true}
	return true, nil
}

// dispatch lowers inst's opcode and reports whether it recognized it. An
// unsupported opcode is not an error: it carries the same weight as a
// PC revisit, and the caller falls back to interpretation.
func (d *TraceDriver) dispatch(e asm.Emitter, inst rvtrace.Inst) bool {
	switch inst.Op {
	case rvtrace.OpAdd:
		d.lower.LowerAdd(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSub:
		d.lower.LowerSub(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpAnd:
		d.lower.LowerAnd(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpOr:
		d.lower.LowerOr(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpXor:
		d.lower.LowerXor(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpAddw:
		d.lower.LowerAddw(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSubw:
		d.lower.LowerSubw(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSll:
		d.lower.LowerSll(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSrl:
		d.lower.LowerSrl(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSra:
		d.lower.LowerSra(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSllw:
		d.lower.LowerSllw(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSrlw:
		d.lower.LowerSrlw(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSraw:
		d.lower.LowerSraw(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSlt:
		d.lower.LowerSlt(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpSltu:
		d.lower.LowerSltu(e, inst.Rd, inst.Rs1, inst.Rs2)
	case rvtrace.OpAddi:
		d.lower.LowerAddi(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpAndi:
		d.lower.LowerAndi(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpOri:
		d.lower.LowerOri(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpXori:
		d.lower.LowerXori(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpAddiw:
		d.lower.LowerAddiw(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSlti:
		d.lower.LowerSlti(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSltiu:
		d.lower.LowerSltiu(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSlli:
		d.lower.LowerSlli(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSrli:
		d.lower.LowerSrli(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSrai:
		d.lower.LowerSrai(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSlliw:
		d.lower.LowerSlliw(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSrliw:
		d.lower.LowerSrliw(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSraiw:
		d.lower.LowerSraiw(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLd:
		d.lower.LowerLd(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLw:
		d.lower.LowerLw(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLwu:
		d.lower.LowerLwu(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLh:
		d.lower.LowerLh(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLhu:
		d.lower.LowerLhu(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLb:
		d.lower.LowerLb(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpLbu:
		d.lower.LowerLbu(e, inst.Rd, inst.Rs1, inst.Imm)
	case rvtrace.OpSd:
		d.lower.LowerSd(e, inst.Rs1, inst.Rs2, inst.Imm)
	case rvtrace.OpSw:
		d.lower.LowerSw(e, inst.Rs1, inst.Rs2, inst.Imm)
	case rvtrace.OpSh:
		d.lower.LowerSh(e, inst.Rs1, inst.Rs2, inst.Imm)
	case rvtrace.OpSb:
		d.lower.LowerSb(e, inst.Rs1, inst.Rs2, inst.Imm)
	case rvtrace.OpAuipc:
		d.lower.LowerAuipc(e, inst.Rd, inst.PC, inst.Imm)
	case rvtrace.OpLui:
		d.lower.LowerLui(e, inst.Rd, inst.Imm)
	case rvtrace.OpJal:
		d.lower.LowerJal(e, inst.Rd, inst.NextPC())
	case rvtrace.OpFusionLi:
		d.lower.LowerFusionLi(e, inst.Rd, inst.Imm)
	case rvtrace.OpFusionLa:
		d.lower.LowerFusionLa(e, inst.Rd, inst.Imm)
	case rvtrace.OpFusionCall:
		d.lower.LowerFusionCall(e, inst.Rd, inst.NextPC())
	default:
		return false
	}
	return true
}

// emitBranch emits the flag-setting compare, then one of four shapes
// depending on whether the branch target and/or the fallthrough target
// already carry a label bound earlier in this trace (a back-edge closing a
// loop the trace has unrolled into itself):
//
//  1. both already labeled: two direct intra-trace jumps, no exit at all.
//  2. only the branch target is labeled: jump there directly when taken,
//     otherwise store the fallthrough PC and exit.
//  3. only the fallthrough target is labeled: jump there directly when not
//     taken, otherwise store the branch PC and exit.
//  4. neither is labeled: guard on the condition and exit either way,
//     storing whichever PC corresponds to the outcome.
//
// predictedTaken only selects which arm of shapes 2/3 the fast path favors
// when both targets are unlabeled-or-labeled in a way that leaves a choice;
// it never changes correctness.
func (d *TraceDriver) emitBranch(e asm.Emitter, inst rvtrace.Inst, predictedTaken bool) {
	d.lower.LowerBranchCompare(e, inst.Rs1, inst.Rs2)

	branchPC := uint64(int64(inst.PC) + inst.Imm)
	contPC := inst.NextPC()
	branchLabel, branchSeen := d.labels.Lookup(branchPC)
	contLabel, contSeen := d.labels.Lookup(contPC)
	taken := branchJcc(inst.Op)
	notTaken := invertJcc(taken)

	switch {
	case branchSeen && contSeen:
		e.CompileJumpToLabel(taken, branchLabel)
		e.CompileJumpToLabel(amd64.JMP, contLabel)
	case predictedTaken && branchSeen:
		e.CompileJumpToLabel(taken, branchLabel)
		d.frame.EmitExit(e, contPC, false)
	case !predictedTaken && contSeen:
		e.CompileJumpToLabel(notTaken, contLabel)
		d.frame.EmitExit(e, branchPC, false)
	default:
		l := e.NewLabel()
		e.CompileJumpToLabel(taken, l)
		d.frame.EmitExit(e, contPC, false)
		e.Bind(l)
		d.frame.EmitExit(e, branchPC, false)
	}
}

// TermPC reports the PC execution would resume at if the trace ends right
// after the last instruction Emit processed, and whether that is
// meaningful (it is not, immediately after a branch: every branch shape
// fully resolves its own exits).
func (d *TraceDriver) TermPC() (uint64, bool) {
	return d.term.lastPC, d.term.valid
}
