// Package tracejit compiles a linear trace of decoded RV64IM instructions
// (plus a small set of fusion pseudo-ops synthesized upstream: load-
// immediate, load-address, and call) into x86-64 machine code, one
// instruction at a time.
//
// The compiler uses a fixed static guest-to-host register binding rather
// than cross-trace register allocation: see internal/engine.RegMap. The
// decoder, disassembler, and fusion recognizer that produce rvtrace.Inst
// records, the memory subsystem a compiled trace's loads and stores
// address, and the concrete x86-64 encoder (internal/asm/amd64.Assembler)
// are treated as separate collaborators wired together here.
package tracejit
