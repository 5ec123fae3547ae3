package tracejit

import "unsafe"

// Processor is the fixed-layout struct a compiled trace's single pointer
// argument addresses (SysV AMD64 passes it in rdi; the compiled prologue
// immediately copies it into rbp for the trace's lifetime). Its field order
// must exactly match internal/engine's frame layout: 32 guest integer
// register slots, in RISC-V register-number order, followed by the PC.
type Processor struct {
	IntRegs [32]uint64
	PC      uint64
}

func init() {
	if unsafe.Offsetof(Processor{}.IntRegs) != 0 {
		panic("tracejit: Processor.IntRegs must be the struct's first field")
	}
	if unsafe.Offsetof(Processor{}.PC) != 32*8 {
		panic("tracejit: Processor.PC has drifted from internal/engine's frame offsets")
	}
}
