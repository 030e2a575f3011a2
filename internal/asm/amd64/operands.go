package amd64

import (
	"fmt"

	"github.com/tinyrange/miniffi/internal/asm"
)

// Reg is a 64-bit general-purpose register, numbered by its hardware encoding.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

func (r Reg) validate() error {
	if r > R15 {
		return fmt.Errorf("invalid register %d", uint8(r))
	}
	return nil
}

// code is the low three bits placed in ModRM/SIB/opcode.
func (r Reg) code() byte { return byte(r) & 7 }

// high reports whether the register needs a REX extension bit.
func (r Reg) high() bool { return r >= R8 }

// Memory describes a [base + disp] effective address.
type Memory struct {
	base Reg
	disp int32
}

// Mem constructs a memory operand referencing [base].
func Mem(base Reg) Memory {
	return Memory{base: base}
}

// WithDisp returns a copy of the memory operand with the supplied displacement.
func (m Memory) WithDisp(disp int32) Memory {
	m.disp = disp
	return m
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error { return f(ctx) }

func encoded(encode func() ([]byte, error)) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encode()
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}
