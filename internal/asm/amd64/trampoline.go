package amd64

import (
	"fmt"

	"github.com/tinyrange/miniffi/internal/asm"
)

// ABI describes how a C function receives word arguments on x86-64.
type ABI struct {
	Name string

	// Entry registers of the trampoline itself: target, argument vector, scratch cells.
	Fn, Argv, Scratch Reg

	// ArgRegs receive the leading arguments.
	ArgRegs []Reg

	// StackAll places every argument in the stack image, not just the ones
	// beyond ArgRegs. Win64 requires this for its register home slots.
	StackAll bool

	// MinStackSlots is the minimum stack image size in quadwords.
	MinStackSlots int
}

// SysV is the System V AMD64 convention (linux, darwin, freebsd).
var SysV = ABI{
	Name:    "sysv",
	Fn:      RDI,
	Argv:    RSI,
	Scratch: RDX,
	ArgRegs: []Reg{RDI, RSI, RDX, RCX, R8, R9},
}

// Win64 is the Microsoft x64 convention.
var Win64 = ABI{
	Name:          "win64",
	Fn:            RCX,
	Argv:          RDX,
	Scratch:       R8,
	ArgRegs:       []Reg{RCX, RDX, R8, R9},
	StackAll:      true,
	MinStackSlots: 4,
}

// StackSlots returns the argument indices pushed for an n-argument call, in
// push order (last argument first). -1 marks a zero filler slot.
func (abi ABI) StackSlots(n int) []int {
	first := 0
	if !abi.StackAll {
		first = len(abi.ArgRegs)
	}
	top := max(n, abi.MinStackSlots)

	var slots []int
	for i := top - 1; i >= first; i-- {
		if i < n {
			slots = append(slots, i)
		} else {
			slots = append(slots, -1)
		}
	}
	return slots
}

// Scratch cell offsets, in bytes, inside the scratch block passed to a trampoline.
const (
	ScratchSnapshot = 0
	ScratchAfter    = 8
	ScratchCells    = 2
)

// StackPushTrampoline returns a function with the C signature
//
//	uintptr trampoline(uintptr fn, const uintptr *argv, uintptr *scratch)
//
// that calls fn with n words taken from argv. It stores the stack pointer
// before pushing any argument in scratch[0], pushes the stack-resident words
// last-first, loads the register-resident words, calls fn, stores the stack
// pointer seen on return in scratch[1], and restores scratch[0] when the two
// differ. A callee that pops its own arguments leaves them equal; a callee
// that leaves its arguments for the caller is repaired here.
func StackPushTrampoline(abi ABI, n int) (asm.Fragment, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative argument count %d", n)
	}
	for _, r := range []Reg{abi.Fn, abi.Argv, abi.Scratch} {
		if r == RBX || r == RBP || r == R10 || r == R11 || r == RSP {
			return nil, fmt.Errorf("abi %s: entry register %s is reserved by the trampoline", abi.Name, r)
		}
	}

	slots := abi.StackSlots(n)

	// Entry rsp is 8 mod 16; after rbp and rbx it is 8 again. Pad so rsp is
	// 16-byte aligned at the call once every slot is pushed.
	pad := int32(8)
	if len(slots)%2 == 1 {
		pad = 16
	}

	frags := asm.Group{
		Push(RBP),
		MovReg(RBP, RSP),
		Push(RBX),
		SubRegImm(RSP, pad),
		MovReg(RBX, abi.Scratch),
		MovReg(R11, abi.Fn),
		MovReg(R10, abi.Argv),
		MovToMemory(Mem(RBX).WithDisp(ScratchSnapshot), RSP),
	}

	for _, idx := range slots {
		if idx < 0 {
			frags = append(frags, PushImmediate(0))
			continue
		}
		frags = append(frags, PushMemory(Mem(R10).WithDisp(int32(idx*8))))
	}

	for i, reg := range abi.ArgRegs {
		if i >= n {
			break
		}
		frags = append(frags, MovFromMemory(reg, Mem(R10).WithDisp(int32(i*8))))
	}

	frags = append(frags,
		// al carries the vector register count for variadic SysV callees.
		ZeroReg32(RAX),
		CallReg(R11),
		MovToMemory(Mem(RBX).WithDisp(ScratchAfter), RSP),
		MovFromMemory(RDX, Mem(RBX).WithDisp(ScratchSnapshot)),
		CmpReg(RDX, RSP),
		Cmov(CondNotEqual, RSP, RDX),
		MovFromMemory(RBX, Mem(RBP).WithDisp(-8)),
		Leave(),
		Ret(),
	)

	return frags, nil
}
