package amd64

import (
	"github.com/tinyrange/miniffi/internal/asm"
)

// Condition codes for Cmov.
const (
	CondEqual    byte = 0x4
	CondNotEqual byte = 0x5
)

func Push(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePushPop(0x50, reg) })
}

func Pop(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePushPop(0x58, reg) })
}

// PushMemory pushes the quadword at mem.
func PushMemory(mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodePushMem(mem) })
}

// PushImmediate pushes a sign-extended 32-bit immediate.
func PushImmediate(value int32) asm.Fragment {
	return asm.Raw(encodePushImm(value))
}

func MovReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegReg(dst, src) })
}

func MovImmediate(dst Reg, value int64) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegImm(dst, value) })
}

func MovToMemory(mem Memory, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovMemReg(mem, src) })
}

func MovFromMemory(dst Reg, mem Memory) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeMovRegMem(dst, mem) })
}

func AddReg(dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x01, dst, src) })
}

func AddRegImm(dst Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(0, dst, value) })
}

func SubRegImm(dst Reg, value int32) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegImm(5, dst, value) })
}

// CmpReg sets flags from a - b.
func CmpReg(a, b Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeALURegReg(0x39, a, b) })
}

// Cmov moves src into dst when the condition holds.
func Cmov(cond byte, dst, src Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeCmovRegReg(cond, dst, src) })
}

// ZeroReg32 clears the low 32 bits of reg, which zero-extends to the full register.
func ZeroReg32(reg Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeXorReg32(reg, reg) })
}

func CallReg(target Reg) asm.Fragment {
	return encoded(func() ([]byte, error) { return encodeCallReg(target) })
}

// Leave restores rsp from rbp and pops rbp.
func Leave() asm.Fragment {
	return asm.Raw{0xC9}
}

func Ret() asm.Fragment {
	return asm.Raw(encodeRet(0))
}

// RetPop returns and releases slots quadwords of caller stack (callee-pops).
func RetPop(slots int) asm.Fragment {
	return encoded(func() ([]byte, error) {
		if err := checkStackSlots(slots); err != nil {
			return nil, err
		}
		return encodeRet(uint16(slots * 8)), nil
	})
}
