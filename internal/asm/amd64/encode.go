package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w bool
	r bool
	x bool
	b bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

type memEncoding struct {
	modrm byte
	sib   []byte
	disp  []byte
	rex   rexState
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.base.validate(); err != nil {
		return memEncoding{}, err
	}

	enc := memEncoding{
		rex: rexState{b: mem.base.high()},
	}

	rm := mem.base.code()

	switch disp := mem.disp; {
	case disp == 0 && rm != 5:
		enc.modrm = 0x00
	case disp >= math.MinInt8 && disp <= math.MaxInt8:
		// [rbp] / [r13] with zero displacement must use an 8-bit zero.
		enc.modrm = 0x40
		enc.disp = []byte{byte(int8(disp))}
	default:
		enc.modrm = 0x80
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(disp))
		enc.disp = buf[:]
	}

	// rsp / r12 as a base always needs a SIB byte with no index.
	if rm == 4 {
		enc.sib = []byte{0x24}
	}

	enc.modrm |= rm
	return enc, nil
}

// encodeRegRM encodes opcode with a register-direct ModRM (mod=11).
func encodeRegRM(w bool, opcode []byte, reg byte, regHigh bool, rm Reg) ([]byte, error) {
	if err := rm.validate(); err != nil {
		return nil, err
	}
	rex := rexState{w: w, r: regHigh, b: rm.high()}

	out := make([]byte, 0, len(opcode)+2)
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	out = append(out, 0xC0|(reg&7)<<3|rm.code())
	return out, nil
}

// encodeMemRM encodes opcode with a memory ModRM operand.
func encodeMemRM(w bool, opcode []byte, reg byte, regHigh bool, mem Memory) ([]byte, error) {
	memEnc, err := encodeMemoryOperand(mem)
	if err != nil {
		return nil, err
	}
	rex := memEnc.rex
	rex.w = w
	rex.r = regHigh

	out := make([]byte, 0, len(opcode)+7)
	if p := rex.prefix(); p != 0 {
		out = append(out, p)
	}
	out = append(out, opcode...)
	out = append(out, memEnc.modrm|(reg&7)<<3)
	out = append(out, memEnc.sib...)
	out = append(out, memEnc.disp...)
	return out, nil
}

func encodePushPop(base byte, reg Reg) ([]byte, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}
	if reg.high() {
		return []byte{rexState{b: true}.prefix(), base + reg.code()}, nil
	}
	return []byte{base + reg.code()}, nil
}

func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	return encodeRegRM(true, []byte{0x89}, src.code(), src.high(), dst)
}

func encodeMovRegMem(dst Reg, mem Memory) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	return encodeMemRM(true, []byte{0x8B}, dst.code(), dst.high(), mem)
}

func encodeMovMemReg(mem Memory, src Reg) ([]byte, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	return encodeMemRM(true, []byte{0x89}, src.code(), src.high(), mem)
}

func encodeMovRegImm(dst Reg, value int64) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	if value >= math.MinInt32 && value <= math.MaxInt32 {
		out, err := encodeRegRM(true, []byte{0xC7}, 0, false, dst)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.AppendUint32(out, uint32(int32(value))), nil
	}
	out := []byte{rexState{w: true, b: dst.high()}.prefix(), 0xB8 + dst.code()}
	return binary.LittleEndian.AppendUint64(out, uint64(value)), nil
}

// encodeALURegImm encodes the 0x83 / 0x81 immediate group (add=0, sub=5, cmp=7).
func encodeALURegImm(subcode byte, dst Reg, value int32) ([]byte, error) {
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		out, err := encodeRegRM(true, []byte{0x83}, subcode, false, dst)
		if err != nil {
			return nil, err
		}
		return append(out, byte(int8(value))), nil
	}
	out, err := encodeRegRM(true, []byte{0x81}, subcode, false, dst)
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32(out, uint32(value)), nil
}

func encodeALURegReg(opcode byte, dst, src Reg) ([]byte, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	return encodeRegRM(true, []byte{opcode}, src.code(), src.high(), dst)
}

func encodeCmovRegReg(cc byte, dst, src Reg) ([]byte, error) {
	if err := dst.validate(); err != nil {
		return nil, err
	}
	return encodeRegRM(true, []byte{0x0F, 0x40 | cc}, dst.code(), dst.high(), src)
}

func encodeXorReg32(dst, src Reg) ([]byte, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	return encodeRegRM(false, []byte{0x31}, src.code(), src.high(), dst)
}

func encodeCallReg(target Reg) ([]byte, error) {
	return encodeRegRM(false, []byte{0xFF}, 2, false, target)
}

func encodePushMem(mem Memory) ([]byte, error) {
	return encodeMemRM(false, []byte{0xFF}, 6, false, mem)
}

func encodePushImm(value int32) []byte {
	if value >= math.MinInt8 && value <= math.MaxInt8 {
		return []byte{0x6A, byte(int8(value))}
	}
	return binary.LittleEndian.AppendUint32([]byte{0x68}, uint32(value))
}

func encodeRet(pop uint16) []byte {
	if pop == 0 {
		return []byte{0xC3}
	}
	return binary.LittleEndian.AppendUint16([]byte{0xC2}, pop)
}

func checkStackSlots(n int) error {
	if n < 0 || n > math.MaxUint16/8 {
		return fmt.Errorf("cannot pop %d stack slots on return", n)
	}
	return nil
}
