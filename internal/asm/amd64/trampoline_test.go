package amd64

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	"github.com/tinyrange/miniffi/internal/asm"
)

func TestStackSlots(t *testing.T) {
	tests := []struct {
		abi  ABI
		n    int
		want []int
	}{
		{SysV, 0, nil},
		{SysV, 6, nil},
		{SysV, 8, []int{7, 6}},
		{Win64, 0, []int{-1, -1, -1, -1}},
		{Win64, 1, []int{-1, -1, -1, 0}},
		{Win64, 5, []int{4, 3, 2, 1, 0}},
	}
	for _, tt := range tests {
		if got := tt.abi.StackSlots(tt.n); !slices.Equal(got, tt.want) {
			t.Fatalf("%s.StackSlots(%d)=%v, want %v", tt.abi.Name, tt.n, got, tt.want)
		}
	}
}

func TestStackPushTrampolineSysV(t *testing.T) {
	frag, err := StackPushTrampoline(SysV, 2)
	if err != nil {
		t.Fatalf("StackPushTrampoline failed: %v", err)
	}
	prog, err := asm.Assemble(frag)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	want := strings.Join([]string{
		"55",       // push rbp
		"4889e5",   // mov rbp, rsp
		"53",       // push rbx
		"4883ec08", // sub rsp, 8
		"4889d3",   // mov rbx, rdx
		"4989fb",   // mov r11, rdi
		"4989f2",   // mov r10, rsi
		"488923",   // mov [rbx], rsp
		"498b3a",   // mov rdi, [r10]
		"498b7208", // mov rsi, [r10+8]
		"31c0",     // xor eax, eax
		"41ffd3",   // call r11
		"48896308", // mov [rbx+8], rsp
		"488b13",   // mov rdx, [rbx]
		"4839e2",   // cmp rdx, rsp
		"480f45e2", // cmovne rsp, rdx
		"488b5df8", // mov rbx, [rbp-8]
		"c9",       // leave
		"c3",       // ret
	}, "")

	if got := prog.Bytes(); !bytes.Equal(got, mustHex(t, want)) {
		t.Fatalf("trampoline=%x\nwant       %s", got, want)
	}
}

func TestStackPushTrampolinePadsOddSlots(t *testing.T) {
	even, err := StackPushTrampoline(SysV, 8)
	if err != nil {
		t.Fatalf("StackPushTrampoline failed: %v", err)
	}
	odd, err := StackPushTrampoline(SysV, 7)
	if err != nil {
		t.Fatalf("StackPushTrampoline failed: %v", err)
	}

	evenProg, err := asm.Assemble(even)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	oddProg, err := asm.Assemble(odd)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if !bytes.Contains(evenProg.Bytes(), mustHex(t, "4883ec08")) {
		t.Fatalf("even slot count should pad by 8: %x", evenProg.Bytes())
	}
	if !bytes.Contains(oddProg.Bytes(), mustHex(t, "4883ec10")) {
		t.Fatalf("odd slot count should pad by 16: %x", oddProg.Bytes())
	}
}

func TestStackPushTrampolineWin64PushesHomeSlots(t *testing.T) {
	frag, err := StackPushTrampoline(Win64, 1)
	if err != nil {
		t.Fatalf("StackPushTrampoline failed: %v", err)
	}
	prog, err := asm.Assemble(frag)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	code := prog.Bytes()

	// three zero fillers then argument 0, then rcx loaded from [r10]
	if !bytes.Contains(code, mustHex(t, "6a006a006a0041ff32498b0a")) {
		t.Fatalf("missing home slot pushes: %x", code)
	}
	// entry registers rcx, rdx, r8
	if !bytes.Contains(code, mustHex(t, "4c89c3"+"4989cb"+"4989d2")) {
		t.Fatalf("missing win64 entry moves: %x", code)
	}
}

func TestStackPushTrampolineRejectsReservedEntry(t *testing.T) {
	abi := SysV
	abi.Scratch = RBX
	if _, err := StackPushTrampoline(abi, 1); err == nil {
		t.Fatalf("expected error for reserved scratch register")
	}
}
