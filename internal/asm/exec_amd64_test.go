//go:build (linux || darwin || freebsd) && amd64

package asm

import (
	"testing"

	"github.com/ebitengine/purego"
)

func TestMapAndCall(t *testing.T) {
	// mov rax, rdi; add rax, rsi; ret
	exe, err := Map(NewProgram([]byte{0x48, 0x89, 0xF8, 0x48, 0x01, 0xF0, 0xC3}))
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer exe.Release()

	if exe.Entry() == 0 {
		t.Fatalf("Entry()=0")
	}
	if exe.Size() < 7 {
		t.Fatalf("Size()=%d, want at least 7", exe.Size())
	}

	r1, _, _ := purego.SyscallN(exe.Entry(), 3, 4)
	if got, want := r1, uintptr(7); got != want {
		t.Fatalf("add(3, 4)=%d, want %d", got, want)
	}

	if err := exe.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if exe.Entry() != 0 {
		t.Fatalf("Entry() after Release = 0x%x, want 0", exe.Entry())
	}
}
