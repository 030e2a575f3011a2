package asm

import (
	"bytes"
	"testing"
)

func TestAssembleGroup(t *testing.T) {
	prog, err := Assemble(Group{Raw{0x90}, Group{Raw{0x90, 0xC3}}})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got, want := prog.Bytes(), []byte{0x90, 0x90, 0xC3}; !bytes.Equal(got, want) {
		t.Fatalf("Bytes()=%x, want %x", got, want)
	}
	if got, want := prog.Len(), 3; got != want {
		t.Fatalf("Len()=%d, want %d", got, want)
	}
}

func TestAssembleEmpty(t *testing.T) {
	if _, err := Assemble(Group{}); err == nil {
		t.Fatalf("expected error for empty program")
	}
	if _, err := Map(Program{}); err == nil {
		t.Fatalf("expected error mapping empty program")
	}
}

func TestProgramBytesIsCopy(t *testing.T) {
	prog := NewProgram([]byte{0xC3})
	b := prog.Bytes()
	b[0] = 0x90
	if got := prog.Bytes()[0]; got != 0xC3 {
		t.Fatalf("program mutated through Bytes(): %x", got)
	}
}

func TestReleaseNil(t *testing.T) {
	var exe *Executable
	if err := exe.Release(); err != nil {
		t.Fatalf("Release on nil: %v", err)
	}
	if exe.Entry() != 0 {
		t.Fatalf("Entry on nil should be 0")
	}
}
