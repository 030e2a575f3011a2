// Package asm holds the architecture-neutral half of the trampoline assembler:
// fragments that emit machine code into a context, finished programs, and
// executable memory to run them from.
package asm

import (
	"errors"
	"fmt"
)

// ErrExecUnsupported is returned when the host cannot map executable memory.
var ErrExecUnsupported = errors.New("executable memory not supported on this platform")

// Context receives encoded instructions.
type Context interface {
	EmitBytes(data []byte)
	// Offset returns the number of bytes emitted so far.
	Offset() int
}

// Fragment is a piece of machine code.
type Fragment interface {
	Emit(ctx Context) error
}

// Group emits its fragments in order.
type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Raw emits the given bytes verbatim.
type Raw []byte

func (r Raw) Emit(ctx Context) error {
	ctx.EmitBytes(r)
	return nil
}

type buffer struct {
	code []byte
}

func (b *buffer) EmitBytes(data []byte) { b.code = append(b.code, data...) }
func (b *buffer) Offset() int           { return len(b.code) }

// Program is a finished, position-independent block of machine code.
type Program struct {
	code []byte
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

func NewProgram(code []byte) Program {
	return Program{code: append([]byte(nil), code...)}
}

// Assemble emits f into a new Program.
func Assemble(f Fragment) (Program, error) {
	buf := &buffer{}
	if err := f.Emit(buf); err != nil {
		return Program{}, fmt.Errorf("emit program: %w", err)
	}
	if len(buf.code) == 0 {
		return Program{}, fmt.Errorf("emit program: empty code")
	}
	return Program{code: buf.code}, nil
}

// Executable is a program mapped into read+execute memory.
type Executable struct {
	entry   uintptr
	size    int
	release func() error
}

// Entry returns the address of the first instruction.
func (e *Executable) Entry() uintptr {
	if e == nil {
		return 0
	}
	return e.entry
}

// Size returns the mapped size in bytes.
func (e *Executable) Size() int {
	return e.size
}

// Release unmaps the program. The entry address must not be called afterwards.
func (e *Executable) Release() error {
	if e == nil || e.release == nil {
		return nil
	}
	release := e.release
	e.release = nil
	e.entry = 0
	return release()
}

// Map copies p into freshly allocated memory and makes it executable.
func Map(p Program) (*Executable, error) {
	if len(p.code) == 0 {
		return nil, fmt.Errorf("map program: empty code")
	}
	return mapExecutable(p.code)
}

func roundToPage(size, page int) int {
	return ((size + page - 1) / page) * page
}
