// Package starffi exposes the native call engine to Starlark scripts.
//
// Scripts see:
//
//	MiniFFI(library, function, imports=None, exports=None) -> native_function
//	Win32API(...)                                           same as MiniFFI
//	buffer(size_or_text)                                    -> buffer
//
// A native_function is callable directly or through its call/Call methods.
package starffi

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/tinyrange/miniffi/internal/ffi"
)

// Host owns the bindings scripts create and closes them together.
type Host struct {
	engine *ffi.Engine
	out    io.Writer

	mu       sync.Mutex
	bindings []*ffi.Binding
}

// NewHost returns a host binding through e. print() writes to out.
func NewHost(e *ffi.Engine, out io.Writer) *Host {
	if out == nil {
		out = os.Stdout
	}
	return &Host{engine: e, out: out}
}

// Predeclared returns the globals available to scripts.
func (h *Host) Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"MiniFFI":  starlark.NewBuiltin("MiniFFI", h.builtinMiniFFI),
		"Win32API": starlark.NewBuiltin("Win32API", h.builtinMiniFFI),
		"buffer":   starlark.NewBuiltin("buffer", builtinBuffer),
	}
}

func (h *Host) thread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(h.out, msg)
		},
	}
}

// Exec runs a script. src is anything syntax.Parse accepts: nil to read
// filename, a string, a []byte or an io.Reader.
func (h *Host) Exec(filename string, src any) (starlark.StringDict, error) {
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, h.thread(filename), filename, src, h.Predeclared())
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return globals, fmt.Errorf("%s", evalErr.Backtrace())
		}
		return globals, err
	}
	return globals, nil
}

// Close closes every binding the host's scripts created.
func (h *Host) Close() error {
	h.mu.Lock()
	bindings := h.bindings
	h.bindings = nil
	h.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exec runs a script against e and closes its bindings afterwards.
func Exec(filename string, src any, e *ffi.Engine) (starlark.StringDict, error) {
	h := NewHost(e, os.Stdout)
	defer h.Close()
	return h.Exec(filename, src)
}

// MiniFFI(library, function, imports=None, exports=None)
func (h *Host) builtinMiniFFI(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		library, function string
		imports           starlark.Value = starlark.None
		exports           starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"library", &library,
		"function", &function,
		"imports?", &imports,
		"exports?", &exports,
	); err != nil {
		return nil, err
	}

	spec, err := importsFromStarlark(imports)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}

	var export string
	switch v := exports.(type) {
	case starlark.NoneType:
	case starlark.String:
		export = string(v)
	default:
		return nil, fmt.Errorf("%s: exports: want string, got %s", fn.Name(), exports.Type())
	}

	b, err := h.engine.Bind(library, function, spec, export)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}

	h.mu.Lock()
	h.bindings = append(h.bindings, b)
	h.mu.Unlock()

	return &FunctionValue{Binding: b}, nil
}

// buffer(size_or_text)
func builtinBuffer(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var init starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &init); err != nil {
		return nil, err
	}

	switch v := init.(type) {
	case starlark.Int:
		size, err := starlark.AsInt32(v)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%s: invalid size %s", fn.Name(), v)
		}
		return &BufferValue{Buffer: ffi.NewBuffer(size)}, nil
	case starlark.String:
		return &BufferValue{Buffer: ffi.BufferFromString(string(v))}, nil
	case starlark.Bytes:
		return &BufferValue{Buffer: ffi.BufferFromBytes([]byte(string(v)))}, nil
	}
	return nil, fmt.Errorf("%s: want int, string or bytes, got %s", fn.Name(), init.Type())
}
