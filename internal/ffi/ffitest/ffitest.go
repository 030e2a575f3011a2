// Package ffitest provides an in-process stand-in for a dynamic loader and a
// calling convention, so engine behaviour can be tested without native code.
package ffitest

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/tinyrange/miniffi/internal/ffi"
)

// Func implements a fake native function over raw argument words.
type Func func(words []uintptr) uintptr

// Host is both an ffi.Loader and an ffi.Convention. Libraries exist once a
// function has been defined in them. Function addresses are synthetic and
// only meaningful to the Host that issued them.
type Host struct {
	mu       sync.Mutex
	libs     map[string]map[string]uintptr
	funcs    map[uintptr]Func
	handles  map[uintptr]string
	next     uintptr
	maxArgs  int
	drift    int64
	calls    int
	unloaded int
}

var (
	_ ffi.Loader     = (*Host)(nil)
	_ ffi.Convention = (*Host)(nil)
)

// New returns an empty host that accepts up to ffi.FixedArityArgs arguments.
func New() *Host {
	return &Host{
		libs:    make(map[string]map[string]uintptr),
		funcs:   make(map[uintptr]Func),
		handles: make(map[uintptr]string),
		next:    0x1000,
		maxArgs: ffi.FixedArityArgs,
	}
}

// Define registers fn as library!name and returns its address.
func (h *Host) Define(library, name string, fn Func) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()

	syms, ok := h.libs[library]
	if !ok {
		syms = make(map[string]uintptr)
		h.libs[library] = syms
	}
	h.next += 0x10
	syms[name] = h.next
	h.funcs[h.next] = fn
	return h.next
}

// SetMaxArgs changes the limit reported by MaxArgs.
func (h *Host) SetMaxArgs(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxArgs = n
}

// SetDrift makes every later call report a repaired stack with this drift.
// Zero turns repair reporting off.
func (h *Host) SetDrift(drift int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drift = drift
}

func (h *Host) Load(path string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.libs[path]; !ok {
		return 0, fmt.Errorf("%s: cannot open shared object file: No such file or directory", path)
	}
	h.next += 0x10
	h.handles[h.next] = path
	return h.next, nil
}

func (h *Host) Resolve(handle uintptr, name string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lib, ok := h.handles[handle]
	if !ok {
		return 0, fmt.Errorf("invalid handle %#x", handle)
	}
	addr, ok := h.libs[lib][name]
	if !ok {
		return 0, fmt.Errorf("%s: undefined symbol: %s", lib, name)
	}
	return addr, nil
}

func (h *Host) Unload(handle uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.handles[handle]; !ok {
		return fmt.Errorf("invalid handle %#x", handle)
	}
	delete(h.handles, handle)
	h.unloaded++
	return nil
}

// OpenHandles returns the number of loaded, not yet unloaded libraries.
func (h *Host) OpenHandles() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// Unloaded returns how many handles have been released.
func (h *Host) Unloaded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unloaded
}

// Calls returns how many times Invoke reached a function.
func (h *Host) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func (h *Host) Name() string { return "ffitest" }

func (h *Host) MaxArgs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxArgs
}

func (h *Host) Invoke(fn uintptr, words []uintptr) (ffi.Outcome, error) {
	h.mu.Lock()
	f, ok := h.funcs[fn]
	limit, drift := h.maxArgs, h.drift
	if ok {
		h.calls++
	}
	h.mu.Unlock()

	if !ok {
		return ffi.Outcome{}, fmt.Errorf("no function at %#x", fn)
	}
	if len(words) > limit {
		return ffi.Outcome{}, &ffi.TooManyParametersError{Got: len(words), Max: limit}
	}
	return ffi.Outcome{
		Word:     f(append([]uintptr(nil), words...)),
		Repaired: drift != 0,
		Drift:    drift,
	}, nil
}

// Bytes views n bytes of memory at addr, which must be an address the engine
// passed to a fake function during the current call.
func Bytes(addr uintptr, n int) []byte {
	if addr == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// CStringLen returns the length of the NUL-terminated string at addr.
func CStringLen(addr uintptr) int {
	if addr == 0 {
		return 0
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(addr), n)) != 0 {
		n++
	}
	return n
}
