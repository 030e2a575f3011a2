package ffi

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/tinyrange/miniffi/internal/asm"
	"github.com/tinyrange/miniffi/internal/asm/amd64"
)

// StackPushArgs is the argument limit of the stack-push adapter.
const StackPushArgs = 32

// StackAdapter calls through per-arity machine-code trampolines that push the
// arguments themselves and restore the stack pointer afterwards if the callee
// did not leave it where it was before the arguments were pushed.
//
// It works for both caller-pops and callee-pops functions without knowing
// which one it is calling; Outcome.Repaired says which one it was.
type StackAdapter struct {
	abi amd64.ABI

	// inflight is held shared for the duration of each call so Close cannot
	// unmap a trampoline that is still executing.
	inflight sync.RWMutex

	mu          sync.Mutex
	trampolines map[int]*asm.Executable
	closed      bool
}

// StackPush returns the stack-push adapter for the host ABI, or
// ErrConventionUnsupported when the host is not amd64 or cannot map
// executable memory.
func StackPush() (*StackAdapter, error) {
	if hostABI == nil || !nativeCalls {
		return nil, ErrConventionUnsupported
	}
	return newStackAdapter(*hostABI), nil
}

func newStackAdapter(abi amd64.ABI) *StackAdapter {
	return &StackAdapter{
		abi:         abi,
		trampolines: make(map[int]*asm.Executable),
	}
}

func (s *StackAdapter) Name() string { return "stack" }

func (s *StackAdapter) MaxArgs() int { return StackPushArgs }

// ABI returns the register layout the trampolines are built for.
func (s *StackAdapter) ABI() amd64.ABI { return s.abi }

func (s *StackAdapter) trampoline(n int) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if exe, ok := s.trampolines[n]; ok {
		return exe.Entry(), nil
	}

	frag, err := amd64.StackPushTrampoline(s.abi, n)
	if err != nil {
		return 0, fmt.Errorf("build %d-argument trampoline: %w", n, err)
	}
	prog, err := asm.Assemble(frag)
	if err != nil {
		return 0, fmt.Errorf("assemble %d-argument trampoline: %w", n, err)
	}
	exe, err := asm.Map(prog)
	if err != nil {
		return 0, fmt.Errorf("map %d-argument trampoline: %w", n, err)
	}
	s.trampolines[n] = exe
	return exe.Entry(), nil
}

func (s *StackAdapter) Invoke(fn uintptr, words []uintptr) (Outcome, error) {
	if fn == 0 {
		return Outcome{}, fmt.Errorf("invoke: nil function address")
	}
	if len(words) > StackPushArgs {
		return Outcome{}, &TooManyParametersError{Got: len(words), Max: StackPushArgs}
	}

	s.inflight.RLock()
	defer s.inflight.RUnlock()

	entry, err := s.trampoline(len(words))
	if err != nil {
		return Outcome{}, err
	}

	argv := make([]uintptr, max(len(words), 1))
	copy(argv, words)
	scratch := new([amd64.ScratchCells]uintptr)

	var pinner runtime.Pinner
	pinner.Pin(&argv[0])
	pinner.Pin(scratch)
	defer pinner.Unpin()

	r1, err := syscallN(entry, fn,
		uintptr(unsafe.Pointer(&argv[0])),
		uintptr(unsafe.Pointer(scratch)))
	if err != nil {
		return Outcome{}, err
	}

	before, after := scratch[0], scratch[1]
	return Outcome{
		Word:     r1,
		Repaired: before != after,
		Drift:    int64(before) - int64(after),
	}, nil
}

// Compiled returns the arities with a cached trampoline.
func (s *StackAdapter) Compiled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trampolines)
}

// Close waits for in-flight calls, then unmaps every cached trampoline.
// Calls made afterwards fail with ErrClosed.
func (s *StackAdapter) Close() error {
	s.inflight.Lock()
	defer s.inflight.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var firstErr error
	for n, exe := range s.trampolines {
		if err := exe.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.trampolines, n)
	}
	return firstErr
}
