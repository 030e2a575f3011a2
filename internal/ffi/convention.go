package ffi

import "fmt"

// Outcome is the result of one native invocation.
type Outcome struct {
	// Word is the raw return register.
	Word uintptr

	// Repaired reports that the stack pointer differed after the call and
	// was restored. Only stack-pushing adapters set it.
	Repaired bool

	// Drift is the pre-call minus post-call stack pointer in bytes. Positive
	// means the callee left its arguments on the stack (caller-pops).
	Drift int64
}

// Convention invokes a native function with already-marshaled words.
//
// Implementations own everything architecture-specific about a call; the
// rest of the package only sees words in and a word out.
type Convention interface {
	Name() string

	// MaxArgs is the largest argument count Invoke accepts.
	MaxArgs() int

	Invoke(fn uintptr, words []uintptr) (Outcome, error)
}

// FixedArityArgs is the argument count of the fixed-arity adapter.
const FixedArityArgs = 8

// fixedArity calls every function as if it took exactly FixedArityArgs words
// under the platform's default C convention. Unused trailing words are zero.
type fixedArity struct{}

// FixedArity returns the fixed-arity direct-call adapter.
func FixedArity() Convention { return fixedArity{} }

func (fixedArity) Name() string { return "fixed" }

func (fixedArity) MaxArgs() int { return FixedArityArgs }

func (fixedArity) Invoke(fn uintptr, words []uintptr) (Outcome, error) {
	if fn == 0 {
		return Outcome{}, fmt.Errorf("invoke: nil function address")
	}
	if len(words) > FixedArityArgs {
		return Outcome{}, &TooManyParametersError{Got: len(words), Max: FixedArityArgs}
	}

	var params [FixedArityArgs]uintptr
	copy(params[:], words)

	r1, err := syscallN(fn, params[:]...)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Word: r1}, nil
}
