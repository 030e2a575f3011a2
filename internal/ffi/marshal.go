package ffi

import (
	"runtime"
	"unsafe"
)

// Frame collects the marshaled words of one native call together with the
// memory lent to it. Every address handed out by a Frame stays valid and
// pinned until Release.
type Frame struct {
	words  []uintptr
	pinner runtime.Pinner
	lent   []*Buffer
	owned  [][]byte
}

// NewFrame returns a frame with room for n words.
func NewFrame(n int) *Frame {
	return &Frame{words: make([]uintptr, 0, n)}
}

// Words returns the words marshaled so far.
func (f *Frame) Words() []uintptr {
	return f.words
}

// Marshal converts v under tag, appends the word to the frame and returns it.
//
//   - Pointer: nil is 0; integers and unsafe.Pointer are used as the address;
//     a string is copied into a private NUL-terminated buffer; a []byte or
//     *Buffer lends its own memory, which native code may write through.
//   - Bool: 1 when Truthy(v), else 0.
//   - Integer: the numeric value masked to its low 32 bits.
//   - Number and any other tag: the numeric value wrapped to the word width.
func (f *Frame) Marshal(tag Tag, v any) (uintptr, error) {
	index := len(f.words)

	var (
		word uintptr
		err  error
	)
	switch tag {
	case Pointer:
		word, err = f.pointerWord(v)
	case Bool:
		if Truthy(v) {
			word = 1
		}
	case Integer:
		word, err = numericWord(v)
		word &= 0xFFFFFFFF
	default:
		word, err = numericWord(v)
	}
	if err != nil {
		return 0, &TypeCoercionError{Index: index, Tag: tag, Value: v, Err: err}
	}

	f.words = append(f.words, word)
	return word, nil
}

func (f *Frame) pointerWord(v any) (uintptr, error) {
	switch p := v.(type) {
	case nil:
		return 0, nil
	case *Buffer:
		if p == nil {
			return 0, nil
		}
		if err := f.lend(p); err != nil {
			return 0, err
		}
		return f.expose(p.data), nil
	case []byte:
		return f.expose(p), nil
	case string:
		// Strings are immutable; native code gets a private writable copy.
		buf := make([]byte, len(p)+1)
		copy(buf, p)
		f.owned = append(f.owned, buf)
		return f.expose(buf), nil
	}
	return addressWord(v)
}

func (f *Frame) lend(b *Buffer) error {
	for _, l := range f.lent {
		if l == b {
			return nil
		}
	}
	if !b.borrow() {
		return ErrBufferBusy
	}
	f.lent = append(f.lent, b)
	return nil
}

// expose pins mem and returns its address. Empty memory is replaced by a
// private NUL byte so the callee still receives a valid address.
func (f *Frame) expose(mem []byte) uintptr {
	if len(mem) == 0 {
		mem = make([]byte, 1)
		f.owned = append(f.owned, mem)
	}
	f.pinner.Pin(&mem[0])
	return uintptr(unsafe.Pointer(&mem[0]))
}

// Release ends the call window: lent buffers become available again and
// pinned memory may move or be collected.
func (f *Frame) Release() {
	// Private copies are scrubbed so nothing can read them after the call.
	for _, buf := range f.owned {
		clear(buf)
	}
	f.pinner.Unpin()
	for _, b := range f.lent {
		b.giveBack()
	}
	f.lent = nil
	f.owned = nil
}
