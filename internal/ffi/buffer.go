package ffi

import (
	"bytes"
	"sync/atomic"
)

// Buffer is caller-owned memory that native code may read and write in place.
//
// Passing a Buffer under the Pointer tag lends its address to the native
// function for the duration of that one call. A Buffer cannot be lent to two
// calls at once; the caller must not touch Bytes while a call is running.
type Buffer struct {
	data []byte
	lent atomic.Bool
}

// NewBuffer allocates a zeroed buffer of size bytes (at least one).
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, max(size, 1))}
}

// BufferFromString copies s into a new NUL-terminated buffer.
func BufferFromString(s string) *Buffer {
	data := make([]byte, len(s)+1)
	copy(data, s)
	return &Buffer{data: data}
}

// BufferFromBytes copies b into a new buffer.
func BufferFromBytes(b []byte) *Buffer {
	data := make([]byte, max(len(b), 1))
	copy(data, b)
	return &Buffer{data: data}
}

// Bytes returns the backing memory. Writes by native code are visible here.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// String returns the contents up to the first NUL byte.
func (b *Buffer) String() string {
	if i := bytes.IndexByte(b.data, 0); i >= 0 {
		return string(b.data[:i])
	}
	return string(b.data)
}

// Lent reports whether the buffer is currently exposed to a native call.
func (b *Buffer) Lent() bool {
	return b.lent.Load()
}

func (b *Buffer) borrow() bool {
	return b.lent.CompareAndSwap(false, true)
}

func (b *Buffer) giveBack() {
	b.lent.Store(false)
}
