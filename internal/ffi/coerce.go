package ffi

import "unsafe"

// Coerce converts a returned native word into a Go value:
// Number and Integer give uint64, Pointer gives the NUL-terminated string at
// that address, Bool gives word != 0, and Void gives uint64(0).
func Coerce(tag Tag, word uintptr) any {
	switch tag {
	case Number, Integer:
		return uint64(word)
	case Pointer:
		return CString(word)
	case Bool:
		return word != 0
	default:
		return uint64(0)
	}
}

// CString copies the NUL-terminated bytes at addr. A zero address yields "".
// Any other invalid address is undefined behaviour at the native boundary.
func CString(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	return bytePtrToString((*byte)(unsafe.Pointer(addr)))
}
