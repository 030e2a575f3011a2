//go:build !((darwin || freebsd || linux || windows) && (amd64 || arm64))

package ffi

const nativeCalls = false

func syscallN(fn uintptr, args ...uintptr) (uintptr, error) {
	return 0, ErrConventionUnsupported
}
