//go:build (darwin || freebsd || linux || windows) && (amd64 || arm64)

package ffi

import "github.com/ebitengine/purego"

const nativeCalls = true

func syscallN(fn uintptr, args ...uintptr) (uintptr, error) {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1, nil
}
