//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package asm

func mapExecutable(code []byte) (*Executable, error) {
	return nil, ErrExecUnsupported
}
