//go:build linux || darwin || freebsd || netbsd || openbsd

package asm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapExecutable(code []byte) (*Executable, error) {
	size := roundToPage(len(code), unix.Getpagesize())

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, code)

	// W^X: the region is never writable and executable at the same time.
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("mprotect code region: %w", err)
	}

	release = false

	return &Executable{
		entry: uintptr(unsafe.Pointer(&mem[0])),
		size:  size,
		release: func() error {
			return unix.Munmap(mem)
		},
	}, nil
}
