//go:build windows

package asm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapExecutable(code []byte) (*Executable, error) {
	size := roundToPage(len(code), windows.Getpagesize())

	base, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc code region: %w", err)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(base)), size), code)

	var old uint32
	if err := windows.VirtualProtect(base, uintptr(size), windows.PAGE_EXECUTE_READ, &old); err != nil {
		_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		return nil, fmt.Errorf("VirtualProtect code region: %w", err)
	}

	return &Executable{
		entry: base,
		size:  size,
		release: func() error {
			return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
		},
	}, nil
}
