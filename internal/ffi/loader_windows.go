//go:build windows

package ffi

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func (systemLoader) Load(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, fmt.Errorf("LoadLibrary %s: %w", path, err)
	}
	return uintptr(h), nil
}

func (systemLoader) Resolve(handle uintptr, name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(windows.Handle(handle), name)
	if err != nil {
		return 0, fmt.Errorf("GetProcAddress %s: %w", name, err)
	}
	return addr, nil
}

func (systemLoader) Unload(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}
