//go:build !windows && !((darwin || freebsd || linux) && (amd64 || arm64))

package ffi

import "errors"

var errNoDynamicLoader = errors.New("dynamic loading not supported on this platform")

func (systemLoader) Load(path string) (uintptr, error) {
	return 0, errNoDynamicLoader
}

func (systemLoader) Resolve(handle uintptr, name string) (uintptr, error) {
	return 0, errNoDynamicLoader
}

func (systemLoader) Unload(handle uintptr) error {
	return errNoDynamicLoader
}
