//go:build (darwin || freebsd || linux) && (amd64 || arm64)

package ffi

import "github.com/ebitengine/purego"

func (systemLoader) Load(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
}

func (systemLoader) Resolve(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func (systemLoader) Unload(handle uintptr) error {
	return purego.Dlclose(handle)
}
