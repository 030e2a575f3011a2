package ffi

// Loader opens dynamic libraries and resolves symbols in them.
type Loader interface {
	// Load opens the library at path. The error text is the platform
	// loader's diagnostic.
	Load(path string) (uintptr, error)

	Resolve(handle uintptr, name string) (uintptr, error)

	Unload(handle uintptr) error
}

// SystemLoader returns the host's dynamic loader.
func SystemLoader() Loader { return systemLoader{} }

type systemLoader struct{}
