//go:build darwin || freebsd || linux

package ffi

import "github.com/ebitengine/purego"

// osDL is the production dlopener backed by purego.
type osDL struct{}

func (osDL) Open(path string) (uintptr, error) {
	return purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
}

func (osDL) Sym(handle uintptr, name string) (uintptr, error) {
	return purego.Dlsym(handle, name)
}

func (osDL) Close(handle uintptr) error {
	return purego.Dlclose(handle)
}
