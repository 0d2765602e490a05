//go:build !(darwin || freebsd || linux)

package ffi

import "errors"

var errUnsupportedOS = errors.New("ffi: dynamic library loading is not supported on this platform")

type osDL struct{}

func (osDL) Open(path string) (uintptr, error) {
	return 0, errUnsupportedOS
}

func (osDL) Sym(handle uintptr, name string) (uintptr, error) {
	return 0, errUnsupportedOS
}

func (osDL) Close(handle uintptr) error {
	return errUnsupportedOS
}
