//go:build !(darwin || freebsd || linux)

package ffi

import "fmt"

func sysCall(sym uintptr, words []uintptr) uintptr {
	return 0
}

func callAllDouble(sym uintptr, ret Type, dargs []float64) (any, error) {
	return nil, fmt.Errorf("ffi: native calls are not supported on this platform")
}
