//go:build darwin || freebsd || linux

package ffi

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// sysCall invokes sym with pointer-width arguments.
func sysCall(sym uintptr, words []uintptr) uintptr {
	r1, _, _ := purego.SyscallN(sym, words...)
	return r1
}

// callAllDouble dispatches the enumerated floating-point shapes. Pointer
// calling conventions cannot carry doubles portably, so each supported shape
// is bound as a typed function.
func callAllDouble(sym uintptr, ret Type, dargs []float64) (any, error) {
	switch ret {
	case TypeDouble:
		switch len(dargs) {
		case 0:
			var fn func() float64
			purego.RegisterFunc(&fn, sym)
			return fn(), nil
		case 1:
			var fn func(float64) float64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0]), nil
		case 2:
			var fn func(float64, float64) float64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1]), nil
		case 3:
			var fn func(float64, float64, float64) float64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1], dargs[2]), nil
		}
	case TypeInt:
		switch len(dargs) {
		case 1:
			var fn func(float64) int64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0]), nil
		case 2:
			var fn func(float64, float64) int64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1]), nil
		case 3:
			var fn func(float64, float64, float64) int64
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1], dargs[2]), nil
		}
	case TypeBool:
		switch len(dargs) {
		case 1:
			var fn func(float64) bool
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0]), nil
		case 2:
			var fn func(float64, float64) bool
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1]), nil
		case 3:
			var fn func(float64, float64, float64) bool
			purego.RegisterFunc(&fn, sym)
			return fn(dargs[0], dargs[1], dargs[2]), nil
		}
	case TypeVoid:
		switch len(dargs) {
		case 1:
			var fn func(float64)
			purego.RegisterFunc(&fn, sym)
			fn(dargs[0])
			return nil, nil
		case 2:
			var fn func(float64, float64)
			purego.RegisterFunc(&fn, sym)
			fn(dargs[0], dargs[1])
			return nil, nil
		case 3:
			var fn func(float64, float64, float64)
			purego.RegisterFunc(&fn, sym)
			fn(dargs[0], dargs[1], dargs[2])
			return nil, nil
		}
	}
	return nil, fmt.Errorf("ffi: no dispatcher for %s return with %d double argument(s)", ret, len(dargs))
}
