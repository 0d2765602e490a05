package ffi

import (
	"fmt"
	"log"
	"runtime"
	"unsafe"

	"github.com/agentgrid-dev/agentgrid/table"
)

// Imports is the per-worker table of imported native functions. Different
// workers keep independent tables, so two workers may import identically
// named functions from different libraries without interference. Reset is
// invoked when the enclosing script function returns; it drops the library
// references, unloading libraries whose count reaches zero.
type Imports struct {
	loader    *Loader
	allocator *Allocator
	byName    map[string]*Func
}

// Func is one imported native function bound into a worker's script host.
type Func struct {
	Name string
	Sig  Signature

	lib       *Library
	sym       uintptr
	allocator *Allocator
}

// NewImports returns an empty import table bound to the given loader and
// allocator. Passing nil uses the process-wide defaults.
func NewImports(loader *Loader, allocator *Allocator) *Imports {
	if loader == nil {
		loader = DefaultLoader
	}
	if allocator == nil {
		allocator = DefaultAllocator
	}
	return &Imports{
		loader:    loader,
		allocator: allocator,
		byName:    make(map[string]*Func),
	}
}

// Import resolves and loads libName, looks up fnName and validates the
// signature. The resulting Func is recorded under fnName; importing the same
// name twice in one worker is an error.
func (im *Imports) Import(libName, fnName, signature string) (*Func, error) {
	if _, dup := im.byName[fnName]; dup {
		return nil, fmt.Errorf("ffi: function %q is imported more than once", fnName)
	}

	sig, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}

	lib, err := im.loader.Open(libName)
	if err != nil {
		return nil, err
	}

	sym, err := lib.Sym(fnName)
	if err != nil {
		_ = lib.Close()
		return nil, err
	}

	f := &Func{Name: fnName, Sig: sig, lib: lib, sym: sym, allocator: im.allocator}
	im.byName[fnName] = f
	return f, nil
}

// Get returns a previously imported function.
func (im *Imports) Get(fnName string) (*Func, bool) {
	f, ok := im.byName[fnName]
	return f, ok
}

// Reset clears the table and drops all library references.
func (im *Imports) Reset() {
	for name, f := range im.byName {
		if err := f.lib.Close(); err != nil {
			log.Printf("[ffi] closing library for %s: %v", name, err)
		}
		delete(im.byName, name)
	}
}

// Len returns the number of live imports.
func (im *Imports) Len() int {
	return len(im.byName)
}

// Call invokes the native symbol with arguments drawn from the table value
// domain (int64, float64, bool, string, table.Pointer, *table.Table) and
// returns the result in the same domain. Argument count and types must
// match the imported signature.
func (f *Func) Call(args []any) (any, error) {
	if len(args) != len(f.Sig.Params) {
		return nil, fmt.Errorf("ffi: %s imported with %d parameter(s), called with %d",
			f.Name, len(f.Sig.Params), len(args))
	}

	// All-double parameter lists go through the enumerated float dispatchers.
	if len(f.Sig.Params) > 0 && f.Sig.Params[0] == TypeDouble || f.Sig.Ret == TypeDouble {
		return f.callDoubles(args)
	}

	var words []uintptr
	var keepAlive [][]byte
	for i, want := range f.Sig.Params {
		w, buf, err := marshalWord(args[i], want, f.Name, i)
		if err != nil {
			return nil, err
		}
		if buf != nil {
			keepAlive = append(keepAlive, buf)
		}
		words = append(words, w)
	}

	r1 := sysCall(f.sym, words)
	runtime.KeepAlive(keepAlive)

	return f.unmarshalReturn(r1)
}

func marshalWord(arg any, want Type, fnName string, pos int) (uintptr, []byte, error) {
	switch want {
	case TypeInt:
		v, ok := arg.(int64)
		if !ok {
			return 0, nil, typeErr(fnName, pos, "long long", arg)
		}
		return uintptr(v), nil, nil
	case TypeBool:
		v, ok := arg.(bool)
		if !ok {
			return 0, nil, typeErr(fnName, pos, "bool", arg)
		}
		if v {
			return 1, nil, nil
		}
		return 0, nil, nil
	case TypeString:
		v, ok := arg.(string)
		if !ok {
			return 0, nil, typeErr(fnName, pos, "const char*", arg)
		}
		buf := append([]byte(v), 0)
		return uintptr(unsafe.Pointer(&buf[0])), buf, nil
	case TypePtr:
		v, ok := arg.(table.Pointer)
		if !ok {
			return 0, nil, typeErr(fnName, pos, "void*", arg)
		}
		return uintptr(v), nil, nil
	case TypeTable:
		v, ok := arg.(*table.Table)
		if !ok {
			return 0, nil, typeErr(fnName, pos, "table", arg)
		}
		blob := table.Marshal(v)
		if len(blob) == 0 {
			blob = []byte{0}
		}
		return uintptr(unsafe.Pointer(&blob[0])), blob, nil
	default:
		return 0, nil, fmt.Errorf("ffi: %s: unsupported parameter type %s", fnName, want)
	}
}

func typeErr(fnName string, pos int, want string, got any) error {
	return fmt.Errorf("ffi: %s: argument %d must be %s, got %T", fnName, pos+1, want, got)
}

func (f *Func) unmarshalReturn(r1 uintptr) (any, error) {
	switch f.Sig.Ret {
	case TypeVoid:
		return nil, nil
	case TypeBool:
		return r1&0xff != 0, nil
	case TypeInt:
		return int64(r1), nil
	case TypeString:
		return goString(r1), nil
	case TypePtr:
		return table.Pointer(r1), nil
	case TypeTable:
		// A returned table must live in a managed buffer; that is what keeps
		// the blob dereferenceable across the call boundary.
		blob, ok := f.allocator.Bytes(table.Pointer(r1))
		if !ok {
			return nil, fmt.Errorf("ffi: %s returned a table at %#x outside the managed allocator", f.Name, r1)
		}
		t, _, err := table.UnmarshalPrefix(blob)
		if err != nil {
			return nil, fmt.Errorf("ffi: %s returned an undecodable table: %w", f.Name, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("ffi: %s: unsupported return type %s", f.Name, f.Sig.Ret)
	}
}

func (f *Func) callDoubles(args []any) (any, error) {
	dargs := make([]float64, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case float64:
			dargs[i] = v
		case int64:
			dargs[i] = float64(v)
		default:
			return nil, typeErr(f.Name, i, "double", a)
		}
	}
	return callAllDouble(f.sym, f.Sig.Ret, dargs)
}

// goString copies a NUL-terminated C string.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var n int
	for {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(n)))
		if b == 0 {
			break
		}
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}
