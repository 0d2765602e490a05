package ffi

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// AmbiguousLibraryError is returned when a library name matches more than one
// known directory and the disambiguation rule cannot pick one.
type AmbiguousLibraryError struct {
	Name string
}

func (e *AmbiguousLibraryError) Error() string {
	return fmt.Sprintf("ffi: ambiguous path to shared library %q", e.Name)
}

// dlopener abstracts the OS loader so tests can run without a real shared
// library on disk.
type dlopener interface {
	Open(path string) (uintptr, error)
	Sym(handle uintptr, name string) (uintptr, error)
	Close(handle uintptr) error
}

// Loader resolves library names to paths and hands out refcounted handles.
// The same resolved path loaded twice shares one OS handle.
type Loader struct {
	mu   sync.Mutex
	dl   dlopener
	dirs map[string]map[string]struct{} // basename -> set of directories
	open map[string]*Library            // resolved path -> live handle
}

// Library is a refcounted shared-library handle.
type Library struct {
	loader *Loader
	path   string
	handle uintptr
	refs   int
}

// NewLoader returns a loader backed by the OS dynamic loader.
func NewLoader() *Loader {
	return newLoader(osDL{})
}

func newLoader(dl dlopener) *Loader {
	return &Loader{
		dl:   dl,
		dirs: make(map[string]map[string]struct{}),
		open: make(map[string]*Library),
	}
}

// DefaultLoader is the process-wide loader; per-worker import tables hold
// strong references into it.
var DefaultLoader = NewLoader()

// StoreDir records that a library with the given file name lives in dir.
// The directory of the current script is stored ahead of OS search paths.
func (l *Loader) StoreDir(name, dir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.dirs[name]
	if !ok {
		set = make(map[string]struct{})
		l.dirs[name] = set
	}
	set[dir] = struct{}{}
}

// Resolve maps a library name to a loadable path. Known directories are
// searched first, with a "lib" prefix fallback on non-Windows platforms.
// When several directories are known for one basename, the one whose final
// path component equals the looked-up name without its extension (including
// a "lib" prefix added by the fallback; case-, underscore- and
// space-insensitively) wins; anything else is ambiguous. An unknown name is
// returned as-is for the OS loader's search paths.
func (l *Loader) Resolve(name string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lookup := name
	set, ok := l.dirs[lookup]
	if !ok && runtime.GOOS != "windows" {
		lookup = "lib" + name
		set, ok = l.dirs[lookup]
	}
	if !ok {
		return name, nil
	}

	switch len(set) {
	case 0:
		return "", fmt.Errorf("ffi: internal error: known library %q with no stored path", name)
	case 1:
		for dir := range set {
			return filepath.Join(dir, lookup), nil
		}
	}

	want := normalize(strings.TrimSuffix(lookup, filepath.Ext(lookup)))
	var match string
	for dir := range set {
		if normalize(filepath.Base(dir)) == want {
			if match != "" {
				return "", &AmbiguousLibraryError{Name: name}
			}
			match = dir
		}
	}
	if match == "" {
		return "", &AmbiguousLibraryError{Name: name}
	}
	return filepath.Join(match, lookup), nil
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToLower(s)
}

// Open resolves and loads a library, sharing the handle with earlier opens
// of the same path.
func (l *Loader) Open(name string) (*Library, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if lib, ok := l.open[path]; ok {
		lib.refs++
		return lib, nil
	}

	handle, err := l.dl.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ffi: could not load shared library %q: %w", path, err)
	}
	lib := &Library{loader: l, path: path, handle: handle, refs: 1}
	l.open[path] = lib
	return lib, nil
}

// Sym looks up a symbol in the library.
func (lib *Library) Sym(name string) (uintptr, error) {
	addr, err := lib.loader.dl.Sym(lib.handle, name)
	if err != nil {
		return 0, fmt.Errorf("ffi: symbol %q not found in %q: %w", name, lib.path, err)
	}
	return addr, nil
}

// Path returns the resolved path of the library.
func (lib *Library) Path() string {
	return lib.path
}

// Close drops one reference; at zero the library is unloaded.
func (lib *Library) Close() error {
	lib.loader.mu.Lock()
	defer lib.loader.mu.Unlock()

	lib.refs--
	if lib.refs > 0 {
		return nil
	}
	delete(lib.loader.open, lib.path)
	return lib.loader.dl.Close(lib.handle)
}

// Loaded reports whether a library with the given resolved path is live,
// for tests and diagnostics.
func (l *Loader) Loaded(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[path]
	return ok
}
