package script

import (
	"fmt"
	"sync"

	"github.com/agentgrid-dev/agentgrid/table"
)

// Source is a FuncHost script body: it runs once per worker and registers
// the script's functions through the passed host, exactly as a text script
// would define globals. It may call any registered runtime builtin via
// Global.
type Source func(h *FuncHost) error

var (
	sourcesMu sync.RWMutex
	sources   = make(map[string]Source)
)

// RegisterSource publishes a named Source so scripted agents can be created
// from it by name (the addagent path passes names where a text host would
// receive code).
func RegisterSource(name string, src Source) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources[name] = src
}

// LookupSource returns a previously registered Source.
func LookupSource(name string) (Source, bool) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	src, ok := sources[name]
	return src, ok
}

// FuncHost is a script host whose scripts are Go functions. It gives tests
// and native embedders the full scripted-agent machinery — replication,
// reply-to, imports — without a text interpreter.
type FuncHost struct {
	mu      sync.Mutex
	globals map[string]Builtin
	tables  map[string]*table.Table
	fns     map[string]func(*table.Table) (*table.Table, error)
	hook    func() error
	path    string
	closed  bool
}

// NewFuncHost returns an empty host. Use it as a script.Factory:
//
//	factory := func() (script.Host, error) { return script.NewFuncHost(), nil }
func NewFuncHost() *FuncHost {
	return &FuncHost{
		globals: make(map[string]Builtin),
		tables:  make(map[string]*table.Table),
		fns:     make(map[string]func(*table.Table) (*table.Table, error)),
	}
}

// Run resolves code as a registered Source name and executes it. An empty
// code string resolves path instead.
func (h *FuncHost) Run(path, code string) error {
	h.mu.Lock()
	h.path = path
	h.mu.Unlock()

	name := code
	if name == "" {
		name = path
	}
	src, ok := LookupSource(name)
	if !ok {
		return fmt.Errorf("script: no registered source %q", name)
	}
	return src(h)
}

// DefineFunction registers a script function, as a script body defining a
// global function would.
func (h *FuncHost) DefineFunction(name string, fn func(*table.Table) (*table.Table, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns[name] = fn
}

// Call invokes a script function.
func (h *FuncHost) Call(fn string, params *table.Table) (*table.Table, error) {
	h.mu.Lock()
	f, ok := h.fns[fn]
	hook := h.hook
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("script: host is closed")
	}
	if !ok {
		return nil, fmt.Errorf("script: function %q is not defined", fn)
	}
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
	}

	result, err := f(params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = table.New()
	}
	return result, nil
}

// HasFunction reports whether the script defined fn.
func (h *FuncHost) HasFunction(fn string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.fns[fn]
	return ok
}

// Register installs a runtime builtin.
func (h *FuncHost) Register(name string, fn Builtin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globals[name] = fn
}

// Global returns a registered builtin; script Sources use this to call the
// runtime (send, import, log, ...).
func (h *FuncHost) Global(name string) (Builtin, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn, ok := h.globals[name]
	return fn, ok
}

// MustGlobal is Global for builtins known to be installed.
func (h *FuncHost) MustGlobal(name string) Builtin {
	fn, ok := h.Global(name)
	if !ok {
		panic(fmt.Sprintf("script: no builtin %q", name))
	}
	return fn
}

// SetGlobalTable publishes a table under a global name.
func (h *FuncHost) SetGlobalTable(name string, t *table.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tables[name] = t
}

// GlobalTable returns a published table, or nil.
func (h *FuncHost) GlobalTable(name string) *table.Table {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tables[name]
}

// SetCheckHook installs the cooperative interrupt hook.
func (h *FuncHost) SetCheckHook(hook func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hook = hook
}

// Path returns the script path passed to Run.
func (h *FuncHost) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// Close releases the host.
func (h *FuncHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
