// Package luahost adapts a Lua interpreter (gopher-lua) to the script.Host
// interface. Each host owns one Lua state; a worker drives its host from a
// single goroutine, so no locking is needed around the interpreter itself.
package luahost

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// Host is a script.Host backed by one lua.LState.
type Host struct {
	state *lua.LState

	mu   sync.Mutex
	hook func() error
	path string
}

// New creates a fresh Lua state with the standard libraries opened.
func New() *Host {
	return &Host{state: lua.NewState()}
}

// Factory is a script.Factory producing Lua hosts.
func Factory() (script.Host, error) {
	return New(), nil
}

// Run executes the script body: code when non-empty, otherwise the file at
// path.
func (h *Host) Run(path, code string) error {
	h.mu.Lock()
	h.path = path
	h.mu.Unlock()

	if code == "" {
		if err := h.state.DoFile(path); err != nil {
			return fmt.Errorf("luahost: executing %s: %w", path, err)
		}
		return nil
	}
	if err := h.state.DoString(code); err != nil {
		if path != "" {
			return fmt.Errorf("luahost: executing code contained in %s: %w", path, err)
		}
		return fmt.Errorf("luahost: %w", err)
	}
	return nil
}

// Call invokes the global Lua function fn with params converted to a Lua
// table. A missing function or a non-table result is an error; a nil result
// becomes an empty table.
func (h *Host) Call(fn string, params *table.Table) (*table.Table, error) {
	g := h.state.GetGlobal(fn)
	if g.Type() != lua.LTFunction {
		return nil, fmt.Errorf("luahost: function %q is not defined", fn)
	}

	h.mu.Lock()
	hook := h.hook
	h.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return nil, err
		}
		stop := h.watchInterrupt(hook)
		defer stop()
	}

	err := h.state.CallByParam(lua.P{Fn: g, NRet: 1, Protect: true}, toLua(h.state, params))
	if err != nil {
		return nil, fmt.Errorf("luahost: %s: %w", fn, err)
	}

	ret := h.state.Get(-1)
	h.state.Pop(1)

	switch v := ret.(type) {
	case *lua.LTable:
		return fromLuaTable(v), nil
	case *lua.LNilType:
		return table.New(), nil
	default:
		return nil, fmt.Errorf("luahost: %s returned %s, want a table", fn, ret.Type())
	}
}

// watchInterrupt polls the check hook while a script runs and cancels the
// interpreter context when it reports an error.
func (h *Host) watchInterrupt(hook func() error) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	h.state.SetContext(ctx)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if hook() != nil {
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		cancel()
		h.state.RemoveContext()
	}
}

// HasFunction reports whether the script defined a global function fn.
func (h *Host) HasFunction(fn string) bool {
	return h.state.GetGlobal(fn).Type() == lua.LTFunction
}

// Register installs a runtime builtin as a global Lua function.
func (h *Host) Register(name string, fn script.Builtin) {
	h.state.SetGlobal(name, h.state.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		args := make([]any, n)
		for i := 1; i <= n; i++ {
			args[i-1] = fromLua(L.Get(i))
		}
		rets, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		for _, r := range rets {
			L.Push(toLuaValue(L, r))
		}
		return len(rets)
	}))
}

// SetGlobalTable publishes a table as a global Lua table.
func (h *Host) SetGlobalTable(name string, t *table.Table) {
	h.state.SetGlobal(name, toLua(h.state, t))
}

// SetCheckHook installs the cooperative interrupt hook.
func (h *Host) SetCheckHook(hook func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hook = hook
}

// Close releases the Lua state.
func (h *Host) Close() error {
	h.state.Close()
	return nil
}

// toLua converts a parameter table into a Lua table.
func toLua(L *lua.LState, t *table.Table) *lua.LTable {
	lt := L.NewTable()
	if t == nil {
		return lt
	}
	for k, v := range t.Data {
		lt.RawSet(toLuaValue(L, k), toLuaValue(L, v))
	}
	for k, s := range t.Subs {
		lt.RawSet(toLuaValue(L, k), toLua(L, s))
	}
	return lt
}

func toLuaValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case table.Pointer:
		ud := L.NewUserData()
		ud.Value = x
		return ud
	case *table.Table:
		return toLua(L, x)
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value into the table value domain. Lua numbers are
// a single floating type; integral numbers map to int64 so queue keys and
// thread counts keep their integer meaning.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
		return f
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case *lua.LUserData:
		if p, ok := x.Value.(table.Pointer); ok {
			return p
		}
		return fmt.Sprint(x.Value)
	case *lua.LTable:
		return fromLuaTable(x)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func fromLuaTable(lt *lua.LTable) *table.Table {
	t := table.New()
	lt.ForEach(func(k, v lua.LValue) {
		key := fromLua(k)
		if key == nil {
			return
		}
		if sub, ok := v.(*lua.LTable); ok {
			t.SetSub(key, fromLuaTable(sub))
			return
		}
		if scalar := fromLua(v); scalar != nil {
			t.Set(key, scalar)
		}
	})
	return t
}

// FormatPointer renders a managed pointer the way scripts see it in logs.
func FormatPointer(p table.Pointer) string {
	return "0x" + strconv.FormatUint(uint64(p), 16)
}
