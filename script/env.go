package script

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// BindEnv registers the agent-independent environment probes on a host:
// cores, currentdir, homedir, env, userdatadir, mktemp, time, and the raw
// memory functions peek, poke, addoffset, touserdata.
func BindEnv(h Host) {
	h.Register("cores", func(args []any) ([]any, error) {
		return []any{int64(runtime.NumCPU())}, nil
	})

	h.Register("currentdir", func(args []any) ([]any, error) {
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return []any{dir + string(filepath.Separator)}, nil
	})

	h.Register("homedir", func(args []any) ([]any, error) {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		return []any{dir + string(filepath.Separator)}, nil
	})

	h.Register("env", func(args []any) ([]any, error) {
		name, ok := argString(args, 0)
		if !ok {
			return nil, fmt.Errorf("env expects the name of an environment variable")
		}
		return []any{os.Getenv(name)}, nil
	})

	h.Register("userdatadir", func(args []any) ([]any, error) {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		return []any{dir + string(filepath.Separator)}, nil
	})

	h.Register("mktemp", func(args []any) ([]any, error) {
		dir, err := os.MkdirTemp("", "agentgrid-")
		if err != nil {
			return nil, err
		}
		return []any{dir}, nil
	})

	h.Register("time", func(args []any) ([]any, error) {
		return []any{Now()}, nil
	})

	h.Register("peek", func(args []any) ([]any, error) {
		addr, ok := argPointer(args, 0)
		if !ok {
			return nil, fmt.Errorf("peek expects an address and a width")
		}
		width, _ := argInt(args, 1)
		v, err := Peek(uintptr(addr), width)
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	})

	h.Register("poke", func(args []any) ([]any, error) {
		addr, ok := argPointer(args, 0)
		if !ok {
			return nil, fmt.Errorf("poke expects an address, a value and a width")
		}
		if len(args) < 3 {
			return nil, fmt.Errorf("poke expects an address, a value and a width")
		}
		width, _ := argInt(args, 2)
		if err := Poke(uintptr(addr), args[1], width); err != nil {
			return nil, err
		}
		return nil, nil
	})

	h.Register("addoffset", func(args []any) ([]any, error) {
		addr, ok := argPointer(args, 0)
		if !ok {
			return nil, fmt.Errorf("addoffset expects an address, an offset and a width")
		}
		offset, _ := argInt(args, 1)
		width, _ := argInt(args, 2)
		out, err := AddOffset(uintptr(addr), offset, width)
		if err != nil {
			return nil, err
		}
		return []any{out}, nil
	})

	h.Register("touserdata", func(args []any) ([]any, error) {
		text, ok := argString(args, 0)
		if !ok {
			return nil, fmt.Errorf("touserdata expects a textual address")
		}
		addr, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("touserdata: bad address %q: %w", text, err)
		}
		return []any{pointerValue(uintptr(addr))}, nil
	})
}

// Now returns the monotonic-epoch timestamp exposed to scripts: units of
// 10⁻⁸ seconds since the Unix epoch.
func Now() int64 {
	return time.Now().UnixNano() / 10
}
