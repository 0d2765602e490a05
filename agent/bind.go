package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentgrid-dev/agentgrid/ffi"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// bind installs the runtime functions into the worker's script host. The
// set and their semantics form the embedding contract with scripts.
func (w *Worker) bind() {
	h := w.host
	a := w.agent

	script.BindEnv(h)

	h.Register("log", func(args []any) ([]any, error) {
		msg, _ := argStr(args, 0)
		log.Printf("[script] %s", msg)
		return nil, nil
	})

	h.Register("printtable", func(args []any) ([]any, error) {
		t, ok := argTbl(args, 0)
		if !ok {
			return nil, fmt.Errorf("argument of function printtable must be a table")
		}
		fmt.Print(t.Format())
		return nil, nil
	})

	h.Register("readfile", func(args []any) ([]any, error) {
		path, ok := argStr(args, 0)
		if !ok {
			return nil, fmt.Errorf("readfile expects a string containing the path as parameter")
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(a.path), path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []any{string(data)}, nil
	})

	h.Register("scriptdir", func(args []any) ([]any, error) {
		if a.path == "" {
			return []any{""}, nil
		}
		return []any{filepath.Dir(a.path) + string(filepath.Separator)}, nil
	})

	h.Register("isreplicated", func(args []any) ([]any, error) {
		return []any{w.isReplica}, nil
	})

	h.Register("getconfig", func(args []any) ([]any, error) {
		return []any{a.Config().Table()}, nil
	})

	h.Register("setconfig", func(args []any) ([]any, error) {
		t, ok := argTbl(args, 0)
		if !ok {
			return nil, fmt.Errorf("argument of function setconfig must be a table")
		}
		a.Config().SetTable(t)
		return nil, nil
	})

	h.Register("addmessage", func(args []any) ([]any, error) {
		if w.isReplica {
			// The primary already registered this message when it ran the
			// same script source.
			return nil, nil
		}
		name, ok := argStr(args, 0)
		if !ok {
			return nil, fmt.Errorf("addmessage: message name has to be a string containing the function name")
		}
		spec, _ := argTbl(args, 1)
		return nil, w.addMessageFromTable(name, spec)
	})

	h.Register("addagent", func(args []any) ([]any, error) {
		name, okName := argStr(args, 0)
		code, okCode := argStr(args, 1)
		if !okName || !okCode {
			return nil, fmt.Errorf("addagent expects the name of the new agent and a string containing its code")
		}
		names, ok := argTbl(args, 2)
		if !ok {
			return nil, fmt.Errorf("the 3rd parameter of addagent must be a table of message names")
		}
		return nil, a.owner.AddScripted(name, a.path, code, tableToStrings(names))
	})

	h.Register("send", func(args []any) ([]any, error) {
		agentName, okAgent := argStr(args, 0)
		messageName, okMessage := argStr(args, 1)
		if !okAgent || !okMessage {
			return nil, fmt.Errorf("send expects an agent name, a message name and a parameter table")
		}
		params, ok := argTbl(args, 2)
		if !ok {
			params = table.New()
		}
		// Defaulting the reply target to the sender enables request/response
		// without the caller stating its own identity.
		if params.ReplyToAgent() == "" {
			params.SetReplyToAgent(a.Name())
		}
		am, err := a.owner.GetMessage(agentName, messageName)
		if err != nil {
			return nil, err
		}
		return nil, am.Send(params)
	})

	h.Register("import", func(args []any) ([]any, error) {
		libName, okLib := argStr(args, 0)
		fnName, okFn := argStr(args, 1)
		signature, okSig := argStr(args, 2)
		if !okLib || !okFn || !okSig {
			return nil, fmt.Errorf("import expects a library name, a function name and a signature")
		}

		w.storeScriptDirLibrary(libName)

		if _, err := w.imports.Import(libName, fnName, signature); err != nil {
			return nil, err
		}

		// The stub resolves through the import table on every call: the
		// table is reset when the enclosing script function returns, after
		// which a stale stub fails instead of calling into an unloaded
		// library.
		h.Register(fnName, func(callArgs []any) ([]any, error) {
			fn, ok := w.imports.Get(fnName)
			if !ok {
				return nil, fmt.Errorf("function %q was called without a prior import in this invocation", fnName)
			}
			ret, err := fn.Call(callArgs)
			if err != nil {
				return nil, err
			}
			if ret == nil {
				return nil, nil
			}
			return []any{ret}, nil
		})
		return nil, nil
	})
}

// addMessageFromTable registers a message from the addmessage builtin's
// optional specification table: displayname, description and icon scalars
// plus a "parameters" sub-table of per-parameter descriptions.
func (w *Worker) addMessageFromTable(name string, spec *table.Table) error {
	var displayName, description, icon string
	paramDescs := table.New()

	if spec != nil {
		displayName = spec.String("displayname")
		description = spec.String("description")
		if iconName := spec.String("icon"); iconName != "" {
			icon = filepath.Join(filepath.Dir(w.agent.path), iconName)
			if _, err := os.Stat(icon); err != nil {
				return fmt.Errorf("message %q of agent %q specifies a non-existent icon %s", name, w.agent.Name(), icon)
			}
		}
		if p := spec.GetSub("parameters"); p != nil {
			paramDescs = p
		}
	}

	return w.agent.AddMessage(name, paramDescs, displayName, description, icon)
}

// storeScriptDirLibrary records the script's own directory as a search
// location when it contains the named library, so it wins over OS loader
// paths.
func (w *Worker) storeScriptDirLibrary(libName string) {
	if w.agent.path == "" {
		return
	}
	dir := filepath.Dir(w.agent.path)
	for _, candidate := range libraryFileCandidates(libName) {
		if _, err := os.Stat(filepath.Join(dir, candidate)); err == nil {
			ffi.DefaultLoader.StoreDir(candidate, dir)
		}
	}
}

func libraryFileCandidates(name string) []string {
	exts := []string{"", ".so", ".dylib", ".dll"}
	var out []string
	for _, ext := range exts {
		out = append(out, name+ext, "lib"+name+ext)
	}
	return out
}

// tableToStrings flattens a list-like table (integer keys) into its string
// values, in key order.
func tableToStrings(t *table.Table) []string {
	type entry struct {
		key int64
		val string
	}
	var entries []entry
	for k, v := range t.Data {
		idx, okKey := k.(int64)
		s, okVal := v.(string)
		if okKey && okVal {
			entries = append(entries, entry{idx, s})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.val)
	}
	return out
}

func argStr(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argTbl(args []any, i int) (*table.Table, bool) {
	if i >= len(args) {
		return nil, false
	}
	t, ok := args[i].(*table.Table)
	return t, ok
}
