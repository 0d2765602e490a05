// Package script defines the embedding surface between the runtime and a
// script host. The scripting language itself is an external collaborator;
// the runtime only assumes a host that can execute a script body, expose the
// functions it defines, and accept a fixed set of named runtime functions.
//
// Two hosts ship with the runtime: FuncHost (script bodies written in Go,
// used by tests and native embedders) and luahost.Host (a Lua interpreter).
package script

import "github.com/agentgrid-dev/agentgrid/table"

// Builtin is a runtime function registered into a host under a global name.
// Arguments and results are drawn from the table value domain (int64,
// float64, bool, string, table.Pointer) plus *table.Table.
type Builtin func(args []any) ([]any, error)

// Host is one script-host instance. A scripted agent holds one host per
// worker; replicas get fresh instances running the same source.
type Host interface {
	// Run executes the script body. code may be empty, in which case path
	// names a script file; a non-empty code string is executed with path
	// recorded for diagnostics and script-relative lookups.
	Run(path, code string) error

	// Call invokes the script function named fn with params as its single
	// argument and returns the resulting table (never nil on success).
	Call(fn string, params *table.Table) (*table.Table, error)

	// HasFunction reports whether the script defined fn.
	HasFunction(fn string) bool

	// Register installs a runtime function under a global name. Must be
	// called before Run so the script body can use it.
	Register(name string, fn Builtin)

	// SetGlobalTable publishes a table under a global name, used for the
	// predefined tables registered per agent.
	SetGlobalTable(name string, t *table.Table)

	// SetCheckHook installs a cooperative interrupt: the host calls hook at
	// safe points and aborts the running script when it returns an error.
	SetCheckHook(hook func() error)

	// Close releases the host.
	Close() error
}

// Factory creates a fresh Host. The replication machinery calls it once per
// worker.
type Factory func() (Host, error)
