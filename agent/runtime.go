package agent

import (
	"sync/atomic"

	"github.com/agentgrid-dev/agentgrid/internal/inflight"
	"github.com/agentgrid-dev/agentgrid/internal/mailbox"
	"github.com/agentgrid-dev/agentgrid/internal/registry"
)

// Runtime bundles the shared machinery one agents collection runs on: the
// id registry, the per-receiver mailboxes, and the in-flight counter.
type Runtime struct {
	IDs      *registry.Registry
	Mail     *mailbox.Manager[*Message]
	InFlight *inflight.Counter

	down atomic.Bool
}

// NewRuntime returns a fresh runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		IDs:      registry.New(),
		Mail:     mailbox.New[*Message](),
		InFlight: inflight.New(),
	}
}

// BeginShutdown marks the runtime as shutting down; subsequent public sends
// are logged and dropped.
func (rt *Runtime) BeginShutdown() {
	rt.down.Store(true)
}

// ShuttingDown reports whether shutdown began.
func (rt *Runtime) ShuttingDown() bool {
	return rt.down.Load()
}
