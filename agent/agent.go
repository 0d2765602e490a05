package agent

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentgrid-dev/agentgrid/internal/mailbox"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// Agent is a named long-lived worker with one handler binding. Its id is
// assigned at Start and returned to the registry on Release.
type Agent struct {
	name  string
	owner Collection
	rt    *Runtime

	mu       sync.Mutex
	id       int
	kind     Kind
	messages map[string]*AgentMessage
	config   *Config

	interrupted atomic.Bool

	// Scripted state
	factory script.Factory
	path    string
	code    string
	primary *Worker
}

// New creates an agent bound to its owning collection. The agent is not
// reachable until one of the Start methods runs.
func New(owner Collection, rt *Runtime, name string) *Agent {
	return &Agent{
		name:     name,
		owner:    owner,
		rt:       rt,
		id:       -1,
		messages: make(map[string]*AgentMessage),
		config:   DefaultConfig(),
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Kind returns the handler binding kind.
func (a *Agent) Kind() Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind
}

// ID returns the registry id. Calling it before Start is a programming
// error.
func (a *Agent) ID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id < 0 {
		panic("agent: ID called before Start")
	}
	return a.id
}

// Config returns the agent's configuration.
func (a *Agent) Config() *Config { return a.config }

// AddMessage registers an accepted message. On a native agent a duplicate
// name is an error; on a scripted agent it is a no-op (replicas re-run the
// registering script).
func (a *Agent) AddMessage(name string, paramDescs *table.Table, displayName, description, icon string) error {
	if name == "" {
		return fmt.Errorf("agent: empty message name")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.messages[name]; exists {
		if a.kind == KindNative {
			return &DuplicateMessageError{Agent: a.name, Message: name}
		}
		return nil
	}
	a.messages[name] = newAgentMessage(a, name, paramDescs, displayName, description, icon)
	return nil
}

// GetMessage resolves a message descriptor by name.
func (a *Agent) GetMessage(name string) (*AgentMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.messages[name]
	if !ok {
		return nil, &UnknownMessageError{Agent: a.name, Message: name}
	}
	return m, nil
}

// Messages returns the message catalogue.
func (a *Agent) Messages() map[string]*AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*AgentMessage, len(a.messages))
	for k, v := range a.messages {
		out[k] = v
	}
	return out
}

// StartNative assigns an id, installs handler into the mailbox and launches
// the consumer. ordering selects FIFO or per-sub-queue dispatch.
func (a *Agent) StartNative(handler Handler, ordering mailbox.Ordering) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.id >= 0 {
		return fmt.Errorf("agent: %q already started", a.name)
	}
	a.id = a.rt.IDs.Register()
	a.kind = KindNative
	a.rebindMessages()

	wrapped := func(msg *Message) {
		defer a.rt.InFlight.Decrease()
		handler(msg)
	}
	a.rt.Mail.AddHandler(a.id, wrapped, "h_"+a.name, ordering)
	a.installLogger()
	return nil
}

// StartScripted assigns an id, creates the primary worker (which executes
// the script source) and attaches it to the mailbox.
func (a *Agent) StartScripted(path, code string, factory script.Factory) error {
	a.mu.Lock()
	if a.id >= 0 {
		a.mu.Unlock()
		return fmt.Errorf("agent: %q already started", a.name)
	}
	a.id = a.rt.IDs.Register()
	a.kind = KindScripted
	a.factory = factory
	a.path = path
	a.code = code
	a.rebindMessages()
	id := a.id
	a.mu.Unlock()

	primary, err := newWorker(a, nil)
	if err != nil {
		a.mu.Lock()
		_ = a.rt.IDs.Deregister(a.id)
		a.id = -1
		a.kind = KindUndefined
		a.mu.Unlock()
		return fmt.Errorf("agent: starting %q: %w", a.name, err)
	}

	a.mu.Lock()
	a.primary = primary
	a.mu.Unlock()

	a.rt.Mail.AddHandler(id, primary.handle, threadName(false, path, code, a.name), mailbox.FIFO)
	a.installLogger()
	return nil
}

// rebindMessages refreshes descriptors registered before Start so they
// carry the assigned id. Callers hold a.mu.
func (a *Agent) rebindMessages() {
	for _, m := range a.messages {
		m.agentID = a.id
		m.agentKind = a.kind
	}
}

// installLogger wires the logMessages knob to the mailbox, rate-limited so
// a hot queue cannot flood the log. Called after the id is assigned. The
// knob is read on every message, so setting it after Start takes effect.
func (a *Agent) installLogger() {
	limiter := rate.NewLimiter(rate.Every(10*time.Millisecond), 100)
	a.rt.Mail.SetLogger(a.id, func(id int, msg *Message, sending bool) {
		if !a.config.LogMessages() || !limiter.Allow() {
			return
		}
		verb := "received"
		if sending {
			verb = "sent"
		}
		log.Printf("[agent] message %q to handler %d was %s with parameters\n%s", msg.Name, id, verb, msg.Params.Format())
	})
}

// ErrInterrupted is raised into script hosts after Interrupt was called.
var ErrInterrupted = errors.New("agent: interrupted")

// Interrupt requests cooperative cancellation: every worker's script host
// aborts its running script at the next safe point. Native handlers are not
// interruptible.
func (a *Agent) Interrupt() {
	a.interrupted.Store(true)
}

// checkInterrupt is the hook installed into every script host.
func (a *Agent) checkInterrupt() error {
	if a.interrupted.Load() {
		return ErrInterrupted
	}
	return nil
}

// Primary returns the primary worker of a scripted agent, or nil.
func (a *Agent) Primary() *Worker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.primary
}

// WorkerCount returns the number of live workers serving this agent
// (primary plus replicas) for a scripted agent, or 1 for a native one.
func (a *Agent) WorkerCount() int {
	a.mu.Lock()
	primary := a.primary
	a.mu.Unlock()
	if primary == nil {
		return 1
	}
	return 1 + primary.ReplicaCount()
}

// Release disposes the agent's mailbox slot (draining pending messages),
// closes its workers and returns the id to the registry.
func (a *Agent) Release() {
	a.mu.Lock()
	id := a.id
	primary := a.primary
	a.mu.Unlock()

	if id < 0 {
		return
	}

	a.rt.Mail.Dispose(id)

	if primary != nil {
		primary.close()
	}

	a.mu.Lock()
	if a.id >= 0 {
		if err := a.rt.IDs.Deregister(a.id); err != nil {
			log.Printf("[agent] releasing %q: %v", a.name, err)
		}
		a.id = -1
	}
	a.primary = nil
	a.mu.Unlock()
}

// threadName mirrors the worker naming scheme used in logs: replicas are
// prefixed with R, inline code with C.
func threadName(replica bool, path, code, agentName string) string {
	var b strings.Builder
	if replica {
		b.WriteString("R")
	}
	b.WriteString("L")
	if code != "" {
		b.WriteString("C")
	}
	if path != "" {
		b.WriteString(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		b.WriteString("_")
	}
	b.WriteString(agentName)
	return b.String()
}
