// Package agentgrid is an in-process agent-and-message runtime: a host that
// owns a set of named long-lived workers, each bound to one handler (native
// Go code or a scripted function), and delivers named messages with
// structured parameter payloads between them. Scripted agents replicate
// additional workers under load and may call into shared libraries through
// the ffi package.
package agentgrid

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentgrid-dev/agentgrid/agent"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// DuplicateAgentError is returned when an agent name is already taken.
type DuplicateAgentError struct {
	Name string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agentgrid: agent %q already exists", e.Name)
}

// UnknownAgentError is returned by lookups for unregistered names.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("agentgrid: unknown agent %q", e.Name)
}

// Agents is the collection of live agents and the owner of the shared
// runtime machinery. One Agents value is one messaging host.
type Agents struct {
	rt      *agent.Runtime
	factory script.Factory

	mu     sync.Mutex
	agents map[string]*agent.Agent
	tables map[string]*table.Table
}

// New creates an empty collection. factory produces the script hosts for
// scripted agents; nil selects the in-Go FuncHost.
func New(factory script.Factory) *Agents {
	if factory == nil {
		factory = func() (script.Host, error) { return script.NewFuncHost(), nil }
	}
	return &Agents{
		rt:      agent.NewRuntime(),
		factory: factory,
		agents:  make(map[string]*agent.Agent),
		tables:  make(map[string]*table.Table),
	}
}

// Add creates and starts a native agent with a FIFO queue.
func (g *Agents) Add(name string, handler agent.Handler) (*agent.Agent, error) {
	return g.AddOrdered(name, handler, agent.FIFO)
}

// AddOrdered creates and starts a native agent with the given dispatch
// ordering.
func (g *Agents) AddOrdered(name string, handler agent.Handler, ordering agent.Ordering) (*agent.Agent, error) {
	a, err := g.reserve(name)
	if err != nil {
		return nil, err
	}
	if err := a.StartNative(handler, ordering); err != nil {
		g.unreserve(name)
		return nil, err
	}
	return a, nil
}

// AddScriptedAgent creates and starts a scripted agent executing the given
// source: code when non-empty, otherwise the script file at path.
func (g *Agents) AddScriptedAgent(name, path, code string) (*agent.Agent, error) {
	a, err := g.reserve(name)
	if err != nil {
		return nil, err
	}
	if err := a.StartScripted(path, code, g.factory); err != nil {
		g.unreserve(name)
		return nil, err
	}
	return a, nil
}

// AddScripted implements the agent.Collection hook behind the addagent
// builtin: it creates a scripted agent and registers the named messages.
func (g *Agents) AddScripted(name, path, code string, messages []string) error {
	a, err := g.AddScriptedAgent(name, path, code)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if err := a.AddMessage(msg, nil, "", "", ""); err != nil {
			return err
		}
	}
	return nil
}

func (g *Agents) reserve(name string) (*agent.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.agents[name]; exists {
		return nil, &DuplicateAgentError{Name: name}
	}
	a := agent.New(g, g.rt, name)
	g.agents[name] = a
	return a, nil
}

func (g *Agents) unreserve(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.agents, name)
}

// GetAgent returns a registered agent by name.
func (g *Agents) GetAgent(name string) (*agent.Agent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.agents[name]
	if !ok {
		return nil, &UnknownAgentError{Name: name}
	}
	return a, nil
}

// GetMessage resolves a send handle by agent and message name.
func (g *Agents) GetMessage(agentName, messageName string) (*agent.AgentMessage, error) {
	a, err := g.GetAgent(agentName)
	if err != nil {
		return nil, err
	}
	return a.GetMessage(messageName)
}

// List returns the names of all registered agents.
func (g *Agents) List() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.agents))
	for name := range g.agents {
		names = append(names, name)
	}
	return names
}

// RegisterTable publishes sub-tables of t as global tables in every script
// host of the named agent. Registering the same sub-table key twice is an
// error.
func (g *Agents) RegisterTable(agentName string, t *table.Table) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.tables[agentName]
	if !ok {
		existing = table.New()
		g.tables[agentName] = existing
	}
	for key, sub := range t.Subs {
		if _, dup := existing.Subs[key]; dup {
			return fmt.Errorf("agentgrid: attempt to push duplicate table %v to agent %q", key, agentName)
		}
		existing.Subs[key] = sub.Clone()
	}
	return nil
}

// RegisteredTable implements agent.Collection.
func (g *Agents) RegisteredTable(agentName string) *table.Table {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tables[agentName]
}

// TotalInFlight returns the number of messages between enqueue and handler
// completion.
func (g *Agents) TotalInFlight() int64 {
	return g.rt.InFlight.Size()
}

// WaitUntilFirst blocks until the first message was ever sent.
func (g *Agents) WaitUntilFirst() {
	g.rt.InFlight.WaitUntilFirst()
}

// WaitUntilEmpty blocks until no message is in flight. With senders
// stopped, this is the drain barrier before Shutdown.
func (g *Agents) WaitUntilEmpty() {
	log.Println("[agentgrid] waiting until message queue is empty")
	g.rt.InFlight.WaitUntilEmpty()
	log.Println("[agentgrid] detected empty message queue")
}

// Shutdown releases every agent: each mailbox is drained and joined, ids
// return to the registry, and the registered script tables are cleared.
// Sends that race with shutdown are logged and dropped.
func (g *Agents) Shutdown() error {
	g.rt.BeginShutdown()

	g.mu.Lock()
	agents := make([]*agent.Agent, 0, len(g.agents))
	for _, a := range g.agents {
		agents = append(agents, a)
	}
	g.agents = make(map[string]*agent.Agent)
	g.tables = make(map[string]*table.Table)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, a := range agents {
		a := a
		eg.Go(func() error {
			a.Release()
			return nil
		})
	}
	err := eg.Wait()
	log.Println("[agentgrid] all agents released")
	return err
}
