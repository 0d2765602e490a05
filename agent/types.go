// Package agent implements agents, their message catalogues, the send path,
// and the scripted workers including the replication machinery.
package agent

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentgrid-dev/agentgrid/internal/mailbox"
	"github.com/agentgrid-dev/agentgrid/table"
)

// Ordering re-exports the mailbox dispatch modes for Start callers.
type Ordering = mailbox.Ordering

const (
	// FIFO drains one logical queue in send order.
	FIFO = mailbox.FIFO
	// PerSubQueue serialises each "queue" key independently.
	PerSubQueue = mailbox.PerSubQueue
)

// Kind tags an agent's handler binding. Once set, it never changes.
type Kind int

const (
	KindUndefined Kind = iota
	// KindNative binds a Go handler function.
	KindNative
	// KindScripted binds a script with named entry points, one host per
	// worker.
	KindScripted
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindScripted:
		return "scripted"
	default:
		return "undefined"
	}
}

// Message is one in-flight message: target agent id, message name, payload.
type Message struct {
	ID      string
	AgentID int
	Name    string
	Params  *table.Table
}

// NewMessage builds a message with a fresh id.
func NewMessage(agentID int, name string, params *table.Table) *Message {
	if params == nil {
		params = table.New()
	}
	return &Message{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Name:    name,
		Params:  params,
	}
}

// Clone deep-copies the message, keeping its id.
func (m *Message) Clone() *Message {
	return &Message{
		ID:      m.ID,
		AgentID: m.AgentID,
		Name:    m.Name,
		Params:  m.Params.Clone(),
	}
}

// Handler is a native agent's message handler. The dispatcher wraps it and
// owns the in-flight pairing; handlers must not touch the counter.
type Handler func(*Message)

// Collection is the agent's view of its owning registry. Agents hold their
// owner by this interface only.
type Collection interface {
	// GetMessage resolves a message descriptor by agent and message name.
	GetMessage(agentName, messageName string) (*AgentMessage, error)

	// AddScripted creates and starts a scripted agent running the given
	// code, registering the named messages. Used by the addagent builtin.
	AddScripted(name, path, code string, messages []string) error

	// RegisteredTable returns the predefined global tables registered for an
	// agent, or nil.
	RegisteredTable(agentName string) *table.Table
}

// ErrShutdownInProgress names the condition of a send that arrives after
// shutdown began. AgentMessage.Send does not return it: such sends are
// logged and dropped, and Send returns nil.
var ErrShutdownInProgress = errors.New("agent: shutdown in progress")

// MissingParameterError is returned by Send when a described parameter is
// absent after defaults were applied. The message is not enqueued and the
// in-flight counter is untouched.
type MissingParameterError struct {
	Agent     string
	Message   string
	Parameter any
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("agent: message %q of agent %q: missing parameter value for %v", e.Message, e.Agent, e.Parameter)
}

// DuplicateMessageError is returned when a native agent registers the same
// message name twice.
type DuplicateMessageError struct {
	Agent   string
	Message string
}

func (e *DuplicateMessageError) Error() string {
	return fmt.Sprintf("agent: message %q already registered on agent %q", e.Message, e.Agent)
}

// UnknownMessageError is returned when a message name is not in an agent's
// catalogue.
type UnknownMessageError struct {
	Agent   string
	Message string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("agent: message %q is unknown in agent %q", e.Message, e.Agent)
}
