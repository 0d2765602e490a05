package agent

import (
	"log"

	"github.com/agentgrid-dev/agentgrid/pkg/observability"
	"github.com/agentgrid-dev/agentgrid/table"
)

// AgentMessage describes one accepted message of an agent and is the send
// handle: senders resolve it by agent and message name and call Send.
type AgentMessage struct {
	agentID     int
	agentName   string
	agentKind   Kind
	name        string
	paramDescs  *table.Table // per-parameter descriptions in Subs
	displayName string
	description string
	iconPath    string

	rt *Runtime
}

func newAgentMessage(a *Agent, name string, paramDescs *table.Table, displayName, description, icon string) *AgentMessage {
	if paramDescs == nil {
		paramDescs = table.New()
	}
	if displayName == "" {
		displayName = name
	}
	if description == "" {
		description = displayName
	}
	return &AgentMessage{
		agentID:     a.id,
		agentName:   a.name,
		agentKind:   a.kind,
		name:        name,
		paramDescs:  paramDescs,
		displayName: displayName,
		description: description,
		iconPath:    icon,
		rt:          a.rt,
	}
}

// Name returns the message name.
func (m *AgentMessage) Name() string { return m.name }

// AgentName returns the receiving agent's name.
func (m *AgentMessage) AgentName() string { return m.agentName }

// AgentKind returns the receiving agent's kind.
func (m *AgentMessage) AgentKind() Kind { return m.agentKind }

// DisplayName returns the display name, defaulting to the message name.
func (m *AgentMessage) DisplayName() string { return m.displayName }

// Description returns the description, defaulting to the display name.
func (m *AgentMessage) Description() string { return m.description }

// IconPath returns the optional icon path.
func (m *AgentMessage) IconPath() string { return m.iconPath }

// ParameterDescriptions returns the parameter description table.
func (m *AgentMessage) ParameterDescriptions() *table.Table { return m.paramDescs }

// Send validates and enqueues params as a message to this agent:
//
//  1. defaults from the parameter descriptions fill unset keys;
//  2. every described parameter must then be present, else
//     MissingParameterError (the in-flight counter is untouched on this
//     failure path);
//  3. the counter is incremented and the message submitted with the
//     "queue" parameter as sub-queue key.
//
// After shutdown began, or when the receiver is already gone, the message
// is logged and dropped; the counter stays balanced.
func (m *AgentMessage) Send(params *table.Table) error {
	if params == nil {
		params = table.New()
	}
	withDefaults := m.applyDefaults(params)
	if err := m.validate(withDefaults); err != nil {
		return err
	}

	if m.rt.ShuttingDown() {
		log.Printf("[agent] skipped message %q to %q because shutdown had been initiated", m.name, m.agentName)
		observability.RecordDrop("shutdown")
		return nil
	}

	m.rt.InFlight.Increase()
	observability.SetInFlight(m.rt.InFlight.Size())

	msg := NewMessage(m.agentID, m.name, withDefaults)
	if err := m.rt.Mail.Send(m.agentID, msg, withDefaults.Queue()); err != nil {
		log.Printf("[agent] dropped message %q to %q: %v", m.name, m.agentName, err)
		observability.RecordDrop("no_such_receiver")
		m.rt.InFlight.Decrease()
		observability.SetInFlight(m.rt.InFlight.Size())
		return nil
	}

	observability.RecordSend(m.agentName, m.name)
	return nil
}

// applyDefaults fills unset parameters from the "default" entry of their
// description, scalar or nested.
func (m *AgentMessage) applyDefaults(params *table.Table) *table.Table {
	result := params.Clone()
	for key, desc := range m.paramDescs.Subs {
		if result.Has(key) {
			continue
		}
		if def, ok := desc.Data["default"]; ok {
			result.Data[key] = def
		} else if def, ok := desc.Subs["default"]; ok {
			result.Subs[key] = def.Clone()
		}
	}
	return result
}

func (m *AgentMessage) validate(params *table.Table) error {
	for key := range m.paramDescs.Subs {
		if !params.Has(key) {
			return &MissingParameterError{Agent: m.agentName, Message: m.displayName, Parameter: key}
		}
	}
	return nil
}
