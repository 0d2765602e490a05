package table

// Reserved parameter keys. These names are part of the external contract:
// senders and handlers address them literally inside the payload.
const (
	KeyReplyTo        = "reply_to"
	KeyReplyAgent     = "agent"
	KeyReplyMessage   = "message"
	KeyReplyMerge     = "merge"
	KeyOriginal       = "original_message"
	KeyOriginalName   = "message_name"
	KeyOriginalParams = "parameters"
	KeyQueue          = "queue"
	KeyThreads        = "threads"
	KeyUnreplicated   = "unreplicated"
	KeyError          = "error"
)

// SetReplyTo sets reply_to.agent and reply_to.message.
func (t *Table) SetReplyTo(agentName, messageName string) {
	rt := t.Sub(KeyReplyTo)
	rt.Set(KeyReplyAgent, agentName)
	rt.Set(KeyReplyMessage, messageName)
}

// SetReplyToAgent sets reply_to.agent only.
func (t *Table) SetReplyToAgent(agentName string) {
	t.Sub(KeyReplyTo).Set(KeyReplyAgent, agentName)
}

// ReplyToAgent returns reply_to.agent, or "".
func (t *Table) ReplyToAgent() string {
	rt := t.GetSub(KeyReplyTo)
	if rt == nil {
		return ""
	}
	return rt.String(KeyReplyAgent)
}

// ReplyToMessage returns reply_to.message, or "".
func (t *Table) ReplyToMessage() string {
	rt := t.GetSub(KeyReplyTo)
	if rt == nil {
		return ""
	}
	return rt.String(KeyReplyMessage)
}

// MergeOnReply returns reply_to.merge, or nil.
func (t *Table) MergeOnReply() *Table {
	rt := t.GetSub(KeyReplyTo)
	if rt == nil {
		return nil
	}
	return rt.GetSub(KeyReplyMerge)
}

// SetOriginalMessage records the incoming message name and parameters under
// original_message, as delivered to auto-reply receivers.
func (t *Table) SetOriginalMessage(name string, params *Table) {
	om := t.Sub(KeyOriginal)
	om.Set(KeyOriginalName, name)
	om.SetSub(KeyOriginalParams, params)
}

// OriginalMessageName returns original_message.message_name, or "".
func (t *Table) OriginalMessageName() string {
	om := t.GetSub(KeyOriginal)
	if om == nil {
		return ""
	}
	return om.String(KeyOriginalName)
}

// OriginalMessageParams returns original_message.parameters, or nil.
func (t *Table) OriginalMessageParams() *Table {
	om := t.GetSub(KeyOriginal)
	if om == nil {
		return nil
	}
	return om.GetSub(KeyOriginalParams)
}

// Queue returns the sub-queue selector, or 0 when unset.
func (t *Table) Queue() int64 {
	return t.Int(KeyQueue)
}

// Threads returns the sender-requested replication ceiling, or 0 when unset.
func (t *Table) Threads() (int64, bool) {
	v, ok := t.Data[KeyThreads]
	n, isInt := v.(int64)
	return n, ok && isInt
}

// Unreplicated reports whether the sender requested the primary worker.
func (t *Table) Unreplicated() bool {
	return t.Bool(KeyUnreplicated)
}

// ErrorText returns the "error" entry of a handler result, or "".
func (t *Table) ErrorText() string {
	return t.String(KeyError)
}
