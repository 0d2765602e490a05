package agent

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentgrid-dev/agentgrid/ffi"
	"github.com/agentgrid-dev/agentgrid/internal/mailbox"
	"github.com/agentgrid-dev/agentgrid/pkg/observability"
	"github.com/agentgrid-dev/agentgrid/script"
	"github.com/agentgrid-dev/agentgrid/table"
)

// Worker is one script-host instance serving a scripted agent. The first
// worker is the primary; replicas are spawned under load and live until the
// primary is closed — the replica set only grows.
type Worker struct {
	id        string
	agent     *Agent
	host      script.Host
	isReplica bool
	imports   *ffi.Imports
	replicas  *replicaSet

	// callMu serialises invocations on this worker's host with close: the
	// first delivery to a replica runs on its own goroutine, outside the
	// mailbox consumers that Dispose waits for, and script hosts are
	// single-threaded.
	callMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
}

type replicaSet struct {
	mu   sync.Mutex
	list []*Worker
}

// newWorker creates a worker for a: a fresh host from the agent's factory,
// builtins bound, registered tables pushed, and the script source executed.
// replicaOf is nil for the primary.
func newWorker(a *Agent, replicaOf *Worker) (*Worker, error) {
	host, err := a.factory()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:        uuid.NewString(),
		agent:     a,
		host:      host,
		isReplica: replicaOf != nil,
		imports:   ffi.NewImports(nil, nil),
	}
	if replicaOf != nil {
		w.replicas = replicaOf.replicas
	} else {
		w.replicas = &replicaSet{}
	}

	w.bind()
	host.SetCheckHook(a.checkInterrupt)
	if tables := a.owner.RegisteredTable(a.name); tables != nil {
		for key, sub := range tables.Subs {
			if name, ok := key.(string); ok {
				host.SetGlobalTable(name, sub)
			}
		}
	}

	if err := host.Run(a.path, a.code); err != nil {
		_ = host.Close()
		return nil, err
	}
	return w, nil
}

// IsReplica reports whether this worker is a replica.
func (w *Worker) IsReplica() bool { return w.isReplica }

// ReplicaCount returns the size of the agent's replica set.
func (w *Worker) ReplicaCount() int {
	w.replicas.mu.Lock()
	defer w.replicas.mu.Unlock()
	return len(w.replicas.list)
}

// handle processes one message: it may spawn a replica and forward the
// message there, otherwise it runs the script function itself.
func (w *Worker) handle(msg *Message) {
	idle := time.Since(w.last()) > w.agent.Config().StartNewThreadTime()

	handled := false
	if !idle && !msg.Params.Unreplicated() {
		if requested, ok := msg.Params.Threads(); ok {
			handled = w.tryReplicate(msg, requested)
		}
	}
	if !handled {
		w.invoke(msg)
	}

	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// tryReplicate grows the replica set when the sender requested more workers
// than are live. The clone handed to the new replica loses its "threads"
// key so the first delivery cannot recurse.
func (w *Worker) tryReplicate(msg *Message, requested int64) bool {
	a := w.agent

	w.replicas.mu.Lock()
	if int64(len(w.replicas.list))+1 >= requested {
		w.replicas.mu.Unlock()
		return false
	}

	replica, err := newWorker(a, w)
	if err != nil {
		w.replicas.mu.Unlock()
		log.Printf("[agent] %s: could not replicate: %v", a.Name(), err)
		return false
	}
	w.replicas.list = append(w.replicas.list, replica)
	count := len(w.replicas.list)
	w.replicas.mu.Unlock()

	clone := msg.Clone()
	clone.Params.Delete(table.KeyThreads)
	go func() {
		// The first delivery bypasses the queue; the replica joins the
		// queue's consumers only once it has worked through it, so a fresh
		// replica cannot absorb the backlog that justified spawning it.
		replica.handle(clone)
		if !a.rt.ShuttingDown() {
			a.rt.Mail.AddHandler(msg.AgentID, replica.handle, threadName(true, a.path, a.code, a.Name()), mailbox.FIFO)
		}
	}()

	observability.RecordReplication(a.Name())
	if a.Config().LogReplication() {
		subject := "agent '" + a.Name() + "' is"
		if count > 1 {
			subject = "all agents '" + a.Name() + "' are"
		}
		log.Printf("[agent] %s busy => replicating to %d threads to process incoming message %q", subject, count+1, msg.Name)
	}
	return true
}

// invoke runs the script function named after the message, composes the
// reply if requested, and always pairs the in-flight decrement.
func (w *Worker) invoke(msg *Message) {
	a := w.agent
	defer func() {
		a.rt.InFlight.Decrease()
		observability.SetInFlight(a.rt.InFlight.Size())
	}()

	// Memory handed out by the managed allocator survives until the result
	// table has been composed and sent.
	releaseGuard := ffi.DefaultAllocator.DelayDeallocation()
	defer releaseGuard()

	w.callMu.Lock()
	result, err := w.host.Call(msg.Name, msg.Params)
	// The import table lives for one script invocation; dropping it here
	// releases the library references taken by import.
	w.imports.Reset()
	w.callMu.Unlock()
	if err != nil {
		log.Printf("[agent] %s: handling message %q: %v", a.Name(), msg.Name, err)
		return
	}

	if errText := result.ErrorText(); errText != "" {
		log.Printf("[agent] %s: message %q returned error: %s", a.Name(), msg.Name, errText)
		return
	}

	replyAgent := msg.Params.ReplyToAgent()
	replyMessage := msg.Params.ReplyToMessage()
	if replyAgent == "" || replyMessage == "" {
		return
	}

	am, err := a.owner.GetMessage(replyAgent, replyMessage)
	if err != nil {
		log.Printf("[agent] %s: dropping reply for %q: %v", a.Name(), msg.Name, err)
		return
	}

	result.SetOriginalMessage(msg.Name, msg.Params)
	if err := table.Merge(result, msg.Params.MergeOnReply()); err != nil {
		log.Printf("[agent] %s: dropping reply for %q: %v", a.Name(), msg.Name, err)
		return
	}

	if err := am.Send(result); err != nil {
		log.Printf("[agent] %s: sending reply %q to %q: %v", a.Name(), replyMessage, replyAgent, err)
	}
}

func (w *Worker) last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

// close shuts the worker down. Closing the primary clears and closes its
// replica set.
func (w *Worker) close() {
	if !w.isReplica {
		w.replicas.mu.Lock()
		replicas := w.replicas.list
		w.replicas.list = nil
		w.replicas.mu.Unlock()
		for _, r := range replicas {
			r.close()
		}
	}
	w.imports.Reset()
	w.callMu.Lock()
	defer w.callMu.Unlock()
	if err := w.host.Close(); err != nil {
		log.Printf("[agent] %s: closing script host: %v", w.agent.Name(), err)
	}
}
