// Package mailbox implements the per-receiver message queues and their
// consumer goroutines. Each receiver id owns an unbounded FIFO (or a set of
// independently ordered sub-queues) drained by one consumer per installed
// handler. Senders never block; consumers block on the queue's condition
// variable.
package mailbox

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentgrid-dev/agentgrid/pkg/observability"
)

// Ordering selects how a receiver serialises its messages.
type Ordering int

const (
	// FIFO drains one logical queue in send order. With more than one
	// consumer attached (replicated workers), messages run in parallel and
	// send order is no longer kept.
	FIFO Ordering = iota
	// PerSubQueue serialises each sub-queue key independently, with one
	// consumer per key. Messages for distinct keys run in parallel.
	PerSubQueue
)

// NoSuchReceiverError is returned by Send for unknown or disposed receivers.
type NoSuchReceiverError struct {
	ID int
}

func (e *NoSuchReceiverError) Error() string {
	return fmt.Sprintf("mailbox: no receiver with id %d", e.ID)
}

// Handler consumes one message. Panics are recovered by the consumer; the
// queue never dies on a bad handler.
type Handler[T any] func(T)

// Logger observes traffic for one receiver. sending is true on the send
// path, false just before the handler runs.
type Logger[T any] func(id int, msg T, sending bool)

// Manager owns all receivers of one runtime instance.
type Manager[T any] struct {
	mu        sync.Mutex
	receivers map[int]*receiver[T]
}

type receiver[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ordering Ordering
	name     string

	fifo     []T
	subs     map[int64][]T
	subLive  map[int64]bool
	handlers []Handler[T]

	logger   Logger[T]
	disposed bool
	wg       sync.WaitGroup
}

// New returns a manager with no receivers.
func New[T any]() *Manager[T] {
	return &Manager[T]{receivers: make(map[int]*receiver[T])}
}

var tracer = otel.Tracer("agentgrid/mailbox")

// AddHandler installs handler for id and launches its consumer. Installing a
// second handler on a live FIFO receiver attaches an additional consumer to
// the same queue; this is how replicated workers participate. The consumers
// dequeue in send order but handle messages concurrently, so handler
// invocations no longer follow send order once a second consumer runs.
func (m *Manager[T]) AddHandler(id int, handler Handler[T], name string, ordering Ordering) {
	m.mu.Lock()
	r, ok := m.receivers[id]
	if !ok {
		r = &receiver[T]{
			ordering: ordering,
			name:     name,
			subs:     make(map[int64][]T),
			subLive:  make(map[int64]bool),
		}
		r.cond = sync.NewCond(&r.mu)
		m.receivers[id] = r
	}
	m.mu.Unlock()

	r.mu.Lock()
	r.handlers = append(r.handlers, handler)
	disposed := r.disposed
	r.mu.Unlock()
	if disposed {
		return
	}

	if ordering == FIFO {
		r.wg.Add(1)
		go r.consumeFIFO(id, handler)
	}
	// PerSubQueue consumers start lazily, one per key, on first send.
}

// SetLogger installs the traffic callback for id.
func (m *Manager[T]) SetLogger(id int, logger Logger[T]) {
	r := m.get(id)
	if r == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Send enqueues msg for id under subQueue. It returns immediately; queues
// are unbounded. Sending to an unknown or disposed receiver fails with
// NoSuchReceiverError.
func (m *Manager[T]) Send(id int, msg T, subQueue int64) error {
	r := m.get(id)
	if r == nil {
		return &NoSuchReceiverError{ID: id}
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return &NoSuchReceiverError{ID: id}
	}
	logger := r.logger
	switch r.ordering {
	case PerSubQueue:
		r.subs[subQueue] = append(r.subs[subQueue], msg)
		if !r.subLive[subQueue] {
			r.subLive[subQueue] = true
			r.wg.Add(1)
			go r.consumeSub(id, subQueue)
		}
	default:
		r.fifo = append(r.fifo, msg)
	}
	depth := len(r.fifo)
	for _, q := range r.subs {
		depth += len(q)
	}
	r.mu.Unlock()
	r.cond.Broadcast()

	observability.SetQueueDepth(strconv.Itoa(id), depth)
	if logger != nil {
		logger(id, msg, true)
	}
	return nil
}

// Dispose stops the consumers of id gracefully: remaining messages are
// drained through the handler(s), then the slot is released. Subsequent
// sends for id fail.
func (m *Manager[T]) Dispose(id int) {
	r := m.get(id)
	if r == nil {
		return
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.mu.Unlock()
	r.cond.Broadcast()

	r.wg.Wait()

	m.mu.Lock()
	delete(m.receivers, id)
	m.mu.Unlock()
	observability.SetQueueDepth(strconv.Itoa(id), 0)
}

// IDs returns the ids of all live receivers.
func (m *Manager[T]) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.receivers))
	for id := range m.receivers {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager[T]) get(id int) *receiver[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivers[id]
}

// consumeFIFO drains the shared FIFO until the receiver is disposed and the
// queue is empty. Multiple consumers may run this loop for one receiver.
func (r *receiver[T]) consumeFIFO(id int, handler Handler[T]) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		for len(r.fifo) == 0 && !r.disposed {
			r.cond.Wait()
		}
		if len(r.fifo) == 0 {
			r.mu.Unlock()
			return
		}
		msg := r.fifo[0]
		r.fifo = r.fifo[1:]
		logger := r.logger
		r.mu.Unlock()

		r.dispatch(id, msg, handler, logger)
	}
}

// consumeSub drains one sub-queue. It exits only once the receiver is
// disposed and its lane is empty; sends are rejected from then on.
func (r *receiver[T]) consumeSub(id int, key int64) {
	defer r.wg.Done()
	handler := r.firstHandler()
	for {
		r.mu.Lock()
		for len(r.subs[key]) == 0 && !r.disposed {
			r.cond.Wait()
		}
		q := r.subs[key]
		if len(q) == 0 {
			r.subLive[key] = false
			r.mu.Unlock()
			return
		}
		msg := q[0]
		r.subs[key] = q[1:]
		logger := r.logger
		r.mu.Unlock()

		r.dispatch(id, msg, handler, logger)
	}
}

func (r *receiver[T]) firstHandler() Handler[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[0]
}

func (r *receiver[T]) dispatch(id int, msg T, handler Handler[T], logger Logger[T]) {
	if logger != nil {
		logger(id, msg, false)
	}

	_, span := tracer.Start(context.Background(), "mailbox.dispatch",
		trace.WithAttributes(
			attribute.Int("receiver.id", id),
			attribute.String("receiver.name", r.name),
		))
	start := time.Now()
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[mailbox] handler for receiver %d (%s) panicked: %v\n%s", id, r.name, rec, debug.Stack())
				observability.RecordHandlerPanic(r.name)
			}
		}()
		handler(msg)
	}()
	observability.RecordDispatch(r.name, time.Since(start))
	span.End()
}
