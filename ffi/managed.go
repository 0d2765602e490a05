// Package ffi implements the dynamic native call bridge: shared-library
// loading, typed argument marshalling, and the managed buffer allocator for
// values that outlive a call.
package ffi

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/agentgrid-dev/agentgrid/table"
)

// Allocator is a content-addressed, refcounted buffer allocator. An address
// is "known" iff this allocator minted it. Managed pointers cross worker
// boundaries inside parameter tables; the allocator is process-global and
// internally synchronised.
type Allocator struct {
	mu         sync.Mutex
	bufs       map[table.Pointer]*buffer
	delayDepth int
	pending    []table.Pointer
}

type buffer struct {
	data []byte
	refs int
}

// NewAllocator returns an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{bufs: make(map[table.Pointer]*buffer)}
}

// DefaultAllocator is the process-wide instance.
var DefaultAllocator = NewAllocator()

// Alloc reserves size bytes with a reference count of one and returns the
// buffer's address.
func (a *Allocator) Alloc(size int) table.Pointer {
	if size <= 0 {
		size = 1
	}
	b := &buffer{data: make([]byte, size), refs: 1}
	addr := table.Pointer(uintptr(unsafe.Pointer(&b.data[0])))

	a.mu.Lock()
	a.bufs[addr] = b
	a.mu.Unlock()
	return addr
}

// Adopt registers an existing byte slice under its own address. Used to give
// serialized tables a stable, known address for the duration of a call.
func (a *Allocator) Adopt(data []byte) table.Pointer {
	if len(data) == 0 {
		return a.Alloc(1)
	}
	addr := table.Pointer(uintptr(unsafe.Pointer(&data[0])))

	a.mu.Lock()
	if b, ok := a.bufs[addr]; ok {
		b.refs++
	} else {
		a.bufs[addr] = &buffer{data: data, refs: 1}
	}
	a.mu.Unlock()
	return addr
}

// Known reports whether addr was minted by this allocator and is still live.
func (a *Allocator) Known(addr table.Pointer) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.bufs[addr]
	return ok
}

// Bytes returns the backing bytes of a known address.
func (a *Allocator) Bytes(addr table.Pointer) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[addr]
	if !ok {
		return nil, false
	}
	return b.data, true
}

// AddRef increments the reference count of a known address.
func (a *Allocator) AddRef(addr table.Pointer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[addr]
	if !ok {
		return fmt.Errorf("ffi: address %#x is not managed by this allocator", uintptr(addr))
	}
	b.refs++
	return nil
}

// Release decrements the reference count. When the count reaches zero the
// buffer is freed — unless a deallocation delay is active, in which case the
// release takes effect when the last guard drops.
func (a *Allocator) Release(addr table.Pointer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bufs[addr]
	if !ok {
		return fmt.Errorf("ffi: address %#x is not managed by this allocator", uintptr(addr))
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}
	if a.delayDepth > 0 {
		a.pending = append(a.pending, addr)
		return nil
	}
	delete(a.bufs, addr)
	return nil
}

// DelayDeallocation opens a scope during which ref-count-zero releases are
// deferred. The returned func closes the scope; when the last scope closes,
// pending buffers whose count is still zero are freed. The runtime wraps
// every script function invocation in such a scope so that memory returned
// inside a result table survives the call boundary.
func (a *Allocator) DelayDeallocation() (release func()) {
	a.mu.Lock()
	a.delayDepth++
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.delayDepth--
			if a.delayDepth == 0 {
				for _, addr := range a.pending {
					if b, ok := a.bufs[addr]; ok && b.refs <= 0 {
						delete(a.bufs, addr)
					}
				}
				a.pending = nil
			}
			a.mu.Unlock()
		})
	}
}

// Live returns the number of live buffers, for tests and diagnostics.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bufs)
}
