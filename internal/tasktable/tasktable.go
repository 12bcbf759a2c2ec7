// Package tasktable holds the host's id -> handler map for inbound external
// tasks, and defines the uniform handler calling convention the scheduler
// dispatches through.
//
// The original source dispatched handlers with 1, 2, or 3 positional
// arguments depending on task id. This is normalized to a single shape:
// every handler receives a Context (which may carry the owning link's
// identity and a narrow handle back to its scheduler) and the
// raw payload, and returns a status byte that is surfaced to the peer via
// ALERT_SYSTEM.
package tasktable

import (
	"fmt"
	"sync"
)

// SchedulerHandle is the narrow capability a handler borrows from its
// scheduler. It is defined here, not in the scheduler package, so that
// tasktable has no import-time dependency on scheduler: the scheduler
// package implements this interface and passes itself in as ctx.Scheduler.
type SchedulerHandle interface {
	// Schedule enqueues an external task the same way a host-side caller
	// would, letting a handler reply or chain a follow-up task.
	Schedule(taskID uint8, payload []byte, priority, fast bool) error
	// Unschedule removes a pending outgoing task by id, if still queued.
	Unschedule(taskID uint8) bool
}

// Context is passed to every handler invocation.
type Context struct {
	LinkID    string
	Scheduler SchedulerHandle
}

// Handler is the uniform task-handler shape. The returned byte is the
// ret_code surfaced to the peer in the ALERT_SYSTEM ACK; a handler must
// never panic across this boundary (the scheduler recovers and maps a
// panic to a nonzero ret_code, but handlers should return errors as status
// codes instead of relying on that safety net).
type Handler func(ctx Context, payload []byte) uint8

// entry is a registered task-table row.
type entry struct {
	handler        Handler
	declaredSize   int // -1 means variable / not validated
}

// Table is the id -> handler map. A Table may be shared between several
// schedulers cloned from a common parent (§5): all mutation is expected to
// complete before any worker starts, and runtime registration after that
// point must go through Register, which is mutex-guarded.
type Table struct {
	mu      sync.Mutex
	entries map[uint8]entry
}

// New returns an empty task table.
func New() *Table {
	return &Table{entries: make(map[uint8]entry)}
}

// Register binds taskID to handler. declaredSize < 0 means the payload
// length is not validated; declaredSize >= 0 means inbound payloads for
// this id must have exactly that length.
//
// Register returns an error if taskID is already registered, matching the
// original source's refusal to silently overwrite a task-table row.
func (t *Table) Register(taskID uint8, declaredSize int, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[taskID]; exists {
		return fmt.Errorf("tasktable: task %d already registered", taskID)
	}
	t.entries[taskID] = entry{handler: handler, declaredSize: declaredSize}
	return nil
}

// Lookup resolves taskID's handler and declared payload size. It doubles as
// the packet.Lookup function the packet layer needs to validate inbound
// external frames.
func (t *Table) Lookup(taskID uint8) (declaredSize int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[taskID]
	if !ok {
		return 0, false
	}
	return e.declaredSize, true
}

// Handler returns the registered handler for taskID, if any.
func (t *Table) Handler(taskID uint8) (Handler, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[taskID]
	if !ok {
		return nil, false
	}
	return e.handler, true
}
