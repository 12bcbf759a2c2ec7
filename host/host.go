// Package host is the multi-link supervisor: it owns one Scheduler and one
// transport.Worker per connected MCU, and gives callers broadcast
// operations across all of them.
//
// This generalizes the original source's BaseMessenger/SerialMessenger
// pair (tools/messengers.py) — one messenger per serial channel, a
// class-level registry for "do this on every MCU" operations — into a
// single Go type backed by golang.org/x/sync/errgroup for link fan-out,
// matching §2's C6 "Transport supervisor: fans out per-link workers,
// aggregates shutdown." It also covers C8's lifecycle glue: the
// WaitMcuSetupComplete handshake barrier and CloseAll's graceful shutdown.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mculink/hostbench/internal/diagnostics"
	"github.com/mculink/hostbench/internal/hostconfig"
	"github.com/mculink/hostbench/internal/scheduler"
	"github.com/mculink/hostbench/internal/tasktable"
	"github.com/mculink/hostbench/internal/transport"
)

// AlertMcuSetupCompletion is the reserved system external-task id (§9's
// 250-255 block) an MCU sends once after it finishes its own scheduler
// setup. It is the trigger WaitMcuSetupComplete waits on, matching
// tasks.py's ALERT_MCU_SETUP_COMPLETION / is_mcu_setup_complete pair.
const AlertMcuSetupCompletion uint8 = 250

// Link bundles one MCU connection's pieces: the scheduler applications
// interact with, and the worker pumping it over a serial stream.
type Link struct {
	Name      string
	Scheduler *scheduler.Scheduler
	worker    *transport.Worker
	stream    *transport.SerialStream
	tasks     *tasktable.Table
}

// Host owns a set of Links and fans out broadcast operations across them,
// mirroring BaseMessenger's classmethods (normal_schedule_to_all_mcus,
// priority_schedule_to_all_mcus, register_task_to_all_mcus).
type Host struct {
	mu            sync.Mutex
	links         map[string]*Link
	diag          diagnostics.Sink
	setupComplete map[string]bool
}

// New builds an empty Host. diag is shared across every link's scheduler.
func New(diag diagnostics.Sink) *Host {
	return &Host{
		links:         make(map[string]*Link),
		diag:          diag,
		setupComplete: make(map[string]bool),
	}
}

// OpenLink opens cfg's serial device, wires a fresh Scheduler and
// transport.Worker, and registers the link under cfg.Name. tasks is
// shared (or cloned) per link by the caller, matching the original's
// "copy the main scheduler's task table for every additional MCU"
// (messengers.py's BaseMessenger._set_scheduler).
func (h *Host) OpenLink(cfg hostconfig.LinkConfig, tasks *tasktable.Table) (*Link, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.links[cfg.Name]; exists {
		return nil, fmt.Errorf("host: link %q already open", cfg.Name)
	}

	stream, err := transport.OpenSerial(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("host: open link %q: %w", cfg.Name, err)
	}

	worker := transport.NewWorker(cfg.Name, stream, h.diag)

	littleEndian := true
	if cfg.LittleEndian != nil {
		littleEndian = *cfg.LittleEndian
	}

	sched := scheduler.New(scheduler.Config{
		LinkID:       cfg.Name,
		Capacity:     cfg.Capacity,
		LittleEndian: littleEndian,
		Tasks:        tasks,
		Tx:           worker.Tx,
		Diagnostics:  h.diag,
	})
	worker.Attach(sched)

	if _, ok := tasks.Lookup(AlertMcuSetupCompletion); !ok {
		// Registered at most once per table: a table shared across every
		// link (the common case) only needs the handler bound once, and
		// ctx.LinkID still tells handleSetupComplete which link fired it.
		if err := tasks.Register(AlertMcuSetupCompletion, -1, h.handleSetupComplete); err != nil {
			return nil, fmt.Errorf("host: register setup-completion handler for link %q: %w", cfg.Name, err)
		}
	}

	link := &Link{
		Name:      cfg.Name,
		Scheduler: sched,
		worker:    worker,
		stream:    stream,
		tasks:     tasks,
	}
	h.links[cfg.Name] = link
	h.setupComplete[cfg.Name] = false
	return link, nil
}

// handleSetupComplete is the ALERT_MCU_SETUP_COMPLETION handler: it marks
// ctx.LinkID as having finished MCU-side setup, matching tasks.py's
// alert_mcu_setup_completion (`_mcu_setup_status[thread_id] = True`).
func (h *Host) handleSetupComplete(ctx tasktable.Context, _ []byte) uint8 {
	h.mu.Lock()
	h.setupComplete[ctx.LinkID] = true
	h.mu.Unlock()
	return 0
}

// WaitMcuSetupComplete blocks until every currently-open link has observed
// at least one ALERT_MCU_SETUP_COMPLETION, or ctx is done. It is the Go
// counterpart of tasks.py's is_mcu_setup_complete polling loop
// (config.py/main.py's `while not tasks.is_mcu_setup_complete()`).
func (h *Host) WaitMcuSetupComplete(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if h.allLinksSetupComplete() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Host) allLinksSetupComplete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.links) == 0 {
		return false
	}
	for name := range h.links {
		if !h.setupComplete[name] {
			return false
		}
	}
	return true
}

// Link returns the named link, if open.
func (h *Host) Link(name string) (*Link, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.links[name]
	return l, ok
}

// Links returns a snapshot of every open link.
func (h *Host) Links() []*Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Link, 0, len(h.links))
	for _, l := range h.links {
		out = append(out, l)
	}
	return out
}

// Run drives every open link's Worker concurrently until ctx is canceled or
// any worker returns an error, at which point the rest are stopped and the
// first error is returned (§5's "supervisor fans these out over
// concurrent transport threads").
func (h *Host) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range h.Links() {
		l := l
		g.Go(func() error {
			return l.worker.Run(gctx)
		})
	}
	return g.Wait()
}

// BroadcastSchedule enqueues the same task on every open link, the Go
// equivalent of BaseMessenger.normal_schedule_to_all_mcus /
// priority_schedule_to_all_mcus.
func (h *Host) BroadcastSchedule(taskID uint8, payload []byte, priority, fast bool) error {
	for _, l := range h.Links() {
		if err := l.Scheduler.Schedule(taskID, payload, priority, fast); err != nil {
			return fmt.Errorf("host: broadcast schedule task %d to link %q: %w", taskID, l.Name, err)
		}
	}
	return nil
}

// BroadcastRegister registers taskID on every currently-open link's task
// table, the Go equivalent of BaseMessenger.register_task_to_all_mcus.
// A link whose table already carries taskID (the common case of one table
// shared across every link) is left alone rather than treated as an error.
func (h *Host) BroadcastRegister(taskID uint8, declaredSize int, handler tasktable.Handler) error {
	for _, l := range h.Links() {
		if _, ok := l.tasks.Lookup(taskID); ok {
			continue
		}
		if err := l.tasks.Register(taskID, declaredSize, handler); err != nil {
			return fmt.Errorf("host: broadcast register task %d to link %q: %w", taskID, l.Name, err)
		}
	}
	return nil
}

// CloseAll closes every link's underlying stream. Worker goroutines
// started via Run exit on their next failed read.
func (h *Host) CloseAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for _, l := range h.links {
		if err := l.stream.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("host: close link %q: %w", l.Name, err)
		}
	}
	return firstErr
}
