package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mculink/hostbench/internal/crc16"
	"github.com/mculink/hostbench/internal/hostconfig"
	"github.com/mculink/hostbench/internal/scheduler"
	"github.com/mculink/hostbench/internal/tasktable"
)

type discardSink struct{}

func (discardSink) Warn(string, ...any)          {}
func (discardSink) Error(string, ...any)         {}
func (discardSink) Print(string, string, string) {}

// newTestLink builds a Link with a no-op Tx, bypassing OpenLink's real
// serial port open so broadcast/registry behavior can be tested without
// hardware. tasks defaults to a fresh table if nil.
func newTestLink(t *testing.T, name string, tasks *tasktable.Table) *Link {
	t.Helper()
	if tasks == nil {
		tasks = tasktable.New()
	}
	var sent [][]byte
	sched := scheduler.New(scheduler.Config{
		LinkID:      name,
		Capacity:    8,
		Crc:         crc16.Zero,
		Tasks:       tasks,
		Tx:          func(frame []byte) error { sent = append(sent, frame); return nil },
		Diagnostics: discardSink{},
	})
	return &Link{Name: name, Scheduler: sched, tasks: tasks}
}

func TestOpenLinkRejectsDuplicateName(t *testing.T) {
	h := New(discardSink{})
	h.links["A"] = newTestLink(t, "A", nil)

	_, err := h.OpenLink(hostconfig.LinkConfig{Name: "A", Device: "/dev/null"}, tasktable.New())
	assert.Error(t, err)
}

func TestBroadcastScheduleFansOutToEveryLink(t *testing.T) {
	h := New(discardSink{})
	h.links["A"] = newTestLink(t, "A", nil)
	h.links["B"] = newTestLink(t, "B", nil)

	require.NoError(t, h.BroadcastSchedule(10, []byte{1}, false, false))

	for _, name := range []string{"A", "B"} {
		l, ok := h.Link(name)
		require.True(t, ok)
		_, normal, _ := l.Scheduler.Counts()
		assert.Equal(t, 1, normal)
	}
}

func TestLinksReturnsSnapshot(t *testing.T) {
	h := New(discardSink{})
	h.links["A"] = newTestLink(t, "A", nil)

	links := h.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "A", links[0].Name)
}

func TestBroadcastRegisterSkipsAlreadyRegisteredLinks(t *testing.T) {
	h := New(discardSink{})
	shared := tasktable.New()
	h.links["A"] = newTestLink(t, "A", shared)
	h.links["B"] = newTestLink(t, "B", shared)

	handler := func(tasktable.Context, []byte) uint8 { return 0 }
	require.NoError(t, h.BroadcastRegister(42, 1, handler))

	_, ok := shared.Lookup(42)
	assert.True(t, ok)

	// Re-registering (e.g. because link B's table already carries it from
	// the first call) must not error.
	require.NoError(t, h.BroadcastRegister(42, 1, handler))
}

func TestWaitMcuSetupCompleteBlocksUntilEveryLinkReports(t *testing.T) {
	h := New(discardSink{})
	h.links["A"] = newTestLink(t, "A", nil)
	h.links["B"] = newTestLink(t, "B", nil)
	h.setupComplete["A"] = false
	h.setupComplete["B"] = false

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.WaitMcuSetupComplete(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("WaitMcuSetupComplete returned early with %v before either link reported", err)
	case <-time.After(20 * time.Millisecond):
	}

	h.handleSetupComplete(tasktable.Context{LinkID: "A"}, nil)

	select {
	case err := <-done:
		t.Fatalf("WaitMcuSetupComplete returned early with %v before link B reported", err)
	case <-time.After(20 * time.Millisecond):
	}

	h.handleSetupComplete(tasktable.Context{LinkID: "B"}, nil)

	require.NoError(t, <-done)
}

func TestWaitMcuSetupCompleteRespectsContextCancellation(t *testing.T) {
	h := New(discardSink{})
	h.links["A"] = newTestLink(t, "A", nil)
	h.setupComplete["A"] = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.WaitMcuSetupComplete(ctx), context.Canceled)
}
