package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mculink/hostbench/internal/queue"
)

func TestAcquireDrainsFreePool(t *testing.T) {
	q := queue.New(3)
	free, normal, priority := q.Counts()
	assert.Equal(t, 3, free)
	assert.Equal(t, 0, normal)
	assert.Equal(t, 0, priority)

	e1 := q.Acquire()
	e2 := q.Acquire()
	e3 := q.Acquire()
	require.NotNil(t, e1)
	require.NotNil(t, e2)
	require.NotNil(t, e3)
	assert.Nil(t, q.Acquire())
}

func TestPeekPrefersPriorityOverNormal(t *testing.T) {
	q := queue.New(4)

	n := q.Acquire()
	n.ID = 5
	q.PushNormal(n, false)

	p := q.Acquire()
	p.ID = 9
	q.PushPriority(p, false)

	e, lane := q.Peek()
	assert.Equal(t, queue.LanePriority, lane)
	assert.Equal(t, uint8(9), e.ID)
}

func TestPopCurrentReturnsEntryToFreePool(t *testing.T) {
	q := queue.New(2)

	e := q.Acquire()
	e.ID = 1
	e.Frame = []byte{1, 2, 3}
	q.PushNormal(e, false)

	q.PopCurrent(queue.LaneNormal)

	free, normal, _ := q.Counts()
	assert.Equal(t, 2, free)
	assert.Equal(t, 0, normal)

	reused := q.Acquire()
	assert.False(t, reused.Rescheduled)
	assert.Nil(t, reused.Frame)
}

func TestRotateNormalMovesHeadToTail(t *testing.T) {
	q := queue.New(3)

	a := q.Acquire()
	a.ID = 1
	q.PushNormal(a, false)
	b := q.Acquire()
	b.ID = 2
	q.PushNormal(b, false)

	q.RotateNormal()

	assert.Equal(t, uint8(2), q.NormalHead().ID)
}

func TestPromoteNormalToPriorityIsOneDirectional(t *testing.T) {
	q := queue.New(2)

	a := q.Acquire()
	a.ID = 1
	q.PushNormal(a, false)

	q.PromoteNormalToPriority()

	_, normal, priority := q.Counts()
	assert.Equal(t, 0, normal)
	assert.Equal(t, 1, priority)

	e, lane := q.Peek()
	assert.Equal(t, queue.LanePriority, lane)
	assert.Equal(t, uint8(1), e.ID)
}

func TestContainsChecksBothLiveLanes(t *testing.T) {
	q := queue.New(3)

	a := q.Acquire()
	a.ID = 7
	q.PushNormal(a, false)

	assert.True(t, q.Contains(7))
	assert.False(t, q.Contains(8))

	b := q.Acquire()
	b.ID = 8
	q.PushPriority(b, false)
	assert.True(t, q.Contains(8))
}

func TestUnscheduleRemovesFromEitherLane(t *testing.T) {
	q := queue.New(3)

	a := q.Acquire()
	a.ID = 3
	q.PushNormal(a, false)
	b := q.Acquire()
	b.ID = 4
	q.PushPriority(b, false)

	assert.True(t, q.Unschedule(3))
	assert.False(t, q.Contains(3))
	assert.True(t, q.Unschedule(4))
	assert.False(t, q.Contains(4))
	assert.False(t, q.Unschedule(99))

	free, _, _ := q.Counts()
	assert.Equal(t, 3, free)
}

func TestFastPushPrepends(t *testing.T) {
	q := queue.New(3)

	a := q.Acquire()
	a.ID = 1
	q.PushNormal(a, false)
	b := q.Acquire()
	b.ID = 2
	q.PushNormal(b, true) // fast: jumps to the front

	assert.Equal(t, uint8(2), q.NormalHead().ID)
}

// TestPoolSumInvariant exercises random acquire/push/pop/unschedule
// sequences and checks free+normal+priority stays equal to capacity after
// every operation, the core queue invariant spec.md pins down.
func TestPoolSumInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")
		q := queue.New(capacity)
		live := map[uint8]bool{}

		steps := rapid.IntRange(0, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 3).Draw(rt, "op")
			switch op {
			case 0: // try to schedule a new task
				id := uint8(rapid.IntRange(0, 20).Draw(rt, "id"))
				if live[id] {
					continue
				}
				e := q.Acquire()
				if e == nil {
					continue
				}
				e.ID = id
				if rapid.Bool().Draw(rt, "priority") {
					q.PushPriority(e, rapid.Bool().Draw(rt, "fast"))
				} else {
					q.PushNormal(e, rapid.Bool().Draw(rt, "fast"))
				}
				live[id] = true
			case 1: // pop whatever Peek reports
				_, lane := q.Peek()
				if lane == queue.LaneNone {
					continue
				}
				e, _ := q.Peek()
				delete(live, e.ID)
				q.PopCurrent(lane)
			case 2: // rotate normal
				q.RotateNormal()
			case 3: // unschedule a random id
				id := uint8(rapid.IntRange(0, 20).Draw(rt, "unschedule_id"))
				if q.Unschedule(id) {
					delete(live, id)
				}
			}

			free, normal, priority := q.Counts()
			if free+normal+priority != capacity {
				rt.Fatalf("pool sum invariant broken: free=%d normal=%d priority=%d capacity=%d",
					free, normal, priority, capacity)
			}
		}
	})
}
