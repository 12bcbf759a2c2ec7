// Package queue implements the scheduler's three fixed-capacity outgoing
// pools: free, normal, and priority.
//
// free holds reusable outgoing-entry slots. normal holds entries awaiting
// transmission (and, after their first transmit, an ACK). priority holds
// entries to be transmitted exactly once with no ACK. Pool membership is
// exclusive and the sum of all three pool sizes is always the configured
// capacity.
package queue

// Entry is an outgoing task slot. Entries are allocated once at
// construction time and recycled between pools; nothing in the scheduler
// ever allocates a new Entry after Start-up.
type Entry struct {
	ID          uint8
	Frame       []byte // assembled, encoded bytes ready for tx
	Rescheduled bool
}

// Lane identifies which pool a head entry was read from.
type Lane int

const (
	LaneNone Lane = iota
	LaneNormal
	LanePriority
)

// Queues holds the free/normal/priority pools for one scheduler.
type Queues struct {
	free     []*Entry
	normal   []*Entry
	priority []*Entry
}

// New allocates capacity reusable entries, all starting in the free pool.
func New(capacity int) *Queues {
	q := &Queues{
		free: make([]*Entry, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		q.free = append(q.free, &Entry{})
	}
	return q
}

// Acquire pops an entry off the free pool, or returns nil if none remain.
func (q *Queues) Acquire() *Entry {
	if len(q.free) == 0 {
		return nil
	}
	n := len(q.free) - 1
	e := q.free[n]
	q.free = q.free[:n]
	return e
}

// release returns an entry to the free pool, clearing its lane-specific
// state so a later Acquire never observes a stale Rescheduled flag.
func (q *Queues) release(e *Entry) {
	e.Rescheduled = false
	e.Frame = nil
	q.free = append(q.free, e)
}

// PushNormal appends (or, if fast, prepends) e to the normal pool.
func (q *Queues) PushNormal(e *Entry, fast bool) {
	q.normal = push(q.normal, e, fast)
}

// PushPriority appends (or, if fast, prepends) e to the priority pool.
func (q *Queues) PushPriority(e *Entry, fast bool) {
	q.priority = push(q.priority, e, fast)
}

func push(pool []*Entry, e *Entry, fast bool) []*Entry {
	if fast {
		pool = append(pool, nil)
		copy(pool[1:], pool)
		pool[0] = e
		return pool
	}
	return append(pool, e)
}

// Peek returns the head entry to process this step: priority is drained
// strictly before normal. lane reports which pool the entry came from;
// lane is LaneNone if both pools are empty.
func (q *Queues) Peek() (e *Entry, lane Lane) {
	if len(q.priority) != 0 {
		return q.priority[0], LanePriority
	}
	if len(q.normal) != 0 {
		return q.normal[0], LaneNormal
	}
	return nil, LaneNone
}

// PopCurrent removes the head of lane and returns its entry to the free
// pool.
func (q *Queues) PopCurrent(lane Lane) {
	switch lane {
	case LaneNormal:
		if len(q.normal) == 0 {
			return
		}
		e := q.normal[0]
		q.normal = q.normal[1:]
		q.release(e)
	case LanePriority:
		if len(q.priority) == 0 {
			return
		}
		e := q.priority[0]
		q.priority = q.priority[1:]
		q.release(e)
	}
}

// RotateNormal moves the head of normal to its tail, for retransmit.
func (q *Queues) RotateNormal() {
	if len(q.normal) == 0 {
		return
	}
	e := q.normal[0]
	q.normal = append(q.normal[1:], e)
}

// PromoteNormalToPriority moves the head of normal to the tail of priority.
// This is asymmetric by design: nothing moves the other way. See the design
// notes' open question on the overflow path.
func (q *Queues) PromoteNormalToPriority() {
	if len(q.normal) == 0 {
		return
	}
	e := q.normal[0]
	q.normal = q.normal[1:]
	q.priority = append(q.priority, e)
}

// Contains reports whether taskID already has a live entry in normal or
// priority, for the scheduler's dedup guard.
func (q *Queues) Contains(taskID uint8) bool {
	for _, e := range q.normal {
		if e.ID == taskID {
			return true
		}
	}
	for _, e := range q.priority {
		if e.ID == taskID {
			return true
		}
	}
	return false
}

// Full reports whether the free pool is exhausted.
func (q *Queues) Full() bool {
	return len(q.free) == 0
}

// Unschedule removes taskID from normal or priority if present, returning
// its entry to the free pool. Reports whether an entry was removed.
func (q *Queues) Unschedule(taskID uint8) bool {
	for i, e := range q.normal {
		if e.ID == taskID {
			q.normal = append(q.normal[:i], q.normal[i+1:]...)
			q.release(e)
			return true
		}
	}
	for i, e := range q.priority {
		if e.ID == taskID {
			q.priority = append(q.priority[:i], q.priority[i+1:]...)
			q.release(e)
			return true
		}
	}
	return false
}

// Counts returns the live size of each pool, for invariant checks.
func (q *Queues) Counts() (free, normal, priority int) {
	return len(q.free), len(q.normal), len(q.priority)
}

// NormalHead returns the current head of normal, or nil if empty.
func (q *Queues) NormalHead() *Entry {
	if len(q.normal) == 0 {
		return nil
	}
	return q.normal[0]
}
