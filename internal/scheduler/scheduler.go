// Package scheduler implements the per-link Scheduler: packet framing glue,
// the outgoing task queue discipline with reply-timer retransmission, the
// inbound dispatch pipeline, and the reserved internal tasks
// (ALERT_SYSTEM, PRINT_MESSAGE, UNSCHEDULE_TASK, MODIFY_TASK_VAL).
//
// A Scheduler owns no I/O: it is driven by a transport worker that calls
// SendOnce and FeedByte in a loop and supplies the Tx callback (§4.7, §9
// "cyclic collaborator references" - the scheduler is handed to handlers
// through tasktable.Context as a narrow SchedulerHandle, never the other
// way around).
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mculink/hostbench/internal/cobs"
	"github.com/mculink/hostbench/internal/crc16"
	"github.com/mculink/hostbench/internal/diagnostics"
	"github.com/mculink/hostbench/internal/packet"
	"github.com/mculink/hostbench/internal/printer"
	"github.com/mculink/hostbench/internal/queue"
	"github.com/mculink/hostbench/internal/tasktable"
)

// Reserved internal task ids (§6).
const (
	AlertSystem    uint8 = 0
	PrintMessage   uint8 = 1
	UnscheduleTask uint8 = 2
	ModifyTaskVal  uint8 = 3
	PktDecode      uint8 = 4
	PktEncode      uint8 = 5
	TaskLookup     uint8 = 6
	TaskRegister   uint8 = 7
)

// Reply window timers (§4.4).
const (
	ShortTimer = 350 * time.Millisecond
	LongTimer  = 500 * time.Millisecond
)

const noPrevSent = -1

// Error taxonomy (§7) for outcomes the caller must observe synchronously;
// parse-time failures (FRAME_INVALID, SHORT_HEADER, CRC_FAIL, UNKNOWN_TASK,
// SIZE_MISMATCH) never reach here; they are logged via Printer.Diagnostic
// and discarded per §4.5.
var (
	ErrQueueFull   = errors.New("scheduler: no free queue slot after promotion/send")
	ErrStreamClosed = errors.New("scheduler: tx stream closed")
)

// Tx writes an assembled, encoded frame to the link. It must not block
// indefinitely; a write failure is surfaced as ErrStreamClosed and the
// current send attempt is abandoned (§7).
type Tx func(frame []byte) error

// Config configures a Scheduler.
type Config struct {
	LinkID       string
	Capacity     int
	LittleEndian bool
	Crc          crc16.Func // nil defaults to crc16.Zero
	Tasks        *tasktable.Table
	Tx           Tx
	Diagnostics  diagnostics.Sink
}

// Scheduler is the per-link protocol engine described in §4.
type Scheduler struct {
	linkID string
	crc    crc16.Func
	tasks  *tasktable.Table
	tx     Tx
	diag   diagnostics.Sink
	pr     *printer.Printer

	// mu guards every field below: queues, rx buffer, and the normal-lane
	// reply-window state. §5 requires outgoing schedule calls from threads
	// other than the owning worker to serialize via a per-scheduler
	// send-side mutex; feed_byte is only ever called from the owning
	// worker, but sharing one lock keeps ACK bookkeeping (which touches
	// both queues and rx-derived data) trivially race-free.
	mu         sync.Mutex
	queues     *queue.Queues
	rxBuf      []byte
	prevSentID int
	startTime  time.Time
}

// New constructs a Scheduler. cfg.Tx and cfg.Tasks must be non-nil.
func New(cfg Config) *Scheduler {
	crc := cfg.Crc
	if crc == nil {
		crc = crc16.Zero
	}
	s := &Scheduler{
		linkID:     cfg.LinkID,
		crc:        crc,
		tasks:      cfg.Tasks,
		tx:         cfg.Tx,
		diag:       cfg.Diagnostics,
		queues:     queue.New(cfg.Capacity),
		prevSentID: noPrevSent,
	}
	s.pr = printer.New(cfg.LinkID, cfg.LittleEndian, cfg.Diagnostics)
	return s
}

// Printer returns the scheduler's registered-message formatter, so callers
// can register task printers and messages (§4.6) before traffic starts.
func (s *Scheduler) Printer() *printer.Printer { return s.pr }

// Counts reports the live size of each pool, for invariant checks
// (free + normal + priority == capacity always).
func (s *Scheduler) Counts() (free, normal, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues.Counts()
}

// Schedule enqueues an external task for the peer, implementing
// tasktable.SchedulerHandle so handlers can reply or chain work, and
// serving as the host-facing schedule API (§4.4).
func (s *Scheduler) Schedule(taskID uint8, payload []byte, priority, fast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(taskID, packet.External, payload, priority, fast, time.Now())
}

// Unschedule removes a pending outgoing task by id, if still queued
// (UNSCHEDULE_TASK, §4.5).
func (s *Scheduler) Unschedule(taskID uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues.Unschedule(taskID)
}

func (s *Scheduler) scheduleLocked(taskID uint8, taskType packet.TaskType, payload []byte, priority, fast bool, now time.Time) error {
	if len(payload) > packet.MaxPayload {
		return fmt.Errorf("%w: %d bytes", packet.ErrAssemblyTooLarge, len(payload))
	}

	// §4.4 step 1: idempotent coalescing.
	if s.queues.Contains(taskID) {
		return nil
	}

	// §4.4 step 2: overflow spill. Only a normal head is promoted; a
	// priority head is left alone and simply drained by send_once (§9
	// open question: this asymmetry is intentional, not a bug).
	if s.queues.Full() {
		_, lane := s.queues.Peek()
		if lane == queue.LaneNormal {
			s.queues.PromoteNormalToPriority()
		}
		if err := s.sendOnceLocked(now); err != nil {
			return err
		}
	}

	entry := s.queues.Acquire()
	if entry == nil {
		return ErrQueueFull
	}

	frame, err := packet.Assemble(taskID, taskType, payload, s.crc)
	if err != nil {
		// Size was pre-validated above; Assemble cannot fail here, but if
		// it ever does, hand the slot back instead of leaking it.
		entry.ID = taskID
		s.queues.PushNormal(entry, false)
		s.queues.Unschedule(taskID)
		return err
	}
	entry.ID = taskID
	entry.Frame = frame
	entry.Rescheduled = false

	if priority {
		s.queues.PushPriority(entry, fast)
	} else {
		s.queues.PushNormal(entry, fast)
	}

	if fast {
		return s.sendOnceLocked(now)
	}
	return nil
}

// SendOnce drives one step of the send side (§4.4): transmit a priority
// head once, or progress a normal head through its reply window.
func (s *Scheduler) SendOnce(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendOnceLocked(now)
}

func (s *Scheduler) sendOnceLocked(now time.Time) error {
	entry, lane := s.queues.Peek()
	if lane == queue.LaneNone {
		return nil
	}

	if lane == queue.LanePriority {
		if err := s.tx(entry.Frame); err != nil {
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
		s.queues.PopCurrent(queue.LanePriority)
		return nil
	}

	// lane == queue.LaneNormal
	if s.prevSentID == noPrevSent || uint8(s.prevSentID) != entry.ID {
		if err := s.tx(entry.Frame); err != nil {
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}
		s.prevSentID = int(entry.ID)
		s.startTime = now
	}

	elapsed := now.Sub(s.startTime)
	if entry.Rescheduled {
		if elapsed >= LongTimer {
			s.queues.PopCurrent(queue.LaneNormal)
			s.prevSentID = noPrevSent
		}
		return nil
	}
	if elapsed >= ShortTimer {
		entry.Rescheduled = true
		s.queues.RotateNormal()
		s.prevSentID = noPrevSent
	}
	return nil
}

// FeedByte ingests one inbound byte (§4.5). A zero byte terminates a frame
// and triggers dispatch; the buffer resets on delimiter or overflow.
func (s *Scheduler) FeedByte(b byte, now time.Time) {
	s.mu.Lock()
	if b == 0 {
		frame := append([]byte(nil), s.rxBuf...)
		s.rxBuf = s.rxBuf[:0]
		s.mu.Unlock()
		s.dispatchInbound(frame, now)
		return
	}
	if len(s.rxBuf) >= packet.MaxEncodedBufSize {
		s.rxBuf = s.rxBuf[:0] // framing resync
	}
	s.rxBuf = append(s.rxBuf, b)
	s.mu.Unlock()
}

func (s *Scheduler) dispatchInbound(frame []byte, now time.Time) {
	pkt, err := packet.Parse(frame, s.crc, s.tasks.Lookup)
	if err != nil {
		s.handleParseError(frame, err)
		return
	}

	if pkt.TaskType == packet.External {
		handler, ok := s.tasks.Handler(pkt.TaskID)
		if !ok {
			// Parse already validated via Lookup; this would mean a race
			// between Lookup and Handler against a concurrently mutated
			// table, which §5 forbids once workers are running.
			return
		}
		retCode := s.invokeHandler(handler, pkt.TaskID, pkt.Payload)

		s.mu.Lock()
		_ = s.scheduleLocked(AlertSystem, packet.Internal, []byte{pkt.TaskID, retCode}, true, true, now)
		s.mu.Unlock()
		return
	}

	s.dispatchInternal(pkt.TaskID, pkt.Payload, now)
}

func (s *Scheduler) invokeHandler(h tasktable.Handler, taskID uint8, payload []byte) (ret uint8) {
	defer func() {
		if r := recover(); r != nil {
			s.diag.Error("scheduler: handler panic", "task_id", taskID, "panic", r)
			ret = 1
		}
	}()
	return h(tasktable.Context{LinkID: s.linkID, Scheduler: s}, payload)
}

func (s *Scheduler) dispatchInternal(taskID uint8, payload []byte, now time.Time) {
	switch taskID {
	case AlertSystem:
		s.handleAlertSystem(payload)
	case PrintMessage:
		if len(payload) < 3 {
			return
		}
		s.pr.PrintMessage(printer.TaskType(payload[1]), payload[0], payload[2])
	case UnscheduleTask:
		if len(payload) < 1 {
			return
		}
		s.mu.Lock()
		s.queues.Unschedule(payload[0])
		s.mu.Unlock()
	case ModifyTaskVal:
		if len(payload) < 4 {
			return
		}
		_ = s.pr.ModifyVar(printer.TaskType(payload[1]), payload[0], payload[2], payload[3], payload[4:])
	default:
		// PKT_DECODE, PKT_ENCODE, TASK_LOOKUP, TASK_REGISTER: diagnostics only.
		s.diag.Warn("scheduler: unhandled internal task", "task_id", taskID, "link", s.linkID)
	}
}

// handleAlertSystem implements the ACK half of the normal-queue state
// machine (§4.5): a matching, zero-status reply pops the head; a matching
// nonzero status rotates it once more if it has not been rescheduled yet,
// and pops it if it has; a mismatched id is an out-of-order ACK and is
// ignored (§5 ordering guarantees).
func (s *Scheduler) handleAlertSystem(payload []byte) {
	if len(payload) < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.queues.NormalHead()
	if head == nil || head.ID != payload[0] {
		return
	}

	if payload[1] != 0 && !head.Rescheduled {
		head.Rescheduled = true
		s.queues.RotateNormal()
	} else {
		s.queues.PopCurrent(queue.LaneNormal)
	}
	s.prevSentID = noPrevSent
}

// handleParseError surfaces a §7 parse failure through the printer's
// PKT_DECODE task channel and discards the frame.
func (s *Scheduler) handleParseError(frame []byte, err error) {
	taskID := bestEffortTaskID(frame)
	switch {
	case errors.Is(err, packet.ErrShortHeader):
		s.pr.Diagnostic(0, packet.EncodedHeaderSize, len(frame), taskID)
	case errors.Is(err, packet.ErrCRCFail):
		s.pr.Diagnostic(1, 0, 0, taskID)
	case errors.Is(err, packet.ErrUnknownTask):
		s.pr.Diagnostic(2, 0, 0, taskID)
	case errors.Is(err, packet.ErrSizeMismatch):
		declared, _ := s.tasks.Lookup(taskID)
		received := 0
		if decoded, derr := cobs.Decode(frame); derr == nil && len(decoded) >= packet.DecodedHeaderSize {
			received = len(decoded) - packet.DecodedHeaderSize
		}
		s.pr.Diagnostic(3, declared, received, taskID)
	default: // ErrFrameInvalid and anything else from cobs.Decode.
		s.pr.Diagnostic(4, 0, len(frame), taskID)
	}
}

// bestEffortTaskID tries to recover a task id for diagnostics even when
// Parse itself failed partway through (e.g. a checksum or lookup failure
// past the header). It never fails the caller: a decode error here just
// means the diagnostic reports task id 0.
func bestEffortTaskID(frame []byte) uint8 {
	body := frame
	if len(body) > 0 && body[len(body)-1] == 0 {
		body = body[:len(body)-1]
	}
	decoded, err := cobs.Decode(body)
	if err != nil || len(decoded) < packet.DecodedHeaderSize {
		return 0
	}
	return decoded[2]
}
