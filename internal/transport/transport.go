// Package transport drives one Scheduler over one physical link: a serial
// port reader feeding bytes in, a ticker driving the reply-timer state
// machine, and the Tx callback writing frames out.
//
// This plays the role the teacher's serial_port.go / xmit_thread pair
// played for Dire Wolf (open the port, read one byte at a time, run a
// dedicated goroutine per channel) — generalized from one fixed radio
// protocol to any Scheduler.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/term"

	"github.com/mculink/hostbench/internal/diagnostics"
	"github.com/mculink/hostbench/internal/scheduler"
)

// serialPortPrefixes are the /dev entry name prefixes ListSerialPorts treats
// as candidate serial devices on Linux.
var serialPortPrefixes = []string{"ttyUSB", "ttyACM", "ttyS", "ttyAMA"}

// ListSerialPorts enumerates candidate serial devices under /dev, the Go
// counterpart of the host-side supervisor's enumerate_serial_ports. It
// scans with os.ReadDir the way the teacher's kissutil.go/ptt.go walk
// /dev and /sys/class/gpio, rather than subscribing to hotplug events;
// this call is a one-shot listing, not the device-hotplug notification
// concern go-udev exists for.
func ListSerialPorts() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate serial ports: %w", err)
	}

	var ports []string
	for _, e := range entries {
		name := e.Name()
		for _, prefix := range serialPortPrefixes {
			if strings.HasPrefix(name, prefix) {
				ports = append(ports, "/dev/"+name)
				break
			}
		}
	}
	return ports, nil
}

// SerialStream wraps a serial port opened via github.com/pkg/term, matching
// the teacher's serial_port_open/serial_port_write/serial_port_get1/
// serial_port_close quartet behind io.ReadWriteCloser.
type SerialStream struct {
	fd *term.Term
}

// OpenSerial opens devicename at baud (0 leaves the current speed alone),
// mirroring serial_port_open's accepted baud rates.
func OpenSerial(devicename string, baud int) (*SerialStream, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", devicename, err)
	}

	switch baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(baud); err != nil {
			fd.Close()
			return nil, fmt.Errorf("transport: set speed %d on %s: %w", baud, devicename, err)
		}
	default:
		return nil, fmt.Errorf("transport: unsupported baud rate %d", baud)
	}

	return &SerialStream{fd: fd}, nil
}

func (s *SerialStream) Read(p []byte) (int, error)  { return s.fd.Read(p) }
func (s *SerialStream) Write(p []byte) (int, error) { return s.fd.Write(p) }
func (s *SerialStream) Close() error                { return s.fd.Close() }

// Worker drives a single Scheduler over a single io.ReadWriteCloser: an
// inbound goroutine feeding bytes and an outbound ticker pacing SendOnce.
//
// Construction is two-phase because the Scheduler needs a Tx callback
// before it exists, and Worker.Tx is that callback: build the Worker
// first, wire scheduler.Config.Tx to worker.Tx, construct the Scheduler,
// then Attach it before calling Run.
type Worker struct {
	linkID string
	stream io.ReadWriteCloser
	sched  *scheduler.Scheduler
	diag   diagnostics.Sink
	tick   time.Duration
}

// NewWorker builds a Worker bound to stream. tick is the SendOnce polling
// interval; the teacher's comparable loops poll at whatever cadence keeps
// the reply window responsive without busy-spinning — 20ms comfortably
// undercuts scheduler.ShortTimer (350ms).
func NewWorker(linkID string, stream io.ReadWriteCloser, diag diagnostics.Sink) *Worker {
	return &Worker{
		linkID: linkID,
		stream: stream,
		diag:   diag,
		tick:   20 * time.Millisecond,
	}
}

// Attach binds the Scheduler this worker pumps bytes into and SendOnce
// ticks through. Must be called before Run.
func (w *Worker) Attach(sched *scheduler.Scheduler) {
	w.sched = sched
}

// Tx is the scheduler.Tx implementation backing this worker's stream.
func (w *Worker) Tx(frame []byte) error {
	n, err := w.stream.Write(frame)
	if err != nil {
		return fmt.Errorf("transport: write link %s: %w", w.linkID, err)
	}
	if n != len(frame) {
		return fmt.Errorf("transport: short write on link %s: wrote %d of %d bytes", w.linkID, n, len(frame))
	}
	return nil
}

// Run blocks, pumping inbound bytes and outbound timer ticks until ctx is
// canceled or the stream errors out. The caller is expected to run this in
// its own goroutine, one per link (§5: one worker per link, cooperative
// within).
func (w *Worker) Run(ctx context.Context) error {
	if w.sched == nil {
		return fmt.Errorf("transport: worker %s: Run called before Attach", w.linkID)
	}

	rxErr := make(chan error, 1)
	go w.readLoop(ctx, rxErr)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-rxErr:
			return err
		case now := <-ticker.C:
			if err := w.sched.SendOnce(now); err != nil {
				return fmt.Errorf("transport: send_once link %s: %w", w.linkID, err)
			}
		}
	}
}

func (w *Worker) readLoop(ctx context.Context, done chan<- error) {
	buf := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		n, err := w.stream.Read(buf)
		if err != nil {
			done <- fmt.Errorf("transport: read link %s: %w", w.linkID, err)
			return
		}
		if n == 0 {
			continue
		}
		w.sched.FeedByte(buf[0], time.Now())
	}
}
