// Package printer implements the scheduler's registered-message formatter.
//
// It is not a general logger: a host process registers, per (task type,
// task id), a named "task printer" with an ordered list of variable slots.
// Each task printer maps a message number to a format string and a
// silenced flag. The internal PRINT_MESSAGE task carries
// (task id, task type, msg num) and triggers rendering; MODIFY_TASK_VAL
// carries (task id, task type, var id, type code, packed value) and stores
// a value for later substitution.
package printer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mculink/hostbench/internal/diagnostics"
	"github.com/mculink/hostbench/internal/unpack"
)

// TaskType mirrors packet.TaskType without importing packet, keeping this
// package usable independent of the wire layer.
type TaskType uint8

const (
	Internal TaskType = 0
	External TaskType = 1
)

var (
	ErrAlreadyRegistered = errors.New("printer: task already registered")
	ErrNotRegistered     = errors.New("printer: task not registered")
	ErrInvalidName       = errors.New("printer: variable names must not contain spaces")
)

type key struct {
	taskType TaskType
	taskID   uint8
}

type message struct {
	format  string
	silent  bool
}

// taskPrinter holds the messages and variable values for one registered
// task.
type taskPrinter struct {
	name     string
	varNames []string
	vars     map[string]any
	msgs     map[uint8]*message
	silent   bool
}

// Printer is a link's registered-message formatter. A Printer is
// constructed per scheduler (each link negotiates its own endianness for
// MODIFY_TASK_VAL payloads).
type Printer struct {
	mu           sync.Mutex
	littleEndian bool
	printers     map[key]*taskPrinter
	sink         diagnostics.Sink
	linkID       string
}

// New constructs a Printer bound to linkID (used to prefix rendered
// messages, mirroring the teacher's "[devname] message" convention) and
// wires the internal reserved task printers (ALERT_SYSTEM, PRINT_MESSAGE,
// UNSCHEDULE_TASK, MODIFY_TASK_VAL, PKT_DECODE, PKT_ENCODE, TASK_LOOKUP,
// TASK_REGISTER).
func New(linkID string, littleEndian bool, sink diagnostics.Sink) *Printer {
	p := &Printer{
		littleEndian: littleEndian,
		printers:     make(map[key]*taskPrinter),
		sink:         sink,
		linkID:       linkID,
	}
	p.setupInternalTaskPrinters()
	return p
}

func (p *Printer) setupInternalTaskPrinters() {
	must := func(err error) {
		if err != nil {
			panic(err) // programmer error: internal ids collide with themselves
		}
	}

	must(p.registerTaskLocked(Internal, 0, "ALERT SYSTEM"))
	must(p.registerTaskLocked(Internal, 1, "PRINT MESSAGE"))
	must(p.registerTaskLocked(Internal, 2, "UNSCHEDULE TASK"))
	must(p.registerTaskLocked(Internal, 3, "MODIFY TASK VAL"))
	must(p.registerTaskLocked(Internal, 4, "PKT DECODE", "expected_size", "received_size", "task_number"))
	must(p.registerTaskLocked(Internal, 5, "PKT ENCODE"))
	must(p.registerTaskLocked(Internal, 6, "TASK LOOKUP"))
	must(p.registerTaskLocked(Internal, 7, "TASK REGISTER"))

	must(p.registerMessageLocked(Internal, 4, 0, "short encoded header: {received_size} byte(s)", false))
	must(p.registerMessageLocked(Internal, 4, 1, "crc16 checksum fail", false))
	must(p.registerMessageLocked(Internal, 4, 2, "task {task_number} was not registered", false))
	must(p.registerMessageLocked(Internal, 4, 3,
		"expected {expected_size} byte(s) but received {received_size} byte(s) for task {task_number}", false))
	must(p.registerMessageLocked(Internal, 4, 4, "frame invalid (COBS decode failure)", false))
}

// RegisterTask declares a named task printer for (taskType, taskID) with an
// ordered list of substitution variable names. Variable names may not
// contain spaces (they are used verbatim as "{name}" placeholders).
func (p *Printer) RegisterTask(taskType TaskType, taskID uint8, name string, vars ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerTaskLocked(taskType, taskID, name, vars...)
}

func (p *Printer) registerTaskLocked(taskType TaskType, taskID uint8, name string, vars ...string) error {
	k := key{taskType, taskID}
	if _, exists := p.printers[k]; exists {
		return fmt.Errorf("%w: task %d", ErrAlreadyRegistered, taskID)
	}
	for _, v := range vars {
		if strings.ContainsAny(v, " \t\n") {
			return ErrInvalidName
		}
	}
	p.printers[k] = &taskPrinter{
		name:     strings.TrimSpace(name),
		varNames: vars,
		vars:     make(map[string]any, len(vars)),
		msgs:     make(map[uint8]*message),
	}
	return nil
}

// RegisterMessage registers format as message number msgNum for
// (taskType, taskID). format may reference "{varname}" placeholders for
// any variable declared via RegisterTask.
func (p *Printer) RegisterMessage(taskType TaskType, taskID uint8, msgNum uint8, format string, silent bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registerMessageLocked(taskType, taskID, msgNum, format, silent)
}

func (p *Printer) registerMessageLocked(taskType TaskType, taskID uint8, msgNum uint8, format string, silent bool) error {
	tp, ok := p.printers[key{taskType, taskID}]
	if !ok {
		return fmt.Errorf("%w: task %d", ErrNotRegistered, taskID)
	}
	if _, exists := tp.msgs[msgNum]; exists {
		return fmt.Errorf("printer: message %d already registered for task %d", msgNum, taskID)
	}
	tp.msgs[msgNum] = &message{format: format, silent: silent}
	return nil
}

// SetTaskSilent silences (or un-silences) every message of a task printer.
func (p *Printer) SetTaskSilent(taskType TaskType, taskID uint8, silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok := p.printers[key{taskType, taskID}]; ok {
		tp.silent = silent
	}
}

// SetMessageSilent silences (or un-silences) a single message number.
func (p *Printer) SetMessageSilent(taskType TaskType, taskID, msgNum uint8, silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok := p.printers[key{taskType, taskID}]; ok {
		if m, ok := tp.msgs[msgNum]; ok {
			m.silent = silent
		}
	}
}

// PrintMessage renders and emits message msgNum of (taskType, taskID)'s
// task printer, substituting its current variable values. This is what the
// scheduler calls when it dispatches an inbound PRINT_MESSAGE.
func (p *Printer) PrintMessage(taskType TaskType, taskID uint8, msgNum uint8) {
	p.mu.Lock()
	tp, ok := p.printers[key{taskType, taskID}]
	if !ok {
		p.mu.Unlock()
		p.sink.Warn("printer: unregistered task", "task_type", taskType, "task_id", taskID)
		return
	}
	m, ok := tp.msgs[msgNum]
	if !ok {
		p.mu.Unlock()
		p.sink.Warn("printer: unregistered message", "task_id", taskID, "msg_num", msgNum)
		return
	}
	if tp.silent || m.silent {
		p.mu.Unlock()
		return
	}
	rendered := render(m.format, tp.vars)
	name := tp.name
	p.mu.Unlock()

	p.sink.Print(p.linkID, name, rendered)
}

func render(format string, vars map[string]any) string {
	out := format
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", fmt.Sprint(value))
	}
	return out
}

// ModifyVar unpacks raw using typeCode and this printer's negotiated
// endianness, then stores the result under varID for (taskType, taskID)'s
// task printer, to be substituted on the next PrintMessage.
func (p *Printer) ModifyVar(taskType TaskType, taskID, varID uint8, typeCode byte, raw []byte) error {
	value, err := unpack.Value(typeCode, p.littleEndian, raw)
	if err != nil {
		p.sink.Warn("printer: bad modify-task-val payload",
			"task_id", taskID, "var_id", varID, "type_code", string(typeCode), "err", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tp, ok := p.printers[key{taskType, taskID}]
	if !ok {
		return fmt.Errorf("%w: task %d", ErrNotRegistered, taskID)
	}
	if int(varID) >= len(tp.varNames) {
		return fmt.Errorf("printer: var id %d out of range for task %d (%d vars)",
			varID, taskID, len(tp.varNames))
	}
	tp.vars[tp.varNames[varID]] = value
	return nil
}

// Diagnostic renders a decode-time failure through the PKT_DECODE task
// printer (internal task id 4), giving parse failures (§7) the same
// "registered message" shape as any other internal telemetry instead of an
// ad hoc log line. msgNum indexes the messages registered in
// setupInternalTaskPrinters.
func (p *Printer) Diagnostic(msgNum uint8, expectedSize, receivedSize int, taskNumber uint8) {
	p.mu.Lock()
	tp := p.printers[key{Internal, 4}]
	tp.vars["expected_size"] = strconv.Itoa(expectedSize)
	tp.vars["received_size"] = strconv.Itoa(receivedSize)
	tp.vars["task_number"] = strconv.Itoa(int(taskNumber))
	p.mu.Unlock()

	p.PrintMessage(Internal, 4, msgNum)
}
