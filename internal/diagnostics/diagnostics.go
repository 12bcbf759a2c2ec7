// Package diagnostics is the structured logging sink fed by parse failures
// (§7) and printer output. It plays the role the teacher's log.go/
// textcolor.go pair played for Dire Wolf: one place that turns scheduler
// events into operator-visible lines, split between a colorized console
// stream and a daily rotating file.
package diagnostics

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// Sink is the narrow logging capability the scheduler and printer depend
// on. Defining it here (rather than requiring *Logger directly) lets tests
// substitute a fake without touching charmbracelet/log.
type Sink interface {
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	Print(linkID, taskName, rendered string)
}

// Logger is the default Sink: charmbracelet/log to stderr, optionally
// duplicated into a daily log file named via a strftime pattern.
type Logger struct {
	console *charmlog.Logger

	mu      sync.Mutex
	dir     string
	pattern string
	file    *os.File
	fileLog *charmlog.Logger
}

// Options configures a Logger.
type Options struct {
	// Writer backs the console stream; defaults to os.Stderr.
	Writer io.Writer
	// Dir, if non-empty, enables a daily rotating file sink under Dir
	// named by Pattern (an strftime pattern, default "mculink-%Y%m%d.log").
	Dir     string
	Pattern string
}

// New builds a Logger from opts.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "mculink-%Y%m%d.log"
	}
	return &Logger{
		console: charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Prefix:          "hostbench",
		}),
		dir:     opts.Dir,
		pattern: pattern,
	}
}

func (l *Logger) Warn(msg string, keyvals ...any) {
	l.console.Warn(msg, keyvals...)
	l.logToFile(charmlog.WarnLevel, msg, keyvals...)
}

func (l *Logger) Error(msg string, keyvals ...any) {
	l.console.Error(msg, keyvals...)
	l.logToFile(charmlog.ErrorLevel, msg, keyvals...)
}

// Print emits a rendered printer message at info level, with linkID and
// taskName attached as the "link" and "task" fields.
func (l *Logger) Print(linkID, taskName, rendered string) {
	l.console.Info(rendered, "link", linkID, "task", taskName)
	l.logToFile(charmlog.InfoLevel, rendered, "link", linkID, "task", taskName)
}

func (l *Logger) logToFile(level charmlog.Level, msg string, keyvals ...any) {
	if l.dir == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	name, err := strftime.Format(l.pattern, time.Now())
	if err != nil {
		return
	}
	path := filepath.Join(l.dir, name)

	if l.file == nil || l.file.Name() != path {
		if l.file != nil {
			l.file.Close()
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			l.file = nil
			l.fileLog = nil
			return
		}
		l.file = f
		l.fileLog = charmlog.NewWithOptions(f, charmlog.Options{ReportTimestamp: true})
	}

	l.fileLog.Log(level, msg, keyvals...)
}

// Close releases the open log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
