package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const timeLayout = "2006-01-02T15:04:05.000"

type syncer interface {
	Sync() error
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelDebugVerbose
)

type Options struct {
	// Out receives user-facing lines, usually os.Stdout.
	Out io.Writer

	// FullLogWriter receives every line in plain text, including silent ones
	// and tail output. Lines logged before it is set are buffered.
	FullLogWriter io.Writer

	// TailLines is the height of the live tail box. Defaults to 10.
	TailLines int

	// EnableTail draws the live tail box. Off means tail lines are printed
	// as they come, which is what a non-TTY output wants.
	EnableTail bool

	LogLevel LogLevel
}

// Logger prints leveled lines and manages at most one live tail box.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	full  io.Writer
	style styles

	level   LogLevel
	pending []string

	tail       *tailState
	tailLines  int
	enableTail bool
}

type styles struct {
	plain     lipgloss.Style
	warn      lipgloss.Style
	err       lipgloss.Style
	ok        lipgloss.Style
	banner    lipgloss.Style
	tailBox   lipgloss.Style
	tailTitle lipgloss.Style
}

func defaultStyles() styles {
	boxed := lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	return styles{
		plain:     lipgloss.NewStyle(),
		warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		err:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		ok:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		banner:    boxed.Bold(true).Margin(1, 0),
		tailBox:   boxed.Foreground(lipgloss.Color("245")),
		tailTitle: lipgloss.NewStyle().Bold(true),
	}
}

func New(opts Options) *Logger {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 10
	}
	return &Logger{
		out:        opts.Out,
		full:       opts.FullLogWriter,
		style:      defaultStyles(),
		level:      opts.LogLevel,
		tailLines:  opts.TailLines,
		enableTail: opts.EnableTail,
	}
}

// SetFullLogWriter attaches the full log once and flushes what was buffered.
func (l *Logger) SetFullLogWriter(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full != nil {
		return fmt.Errorf("full log writer is already set")
	}
	l.full = w
	for _, line := range l.pending {
		io.WriteString(w, line)
	}
	l.pending = nil
	return nil
}

// SetFullLogPath opens path for appending and uses it as the full log.
func (l *Logger) SetFullLogPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := l.SetFullLogWriter(NewTimestampWriter(NewSyncWriter(f, 0))); err != nil {
		f.Close()
		return err
	}
	return nil
}

// writeFullLogLocked assumes l.mu is held.
func (l *Logger) writeFullLogLocked(line string) {
	if l.full == nil {
		l.pending = append(l.pending, line)
		return
	}
	io.WriteString(l.full, line)
}

// Close finalizes the live tail and closes the full log.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.finalizeTailLocked()
	if c, ok := l.full.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Logger) SetLogLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) Error(format string, args ...any) {
	l.printLog(LogLevelError, "ERR ", l.style.err, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.printLog(LogLevelWarn, "WARN", l.style.warn, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.printLog(LogLevelInfo, "INFO", l.style.plain, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.printLog(LogLevelDebug, "DEBG", l.style.plain, format, args...)
}

// InfoSilent writes to the full log only.
func (l *Logger) InfoSilent(format string, args ...any) {
	l.printLog(LogLevelDebugVerbose+1, "INFO", l.style.plain, format, args...)
}

// Success prints an unconditional, highlighted line. Used for final results.
func (l *Logger) Success(format string, args ...any) {
	l.printLog(LogLevelError, " OK ", l.style.ok, format, args...)
}

func (l *Logger) withCaller(msg string) string {
	if l.level < LogLevelDebugVerbose {
		return msg
	}
	pc, file, line, ok := runtime.Caller(4)
	if !ok {
		return msg
	}
	fnName := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		fnName = strings.TrimPrefix(fn.Name(), "github.com/0xa1bed0/appimg/")
	}
	return fmt.Sprintf("[%s:%d %s] %s", filepath.Base(file), line, fnName, msg)
}

func (l *Logger) printLog(level LogLevel, tag string, style lipgloss.Style, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := l.withCaller(fmt.Sprintf(format, args...))
	l.writeFullLogLocked(fmt.Sprintf("[%s] %s\n", tag, msg))

	if level > l.level {
		return
	}

	l.aroundTailLocked(func() {
		line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format(timeLayout), tag, msg)
		fmt.Fprintln(l.out, style.Render(line))
	})
}

// Banner prints a boxed section title.
func (l *Logger) Banner(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writeFullLogLocked(fmt.Sprintf("\n===== %s =====\n\n", title))
	if s, ok := l.full.(syncer); ok {
		s.Sync()
	}
	l.aroundTailLocked(func() {
		fmt.Fprintln(l.out, l.style.banner.Render(title))
	})
}

func (l *Logger) Spacer() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aroundTailLocked(func() { fmt.Fprintln(l.out) })
}

// aroundTailLocked lifts the live tail box off the screen while print runs
// and redraws it afterwards.
func (l *Logger) aroundTailLocked(print func()) {
	live := l.enableTail && l.tail != nil && !l.tail.closed
	if live && l.tail.lastBoxHeight > 0 {
		l.clearTailBoxLocked()
	}
	print()
	if live && len(l.tail.buf) > 0 {
		l.drawTailBoxLocked()
	}
}
