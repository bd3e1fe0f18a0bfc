package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moby/term"
)

type tailState struct {
	name          string
	buf           []string
	lastBoxHeight int
	closed        bool
}

// Tail is a scrolling box showing the last lines of a long running step.
type Tail interface {
	io.Writer
	Println(msg string)
	Printf(format string, args ...any)
	Close()
}

type tailHandle struct {
	ui      *Logger
	partial []byte
}

// NewTail opens a tail box named name. A tail that is still open gets
// finalized into a static box first.
func (l *Logger) NewTail(name string) Tail {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.finalizeTailLocked()
	l.tail = &tailState{name: name, buf: make([]string, 0, l.tailLines)}
	l.writeFullLogLocked(fmt.Sprintf("[TAIL %s] start\n", name))

	return &tailHandle{ui: l}
}

func (t *tailHandle) Write(p []byte) (int, error) {
	t.ui.mu.Lock()
	defer t.ui.mu.Unlock()

	t.partial = append(t.partial, p...)
	for {
		text, rest, found := strings.Cut(string(t.partial), "\n")
		if !found {
			break
		}
		t.partial = []byte(rest)
		t.printLocked(strings.TrimSuffix(text, "\r"))
	}
	return len(p), nil
}

func (t *tailHandle) Printf(format string, args ...any) {
	t.Println(fmt.Sprintf(format, args...))
}

func (t *tailHandle) Println(msg string) {
	t.ui.mu.Lock()
	defer t.ui.mu.Unlock()
	t.printLocked(msg)
}

func (t *tailHandle) Close() {
	t.ui.mu.Lock()
	defer t.ui.mu.Unlock()

	if len(t.partial) > 0 {
		t.printLocked(string(t.partial))
		t.partial = nil
	}
	t.ui.finalizeTailLocked()
}

func terminalWidth() int {
	if ws, err := term.GetWinsize(os.Stdout.Fd()); err == nil && ws.Width > 0 {
		return int(ws.Width)
	}
	return 120
}

// fitLine pads or truncates msg so the box keeps a stable width.
func fitLine(msg string, width int) string {
	const marker = "..."
	if width <= len(marker) {
		return msg
	}
	if len(msg) > width {
		return msg[:width-len(marker)] + marker
	}
	return msg + strings.Repeat(" ", width-len(msg))
}

// printLocked assumes ui.mu is held.
func (t *tailHandle) printLocked(msg string) {
	l := t.ui
	if l.tail == nil || l.tail.closed {
		l.writeFullLogLocked("[TAIL] " + msg + "\n")
		fmt.Fprintln(l.out, msg)
		return
	}

	l.writeFullLogLocked(fmt.Sprintf("[TAIL %s] %s\n", l.tail.name, msg))
	if !l.enableTail {
		fmt.Fprintln(l.out, msg)
		return
	}

	l.tail.buf = append(l.tail.buf, fitLine(msg, terminalWidth()-8))
	if len(l.tail.buf) > l.tailLines {
		l.tail.buf = l.tail.buf[len(l.tail.buf)-l.tailLines:]
	}
	l.clearTailBoxLocked()
	l.drawTailBoxLocked()
}

// TailWriter returns a writer whose lines land in a new tail box. Closing
// the writer closes the box.
func (l *Logger) TailWriter(name string) io.WriteCloser {
	tail := l.NewTail(name)
	pr, pw := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			tail.Println(scanner.Text())
		}
		pr.CloseWithError(scanner.Err())
		tail.Close()
	}()

	return pw
}

func (l *Logger) renderTailBox() string {
	title := l.style.tailTitle.Render(l.tail.name)
	return l.style.tailBox.Render(title + "\n" + strings.Join(l.tail.buf, "\n"))
}

// clearTailBoxLocked erases the last drawn box with ANSI cursor moves.
func (l *Logger) clearTailBoxLocked() {
	if l.tail == nil || l.tail.lastBoxHeight <= 0 {
		return
	}
	h := l.tail.lastBoxHeight
	fmt.Fprintf(l.out, "\x1b[%dF", h)
	for range h {
		fmt.Fprint(l.out, "\x1b[2K\r\n")
	}
	fmt.Fprintf(l.out, "\x1b[%dF", h)
	l.tail.lastBoxHeight = 0
}

func (l *Logger) drawTailBoxLocked() {
	if l.tail == nil || len(l.tail.buf) == 0 {
		return
	}
	box := l.renderTailBox()
	fmt.Fprintln(l.out, box)
	l.tail.lastBoxHeight = strings.Count(box, "\n") + 1
}

// finalizeTailLocked replaces the live box with a static copy and closes
// the tail. No-op without an open tail.
func (l *Logger) finalizeTailLocked() {
	if l.tail == nil || l.tail.closed {
		return
	}
	if l.enableTail {
		l.clearTailBoxLocked()
		if len(l.tail.buf) > 0 {
			fmt.Fprintln(l.out, l.renderTailBox())
		}
	}
	l.writeFullLogLocked(fmt.Sprintf("[TAIL %s] end\n", l.tail.name))
	l.tail.closed = true
	l.tail = nil
}
