package ui

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"
)

// SyncWriter writes to a file and fsyncs it on a ticker when dirty, so a
// crashed build still leaves a readable log behind.
type SyncWriter struct {
	mu    sync.Mutex
	f     *os.File
	dirty bool

	stop chan struct{}
	done chan struct{}
}

func NewSyncWriter(f *os.File, interval time.Duration) *SyncWriter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	sw := &SyncWriter{
		f:    f,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go sw.loop(interval)
	return sw
}

func (sw *SyncWriter) loop(interval time.Duration) {
	defer close(sw.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.Sync()
		case <-sw.stop:
			sw.Sync()
			return
		}
	}
}

func (sw *SyncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	n, err := sw.f.Write(p)
	if n > 0 {
		sw.dirty = true
	}
	return n, err
}

func (sw *SyncWriter) Sync() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.dirty {
		return nil
	}
	sw.dirty = false
	return sw.f.Sync()
}

func (sw *SyncWriter) Close() error {
	close(sw.stop)
	<-sw.done
	return sw.f.Close()
}

var _ io.WriteCloser = (*SyncWriter)(nil)

// TimestampWriter prefixes every line it receives with the wall clock.
type TimestampWriter struct {
	w   io.Writer
	now func() time.Time
}

func NewTimestampWriter(w io.Writer) *TimestampWriter {
	return &TimestampWriter{w: w, now: time.Now}
}

func (tw *TimestampWriter) Write(p []byte) (int, error) {
	prefix := []byte("[" + tw.now().Format(timeLayout) + "] ")
	var out bytes.Buffer
	for _, line := range bytes.SplitAfter(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		out.Write(prefix)
		out.Write(line)
	}
	if _, err := tw.w.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (tw *TimestampWriter) Sync() error {
	if s, ok := tw.w.(syncer); ok {
		return s.Sync()
	}
	return nil
}

func (tw *TimestampWriter) Close() error {
	if c, ok := tw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
