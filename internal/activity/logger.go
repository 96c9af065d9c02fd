// Package activity writes the append-only log of install, upgrade and
// uninstall actions.
package activity

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/spices/internal/metrics"
)

// Entry is one logged action.
type Entry struct {
	Time       time.Time
	Type       string
	Action     string
	UUID       string
	OldVersion string
	NewVersion string
}

// String renders the entry as a single log line.
func (e Entry) String() string {
	old := e.OldVersion
	if old == "" {
		old = "none"
	}
	return fmt.Sprintf("%s %s %s %s %s %s",
		e.Time.Format("2006-01-02 15:04:05"), e.Type, e.Action, e.UUID, old, e.NewVersion)
}

// Logger appends lines to one file from a single background goroutine.
// Log never blocks on I/O; lines are written in the order Log was called.
// The file is opened and closed for every line so it can be rotated
// externally.
type Logger struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	enqueued uint64
	written  uint64
	closed   bool
	done     chan struct{}
}

// New starts a logger writing to path.
func New(path string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{path: path, logger: logger, done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Path returns the log file path.
func (l *Logger) Path() string { return l.path }

// Log queues line for writing.
func (l *Logger) Log(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("activity: log after close dropped", slog.String("line", line))
		return
	}
	l.queue = append(l.queue, line)
	l.enqueued++
	l.cond.Broadcast()
}

// Record queues e.
func (l *Logger) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	l.Log(e.String())
}

// Flush blocks until every line queued before the call has been handled.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	target := l.enqueued
	for l.written < target {
		l.cond.Wait()
	}
}

// Close writes what is still queued and stops the worker.
func (l *Logger) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, line := range batch {
			if err := l.write(line); err != nil {
				metrics.ActivityLogDropped.Inc()
				l.logger.Error("activity: write failed",
					slog.String("path", l.path), slog.String("error", err.Error()))
			}
		}

		l.mu.Lock()
		l.written += uint64(len(batch))
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

func (l *Logger) write(line string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return err
		}
		f, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Tail returns up to n of the most recent lines in the file.
func (l *Logger) Tail(n int) ([]string, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, sc.Err()
}
