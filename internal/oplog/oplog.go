// Package oplog is the shared operational log: timestamped lines written to
// stdout and kept in a bounded ring so the dashboard can serve a log tail.
package oplog

import (
	"fmt"
	"sync"
	"time"
)

const defaultCap = 500

// Logger fans formatted lines out to stdout and an in-memory ring buffer.
type Logger struct {
	mu      sync.Mutex
	entries []string
	start   int
	count   int
}

// New creates a logger with the default ring capacity.
func New() *Logger {
	return &Logger{entries: make([]string, defaultCap)}
}

// Logf writes one formatted line.
func (l *Logger) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	fmt.Println(line)

	l.mu.Lock()
	defer l.mu.Unlock()
	idx := (l.start + l.count) % len(l.entries)
	l.entries[idx] = line
	if l.count < len(l.entries) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.entries)
	}
}

// Tail returns the most recent n lines, oldest first.
func (l *Logger) Tail(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.count {
		n = l.count
	}
	out := make([]string, 0, n)
	for i := l.count - n; i < l.count; i++ {
		out = append(out, l.entries[(l.start+i)%len(l.entries)])
	}
	return out
}

var std = New()

// Logf writes to the process-wide logger.
func Logf(format string, args ...interface{}) {
	std.Logf(format, args...)
}

// Tail returns the most recent n lines from the process-wide logger.
func Tail(n int) []string {
	return std.Tail(n)
}
