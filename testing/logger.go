package testing

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/arloliu/docqueue/types"
)

// LogEntry is one recorded log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// Logger writes to t.Logf and records every entry.
//
// Lines that carry a batch_id field are prefixed with it, so the interleaved output
// of concurrent jobs can be told apart:
//
//	WARN [b1]: failed to ack job error=timeout
type Logger struct {
	t testing.TB

	mu      sync.Mutex
	entries []LogEntry
}

// NewTestLogger creates a logger writing to the test log.
func NewTestLogger(t testing.TB) *Logger {
	return &Logger{t: t}
}

var _ types.Logger = (*Logger)(nil)

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.log("DEBUG", msg, keysAndValues)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.log("INFO", msg, keysAndValues)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.log("WARN", msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.log("ERROR", msg, keysAndValues)
}

func (l *Logger) Fatal(msg string, keysAndValues ...any) {
	l.log("FATAL", msg, keysAndValues)
	l.t.FailNow()
}

// Entries returns a copy of the recorded entries.
func (l *Logger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]LogEntry(nil), l.entries...)
}

// Messages returns the messages logged at level, in order.
func (l *Logger) Messages(level string) []string {
	var out []string
	for _, e := range l.Entries() {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}

	return out
}

func (l *Logger) log(level, msg string, keysAndValues []any) {
	fields := make(map[string]any, len(keysAndValues)/2)
	var sb strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		var val any = "!MISSING"
		if i+1 < len(keysAndValues) {
			val = keysAndValues[i+1]
		}
		fields[key] = val
		if key == "batch_id" {
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", key, val)
	}

	l.mu.Lock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Fields: fields})
	l.mu.Unlock()

	prefix := level
	if id, ok := fields["batch_id"]; ok {
		prefix = fmt.Sprintf("%s [%v]", level, id)
	}
	l.t.Logf("%s: %s%s", prefix, msg, sb.String())
}
