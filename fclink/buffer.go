package fclink

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxTelemetry is the number of telemetry records kept
	DefaultMaxTelemetry = 500
	// DefaultMaxLogs is the number of log entries kept
	DefaultMaxLogs = 100
)

// LogEntry is a device log line or a locally generated diagnostic
type LogEntry struct {
	Time    time.Time
	Message string
}

// Recorder observes everything pushed into a TelemetryLog. It's
// called without holding the TelemetryLog lock.
type Recorder interface {
	RecordTelemetry(rec *TelemetryRecord)
	RecordLog(entry LogEntry)
}

// ring is a bounded FIFO which evicts the oldest element when full
type ring[T any] struct {
	items []T
	start int
	count int
}

func newRing[T any](capacity int) ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count < len(r.items) {
		r.items[(r.start+r.count)%len(r.items)] = v
		r.count++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, r.count)
	for ii := 0; ii < r.count; ii++ {
		out[ii] = r.items[(r.start+ii)%len(r.items)]
	}
	return out
}

func (r *ring[T]) last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[(r.start+r.count-1)%len(r.items)], true
}

func (r *ring[T]) clear() {
	var zero T
	for ii := range r.items {
		r.items[ii] = zero
	}
	r.start = 0
	r.count = 0
}

// TelemetryLog is the buffer shared by the link worker, which writes
// into it, and the user interface, which reads from it. It keeps the
// latest telemetry records and log entries, dropping the oldest ones,
// plus the flag raised when the remote asks for its configuration.
//
// TelemetryLog is safe for concurrent use.
type TelemetryLog struct {
	mu              sync.Mutex
	telemetry       ring[TelemetryRecord]
	logs            ring[LogEntry]
	configRequested bool
	recorder        Recorder
}

// NewTelemetryLog returns a TelemetryLog keeping up to maxTelemetry
// records and maxLogs entries. Non positive values select the
// defaults.
func NewTelemetryLog(maxTelemetry int, maxLogs int) *TelemetryLog {
	if maxTelemetry <= 0 {
		maxTelemetry = DefaultMaxTelemetry
	}
	if maxLogs <= 0 {
		maxLogs = DefaultMaxLogs
	}
	return &TelemetryLog{
		telemetry: newRing[TelemetryRecord](maxTelemetry),
		logs:      newRing[LogEntry](maxLogs),
	}
}

// SetRecorder installs r as the observer for new entries. Pass
// nil to remove it.
func (l *TelemetryLog) SetRecorder(r Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

// Push appends a telemetry record. A record with its ConfigRequest
// flag set also raises the config request flag.
func (l *TelemetryLog) Push(rec *TelemetryRecord) {
	if rec.Received.IsZero() {
		rec.Received = time.Now()
	}
	l.mu.Lock()
	l.telemetry.push(*rec)
	if rec.Flags.ConfigRequest {
		l.configRequested = true
	}
	r := l.recorder
	l.mu.Unlock()
	if r != nil {
		r.RecordTelemetry(rec)
	}
}

// AddLog appends a log entry timestamped now
func (l *TelemetryLog) AddLog(message string) {
	l.PushLog(LogEntry{Time: time.Now(), Message: message})
}

// Logf is a convenience wrapper around AddLog
func (l *TelemetryLog) Logf(format string, args ...interface{}) {
	l.AddLog(fmt.Sprintf(format, args...))
}

// PushLog appends entry
func (l *TelemetryLog) PushLog(entry LogEntry) {
	l.mu.Lock()
	l.logs.push(entry)
	r := l.recorder
	l.mu.Unlock()
	if r != nil {
		r.RecordLog(entry)
	}
}

// Telemetry returns a copy of the buffered records, oldest first
func (l *TelemetryLog) Telemetry() []TelemetryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.telemetry.snapshot()
}

// Logs returns a copy of the buffered log entries, oldest first
func (l *TelemetryLog) Logs() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logs.snapshot()
}

// Latest returns the most recent telemetry record
func (l *TelemetryLog) Latest() (TelemetryRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.telemetry.last()
}

// ClearTelemetry drops every buffered telemetry record
func (l *TelemetryLog) ClearTelemetry() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.telemetry.clear()
}

// ClearLogs drops every buffered log entry
func (l *TelemetryLog) ClearLogs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs.clear()
}

// RequestConfig raises the config request flag
func (l *TelemetryLog) RequestConfig() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configRequested = true
}

// TakeConfigRequest returns whether the config request flag was
// raised and clears it
func (l *TelemetryLog) TakeConfigRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	requested := l.configRequested
	l.configRequested = false
	return requested
}
