package fclink

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu        sync.Mutex
	telemetry []uint32
	logs      []string
}

func (r *fakeRecorder) RecordTelemetry(rec *TelemetryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, rec.TimestampMs)
}

func (r *fakeRecorder) RecordLog(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, entry.Message)
}

func timestamps(records []TelemetryRecord) []uint32 {
	var ts []uint32
	for _, r := range records {
		ts = append(ts, r.TimestampMs)
	}
	return ts
}

func TestTelemetryLogDropsOldest(t *testing.T) {
	l := NewTelemetryLog(3, 2)
	for ii := 1; ii <= 5; ii++ {
		l.Push(&TelemetryRecord{TimestampMs: uint32(ii)})
	}
	assert.Equal(t, []uint32{3, 4, 5}, timestamps(l.Telemetry()))

	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, uint32(5), latest.TimestampMs)
	assert.False(t, latest.Received.IsZero())

	l.AddLog("a")
	l.AddLog("b")
	l.Logf("%s", "c")
	logs := l.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].Message)
	assert.Equal(t, "c", logs[1].Message)
}

func TestTelemetryLogDefaults(t *testing.T) {
	l := NewTelemetryLog(0, 0)
	for ii := 0; ii < DefaultMaxTelemetry+10; ii++ {
		l.Push(&TelemetryRecord{TimestampMs: uint32(ii)})
	}
	for ii := 0; ii < DefaultMaxLogs+10; ii++ {
		l.AddLog("x")
	}
	assert.Len(t, l.Telemetry(), DefaultMaxTelemetry)
	assert.Len(t, l.Logs(), DefaultMaxLogs)
	assert.Equal(t, uint32(10), l.Telemetry()[0].TimestampMs)
}

func TestTelemetryLogSnapshotIsCopy(t *testing.T) {
	l := NewTelemetryLog(4, 4)
	l.Push(&TelemetryRecord{TimestampMs: 1})
	snap := l.Telemetry()
	snap[0].TimestampMs = 99
	assert.Equal(t, uint32(1), l.Telemetry()[0].TimestampMs)
}

func TestTelemetryLogClear(t *testing.T) {
	l := NewTelemetryLog(4, 4)
	l.Push(&TelemetryRecord{TimestampMs: 1})
	l.AddLog("x")
	l.ClearTelemetry()
	assert.Empty(t, l.Telemetry())
	_, ok := l.Latest()
	assert.False(t, ok)
	assert.Len(t, l.Logs(), 1)
	l.ClearLogs()
	assert.Empty(t, l.Logs())
}

func TestTelemetryLogConfigRequest(t *testing.T) {
	l := NewTelemetryLog(4, 4)
	assert.False(t, l.TakeConfigRequest())
	l.RequestConfig()
	assert.True(t, l.TakeConfigRequest())
	assert.False(t, l.TakeConfigRequest())

	l.Push(&TelemetryRecord{Flags: TelemetryFlags{ConfigRequest: true}})
	assert.True(t, l.TakeConfigRequest())
}

func TestTelemetryLogRecorder(t *testing.T) {
	l := NewTelemetryLog(4, 4)
	r := &fakeRecorder{}
	l.SetRecorder(r)
	l.Push(&TelemetryRecord{TimestampMs: 7})
	l.AddLog("hello")
	assert.Equal(t, []uint32{7}, r.telemetry)
	assert.Equal(t, []string{"hello"}, r.logs)

	l.SetRecorder(nil)
	l.AddLog("ignored")
	assert.Equal(t, []string{"hello"}, r.logs)
}
