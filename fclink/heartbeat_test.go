package fclink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentPayload struct {
	Address uint16
	Data    string
}

type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sent      []sentPayload
}

func (s *fakeSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) Send(address uint16, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentPayload{Address: address, Data: data})
	return nil
}

func (s *fakeSender) payloads() []sentPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentPayload(nil), s.sent...)
}

type fixedSettings Config

func (s fixedSettings) ConfigCommand() Config { return Config(s) }

func newTestScheduler() (*Scheduler, *fakeSender) {
	sender := &fakeSender{connected: true}
	s := &Scheduler{
		Queue:     NewCommandQueue(),
		Link:      sender,
		Controls:  &Controls{},
		Settings:  fixedSettings{Motors: [4]float32{0.1, 0.1, 0.1, 0.1}, Roll: PIDGains{P: 1}},
		Telemetry: NewTelemetryLog(0, 0),
		Address:   2,
		Period:    5 * time.Millisecond,
	}
	return s, sender
}

func TestTickDisconnected(t *testing.T) {
	s, sender := newTestScheduler()
	sender.connected = false
	s.Queue.Enqueue(2, Start{})
	_, sent := s.Tick()
	assert.False(t, sent)
	assert.Empty(t, sender.payloads())
	assert.Equal(t, 1, s.Queue.Len())
}

func TestTickHeartbeat(t *testing.T) {
	s, sender := newTestScheduler()
	s.Controls.SetThrottle(0.5)
	s.Controls.SetAttitude(0.1, 0.2, 0.3)
	line, sent := s.Tick()
	require.True(t, sent)
	expected := Heartbeat{Throttle: 0.5, Roll: 0.1, Pitch: 0.2, Yaw: 0.3}.Encode()
	assert.Equal(t, expected, line)
	assert.Equal(t, []sentPayload{{Address: 2, Data: expected}}, sender.payloads())
}

func TestTickSendsQueuedFirst(t *testing.T) {
	s, sender := newTestScheduler()
	s.Queue.Enqueue(5, Start{})
	s.Tick()
	s.Tick()
	payloads := sender.payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, sentPayload{Address: 5, Data: "FC:START"}, payloads[0])
	assert.Equal(t, Heartbeat{}.Encode(), payloads[1].Data)
}

func TestTickEmergencyStop(t *testing.T) {
	s, sender := newTestScheduler()
	s.Queue.Enqueue(2, Start{})
	s.Queue.Enqueue(7, EmergencyStop{})
	s.Queue.Enqueue(2, SetThrottle{Throttle: 1})
	for ii := 0; ii < 3; ii++ {
		s.Tick()
	}
	for _, p := range sender.payloads() {
		assert.Equal(t, sentPayload{Address: 7, Data: "ES"}, p)
	}
	assert.Len(t, sender.payloads(), 3)

	s.Queue.Enqueue(7, Reset{})
	line, _ := s.Tick()
	assert.Equal(t, "FC:RESET", line)
	line, _ = s.Tick()
	assert.Equal(t, Heartbeat{}.Encode(), line)
}

func TestTickConfigRequest(t *testing.T) {
	s, sender := newTestScheduler()
	s.Telemetry.RequestConfig()
	line, sent := s.Tick()
	require.True(t, sent)
	assert.Equal(t, s.Settings.ConfigCommand().Encode(), line)
	assert.Equal(t, uint16(2), sender.payloads()[0].Address)
	assert.False(t, s.Telemetry.TakeConfigRequest())
}

func TestSchedulerRun(t *testing.T) {
	s, sender := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool {
		return len(sender.payloads()) >= 3
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestControls(t *testing.T) {
	var c Controls
	c.SetThrottle(2)
	assert.Equal(t, float32(1), c.Snapshot().Throttle)
	assert.Equal(t, float32(0), c.AdjustThrottle(-5))
	c.AdjustAttitude(0.5, -0.5, 0.25)
	assert.Equal(t, Heartbeat{Roll: 0.5, Pitch: -0.5, Yaw: 0.25}, c.Snapshot())
	c.Center()
	assert.Equal(t, Heartbeat{}, c.Snapshot())
}
