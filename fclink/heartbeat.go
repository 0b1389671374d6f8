package fclink

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultHeartbeatPeriod is the interval between transmissions. The
// controller disarms when it stops hearing from the ground station.
const DefaultHeartbeatPeriod = 400 * time.Millisecond

// Sender transmits payloads over the radio. *Link implements it.
type Sender interface {
	IsConnected() bool
	Send(address uint16, data string) error
}

// SettingsSource provides the configuration pushed to the controller
// when it asks for it
type SettingsSource interface {
	ConfigCommand() Config
}

// Controls holds the live stick state carried by heartbeats.
// Controls is safe for concurrent use.
type Controls struct {
	mu       sync.Mutex
	throttle float32
	roll     float32
	pitch    float32
	yaw      float32
}

func clampThrottle(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetThrottle sets the throttle, clamped to 0..1
func (c *Controls) SetThrottle(v float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttle = clampThrottle(v)
}

// AdjustThrottle adds delta to the throttle and returns the new value
func (c *Controls) AdjustThrottle(delta float32) float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttle = clampThrottle(c.throttle + delta)
	return c.throttle
}

// SetAttitude sets the attitude setpoint, in radians
func (c *Controls) SetAttitude(roll, pitch, yaw float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll, c.pitch, c.yaw = roll, pitch, yaw
}

// AdjustAttitude adds the given deltas to the attitude setpoint
func (c *Controls) AdjustAttitude(roll, pitch, yaw float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll += roll
	c.pitch += pitch
	c.yaw += yaw
}

// Center zeroes the sticks
func (c *Controls) Center() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttle, c.roll, c.pitch, c.yaw = 0, 0, 0, 0
}

// Snapshot returns the current state as a Heartbeat
func (c *Controls) Snapshot() Heartbeat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Heartbeat{
		Throttle: c.throttle,
		Roll:     c.roll,
		Pitch:    c.pitch,
		Yaw:      c.yaw,
	}
}

// Scheduler sends exactly one payload per tick while the link is up:
// the emergency stop token while it's latched, otherwise the oldest
// queued command, otherwise a heartbeat with the current controls.
type Scheduler struct {
	Queue     *CommandQueue
	Link      Sender
	Controls  *Controls
	Settings  SettingsSource
	Telemetry *TelemetryLog
	// Address is the destination for heartbeats and config pushes
	Address uint16
	Period  time.Duration
}

// Tick performs a single scheduling step. It returns the payload
// that was transmitted, if any.
func (s *Scheduler) Tick() (line string, sent bool) {
	if s.Link == nil || !s.Link.IsConnected() {
		return "", false
	}
	if s.Telemetry != nil && s.Telemetry.TakeConfigRequest() && s.Settings != nil {
		log.Debugf("remote requested config")
		s.Queue.Enqueue(s.Address, s.Settings.ConfigCommand())
	}
	var address uint16
	if estopAddress, active := s.Queue.EmergencyStop(); active {
		address, line = estopAddress, EmergencyStop{}.Encode()
	} else if queuedAddress, queued, ok := s.Queue.Dequeue(); ok {
		address, line = queuedAddress, queued
	} else {
		address, line = s.Address, s.Controls.Snapshot().Encode()
	}
	if err := s.Link.Send(address, line); err != nil {
		log.Warnf("error sending %q to %d: %v", line, address, err)
		return line, false
	}
	return line, true
}

// Run calls Tick every Period until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	period := s.Period
	if period <= 0 {
		period = DefaultHeartbeatPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
