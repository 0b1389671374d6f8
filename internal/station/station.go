package station

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"groundlink/fclink"
	"groundlink/internal/config"
	"groundlink/internal/recorder"
	"groundlink/internal/settings"
)

var (
	errAlreadyConnected = errors.New("already connected")
	errConnecting       = errors.New("connection in progress")
	errNoHistory        = errors.New("no earlier gains in the history")
)

// Station is the ground station state: the command queue, the
// received data, the stick state and the persisted settings, which
// outlive connections, plus the current link if any.
type Station struct {
	cfg *config.Config

	Queue     *fclink.CommandQueue
	Telemetry *fclink.TelemetryLog
	Controls  *fclink.Controls
	Settings  *settings.Store

	scheduler *fclink.Scheduler
	store     *recorder.SqliteStore

	mu         sync.Mutex
	link       *fclink.Link
	port       string
	connecting bool
	rec        *recorder.Recorder
}

// New returns a disconnected Station
func New(cfg *config.Config, st *settings.Store) *Station {
	s := &Station{
		cfg:       cfg,
		Queue:     fclink.NewCommandQueue(),
		Telemetry: fclink.NewTelemetryLog(cfg.Buffers.Telemetry, cfg.Buffers.Logs),
		Controls:  &fclink.Controls{},
		Settings:  st,
	}
	s.scheduler = &fclink.Scheduler{
		Queue:     s.Queue,
		Link:      s,
		Controls:  s.Controls,
		Settings:  st,
		Telemetry: s.Telemetry,
		Address:   cfg.Link.RemoteAddress,
		Period:    cfg.Link.HeartbeatInterval,
	}
	if cfg.Recorder.Enabled {
		s.store = recorder.NewSqliteStore(cfg.Recorder.Path)
	}
	return s
}

// Config returns the configuration the Station was created with
func (s *Station) Config() *config.Config {
	return s.cfg
}

// Connect opens port and configures the radio. Failures are
// also reported in the log buffer.
func (s *Station) Connect(port string) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return errConnecting
	}
	if s.link != nil && s.link.IsConnected() {
		s.mu.Unlock()
		return errAlreadyConnected
	}
	s.connecting = true
	s.mu.Unlock()

	link, err := fclink.Connect(port, s.cfg.RadioConfig(), s.Telemetry, s.cfg.LinkOptions()...)
	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		log.Errorf("error connecting to %s: %v", port, err)
		s.Telemetry.Logf("Serial Error: %v", err)
		return err
	}

	var rec *recorder.Recorder
	if s.store != nil {
		rec, err = recorder.Start(context.Background(), s.store, port, s.cfg.Radio)
		if err != nil {
			log.Warnf("not recording: %v", err)
		} else {
			s.Telemetry.SetRecorder(rec)
		}
	}

	s.mu.Lock()
	s.link = link
	s.port = port
	s.rec = rec
	s.connecting = false
	s.mu.Unlock()
	s.Telemetry.Logf("Connected to %s", port)
	return nil
}

// Disconnect stops the current link, if any, and waits for its
// worker to exit
func (s *Station) Disconnect() {
	s.mu.Lock()
	link, rec, port := s.link, s.rec, s.port
	s.link, s.rec, s.port = nil, nil, ""
	s.mu.Unlock()
	if link == nil {
		return
	}
	link.Disconnect()
	if rec != nil {
		s.Telemetry.SetRecorder(nil)
		rec.Close()
	}
	s.Telemetry.Logf("Disconnected from %s", port)
}

// IsConnected implements fclink.Sender
func (s *Station) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil && s.link.IsConnected()
}

// Connecting returns true while a Connect call is in progress
func (s *Station) Connecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connecting
}

// Send implements fclink.Sender. It's also used to transmit
// free form payloads.
func (s *Station) Send(address uint16, data string) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return fclink.ErrClosed
	}
	return link.Send(address, data)
}

// Port returns the connected port, empty when disconnected
func (s *Station) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Stats returns the counters of the current link
func (s *Station) Stats() (fclink.LinkStats, bool) {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return fclink.LinkStats{}, false
	}
	return link.Stats(), true
}

// Enqueue queues cmd for the flight controller
func (s *Station) Enqueue(cmd fclink.Command) {
	s.Queue.Enqueue(s.cfg.Link.RemoteAddress, cmd)
}

// PushConfig queues the persisted configuration
func (s *Station) PushConfig() {
	s.Enqueue(s.Settings.ConfigCommand())
}

// TunePID stores new gains for axis, records them in the PID
// history and queues them
func (s *Station) TunePID(axis fclink.Axis, gains fclink.PIDGains) {
	s.Settings.SetPID(axis, gains)
	s.Settings.AddHistory(fmt.Sprintf("%s P=%g I=%g D=%g", axis, gains.P, gains.I, gains.D))
	s.saveSettings()
	s.Enqueue(s.Settings.TuneCommand(axis))
}

// SaveHistory records the current gains with a note
func (s *Station) SaveHistory(note string) {
	s.Settings.AddHistory(note)
	s.saveSettings()
}

// UndoTuning drops the latest PID history entry, goes back to the
// gains of the one before it and pushes the resulting configuration
func (s *Station) UndoTuning() (settings.HistoryEntry, error) {
	entry, ok := s.Settings.Undo()
	if !ok {
		return settings.HistoryEntry{}, errNoHistory
	}
	s.saveSettings()
	s.PushConfig()
	return entry, nil
}

// SetMotorThrottle stores the manual throttle for the given motors
// (0-3) and queues the four of them
func (s *Station) SetMotorThrottle(v float32, motors ...int) error {
	for _, idx := range motors {
		if err := s.Settings.SetMotorThrottle(idx, v); err != nil {
			return err
		}
	}
	s.saveSettings()
	s.Enqueue(s.Settings.MotorThrottleCommand())
	return nil
}

// SendSticks queues the current sticks as explicit SetThrottle and
// SetAttitude commands
func (s *Station) SendSticks() {
	hb := s.Controls.Snapshot()
	s.Enqueue(fclink.SetThrottle{Throttle: hb.Throttle})
	s.Enqueue(fclink.SetAttitude{Roll: hb.Roll, Pitch: hb.Pitch, Yaw: hb.Yaw})
}

func (s *Station) saveSettings() {
	if err := s.Settings.Save(); err != nil {
		log.Warnf("error saving settings to %s: %v", s.Settings.Path(), err)
	}
}

// Tick runs a single heartbeat step
func (s *Station) Tick() (string, bool) {
	return s.scheduler.Tick()
}

// Run sends heartbeats until ctx is done, then disconnects and
// closes the recorder database
func (s *Station) Run(ctx context.Context) {
	s.scheduler.Run(ctx)
	s.Close()
}

// Close disconnects and releases the recorder database
func (s *Station) Close() {
	s.Disconnect()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warnf("error closing recorder: %v", err)
		}
	}
}
