package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"groundlink/fclink"
)

// MaxHistory is the number of PID history entries kept
const MaxHistory = 50

// PID holds the gains of one axis as stored on disk
type PID struct {
	P        float32 `yaml:"p"`
	I        float32 `yaml:"i"`
	D        float32 `yaml:"d"`
	ILimit   float32 `yaml:"iLimit"`
	PIDLimit float32 `yaml:"pidLimit"`
}

func (p PID) gains() fclink.PIDGains {
	return fclink.PIDGains{P: p.P, I: p.I, D: p.D, ILimit: p.ILimit, PIDLimit: p.PIDLimit}
}

func pidFromGains(g fclink.PIDGains) PID {
	return PID{P: g.P, I: g.I, D: g.D, ILimit: g.ILimit, PIDLimit: g.PIDLimit}
}

// DefaultPID returns the gains used until the user tunes an axis
func DefaultPID() PID {
	return PID{P: 1, ILimit: 10, PIDLimit: 100}
}

// HistoryEntry is a snapshot of the three axes taken when the
// user marks a tuning as worth keeping
type HistoryEntry struct {
	Time  time.Time `yaml:"time"`
	Note  string    `yaml:"note"`
	Roll  PID       `yaml:"roll"`
	Pitch PID       `yaml:"pitch"`
	Yaw   PID       `yaml:"yaw"`
}

// Settings is everything persisted between runs
type Settings struct {
	MotorThrottles [4]float32     `yaml:"motorThrottles"`
	Roll           PID            `yaml:"pidRoll"`
	Pitch          PID            `yaml:"pidPitch"`
	Yaw            PID            `yaml:"pidYaw"`
	History        []HistoryEntry `yaml:"history,omitempty"`
}

// Default returns the settings used when there's no file
func Default() Settings {
	return Settings{
		Roll:  DefaultPID(),
		Pitch: DefaultPID(),
		Yaw:   DefaultPID(),
	}
}

func (s *Settings) pid(axis fclink.Axis) *PID {
	switch axis {
	case fclink.AxisPitch:
		return &s.Pitch
	case fclink.AxisYaw:
		return &s.Yaw
	}
	return &s.Roll
}

// Store guards the settings and knows where to save them. It
// implements fclink.SettingsSource.
type Store struct {
	mu   sync.Mutex
	path string
	s    Settings
}

// New returns a Store with default settings which will be
// saved to path
func New(path string) *Store {
	return &Store{path: path, s: Default()}
}

// Load reads the settings at path. A missing file yields the
// defaults.
func Load(path string) (*Store, error) {
	st := New(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Infof("no settings file at %s, using defaults", path)
			return st, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &st.s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	log.Debugf("loaded settings from %s", path)
	return st, nil
}

// Path returns the file the settings are saved to
func (st *Store) Path() string {
	return st.path
}

// Save writes the settings to disk
func (st *Store) Save() error {
	st.mu.Lock()
	data, err := yaml.Marshal(&st.s)
	st.mu.Unlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(st.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(st.path, data, 0o644)
}

// Snapshot returns a copy of the current settings
func (st *Store) Snapshot() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.s
	s.History = append([]HistoryEntry(nil), st.s.History...)
	return s
}

// PID returns the gains for axis
func (st *Store) PID(axis fclink.Axis) fclink.PIDGains {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.pid(axis).gains()
}

// SetPID replaces the gains for axis
func (st *Store) SetPID(axis fclink.Axis, gains fclink.PIDGains) {
	st.mu.Lock()
	defer st.mu.Unlock()
	*st.s.pid(axis) = pidFromGains(gains)
}

// SetMotorThrottle sets the manual throttle of motor idx (0-3)
func (st *Store) SetMotorThrottle(idx int, v float32) error {
	if idx < 0 || idx > 3 {
		return fmt.Errorf("invalid motor %d", idx)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.MotorThrottles[idx] = v
	return nil
}

// ConfigCommand returns the Config command carrying the persisted
// motor throttles and gains
func (st *Store) ConfigCommand() fclink.Config {
	st.mu.Lock()
	defer st.mu.Unlock()
	return fclink.Config{
		Motors: st.s.MotorThrottles,
		Roll:   st.s.Roll.gains(),
		Pitch:  st.s.Pitch.gains(),
		Yaw:    st.s.Yaw.gains(),
	}
}

// TuneCommand returns the TunePID command for axis
func (st *Store) TuneCommand(axis fclink.Axis) fclink.TunePID {
	return fclink.TunePID{Axis: axis, Gains: st.PID(axis)}
}

// MotorThrottleCommand returns the SetMotorThrottle command for
// the persisted motor throttles
func (st *Store) MotorThrottleCommand() fclink.SetMotorThrottle {
	st.mu.Lock()
	defer st.mu.Unlock()
	return fclink.SetMotorThrottle{Motors: st.s.MotorThrottles}
}

// AddHistory records the current gains, keeping the latest
// MaxHistory entries
func (st *Store) AddHistory(note string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.History = append(st.s.History, HistoryEntry{
		Time:  time.Now(),
		Note:  note,
		Roll:  st.s.Roll,
		Pitch: st.s.Pitch,
		Yaw:   st.s.Yaw,
	})
	if n := len(st.s.History); n > MaxHistory {
		st.s.History = append([]HistoryEntry(nil), st.s.History[n-MaxHistory:]...)
	}
}

// Restore sets the gains of the three axes from a history entry
func (st *Store) Restore(entry HistoryEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Roll = entry.Roll
	st.s.Pitch = entry.Pitch
	st.s.Yaw = entry.Yaw
}

// Undo drops the latest history entry and restores the gains of
// the previous one, which is returned. It does nothing when there
// are less than two entries.
func (st *Store) Undo() (HistoryEntry, bool) {
	st.mu.Lock()
	n := len(st.s.History)
	if n < 2 {
		st.mu.Unlock()
		return HistoryEntry{}, false
	}
	st.s.History = st.s.History[:n-1]
	entry := st.s.History[n-2]
	st.mu.Unlock()
	st.Restore(entry)
	return entry, true
}
