package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/fclink"
)

func TestLoadMissing(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), st.Snapshot())
	assert.Equal(t, fclink.PIDGains{P: 1, ILimit: 10, PIDLimit: 100}, st.PID(fclink.AxisYaw))
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	st := New(path)
	gains := fclink.PIDGains{P: 0.8, I: 0.05, D: 0.02, ILimit: 5, PIDLimit: 50}
	st.SetPID(fclink.AxisPitch, gains)
	require.NoError(t, st.SetMotorThrottle(2, 0.3))
	st.AddHistory("calm air")
	require.NoError(t, st.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, gains, loaded.PID(fclink.AxisPitch))
	snap := loaded.Snapshot()
	assert.Equal(t, float32(0.3), snap.MotorThrottles[2])
	require.Len(t, snap.History, 1)
	assert.Equal(t, "calm air", snap.History[0].Note)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pidRoll: [1, 2"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestCommands(t *testing.T) {
	st := New("")
	require.NoError(t, st.SetMotorThrottle(0, 0.1))
	roll := fclink.PIDGains{P: 2, I: 0.1, D: 0.3, ILimit: 8, PIDLimit: 90}
	st.SetPID(fclink.AxisRoll, roll)

	cfg := st.ConfigCommand()
	assert.Equal(t, [4]float32{0.1, 0, 0, 0}, cfg.Motors)
	assert.Equal(t, roll, cfg.Roll)
	assert.Equal(t, st.PID(fclink.AxisPitch), cfg.Pitch)

	assert.Equal(t, fclink.TunePID{Axis: fclink.AxisRoll, Gains: roll}, st.TuneCommand(fclink.AxisRoll))
	assert.Equal(t, cfg.Motors, st.MotorThrottleCommand().Motors)

	assert.Error(t, st.SetMotorThrottle(4, 1))
	assert.Error(t, st.SetMotorThrottle(-1, 1))
}

func TestHistory(t *testing.T) {
	st := New("")
	for ii := 0; ii < MaxHistory+5; ii++ {
		st.SetPID(fclink.AxisRoll, fclink.PIDGains{P: float32(ii)})
		st.AddHistory(fmt.Sprintf("run %d", ii))
	}
	history := st.Snapshot().History
	require.Len(t, history, MaxHistory)
	assert.Equal(t, "run 5", history[0].Note)

	st.Restore(history[0])
	assert.Equal(t, float32(5), st.PID(fclink.AxisRoll).P)
}

func TestUndo(t *testing.T) {
	st := New("")
	_, ok := st.Undo()
	assert.False(t, ok)

	first := fclink.PIDGains{P: 1.5, ILimit: 10, PIDLimit: 100}
	st.SetPID(fclink.AxisPitch, first)
	st.AddHistory("first")
	st.SetPID(fclink.AxisPitch, fclink.PIDGains{P: 3})
	st.AddHistory("second")

	entry, ok := st.Undo()
	require.True(t, ok)
	assert.Equal(t, "first", entry.Note)
	assert.Equal(t, first, st.PID(fclink.AxisPitch))
	assert.Len(t, st.Snapshot().History, 1)

	_, ok = st.Undo()
	assert.False(t, ok)
}
