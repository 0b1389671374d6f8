package simulator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/fclink"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestRadio(t *testing.T) *Radio {
	r, err := Listen("127.0.0.1:0", 2, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func send(address int, payload string) string {
	return fmt.Sprintf("AT+SEND=%d,%d,%s", address, len(payload), payload)
}

func TestHandleLine(t *testing.T) {
	r := newTestRadio(t)
	cfg := fclink.DefaultRadioConfig()
	for _, cmd := range cfg.Commands() {
		assert.Equal(t, []string{"+OK"}, r.HandleLine(cmd), cmd)
	}
	assert.Equal(t, []string{"+VER=" + firmware}, r.HandleLine("AT+VER?"))
	assert.Equal(t, []string{"+ERR=2"}, r.HandleLine("hello"))
	assert.Equal(t, []string{"+ERR=4"}, r.HandleLine("AT+SEND=2,3,FC:START"))

	assert.Equal(t, []string{"+OK", "+RCV=2,9,LOG:armed,-42,9"}, r.HandleLine(send(2, "FC:START")))
	assert.Equal(t, fclink.StateArmed, r.State())

	// Other addresses are acknowledged but never reach the controller
	assert.Equal(t, []string{"+OK"}, r.HandleLine(send(3, "FC:STOP")))
	assert.Equal(t, fclink.StateArmed, r.State())

	replies := r.HandleLine(send(2, "ZZ:00"))
	require.Len(t, replies, 2)
	assert.Contains(t, replies[1], "LOG:unknown command ZZ:00")
}

func TestEmergencyStop(t *testing.T) {
	r := newTestRadio(t)
	r.HandleLine(send(2, fclink.Start{}.Encode()))
	r.HandleLine(send(2, fclink.EmergencyStop{}.Encode()))
	assert.Equal(t, fclink.StateEmergencyStopped, r.State())

	assert.Equal(t, []string{"+OK"}, r.HandleLine(send(2, fclink.EmergencyStop{}.Encode())))
	replies := r.HandleLine(send(2, fclink.Start{}.Encode()))
	assert.Contains(t, replies[1], "emergency stop active")
	assert.Equal(t, fclink.StateEmergencyStopped, r.State())

	r.HandleLine(send(2, fclink.Reset{}.Encode()))
	assert.Equal(t, fclink.StateIdle, r.State())
}

func TestReport(t *testing.T) {
	r := newTestRadio(t)
	rec := r.report()
	assert.True(t, rec.Flags.ConfigRequest)
	assert.Zero(t, rec.Throttle)

	r.HandleLine(send(2, fclink.Config{Roll: fclink.PIDGains{P: 1}}.Encode()))
	r.HandleLine(send(2, fclink.Start{}.Encode()))
	r.HandleLine(send(2, fclink.Heartbeat{Throttle: 0.6, Roll: 0.2}.Encode()))

	rec = r.report()
	assert.False(t, rec.Flags.ConfigRequest)
	assert.True(t, rec.Flags.Armed)
	assert.Equal(t, fclink.StateArmed, rec.State)
	assert.Equal(t, float32(0.6), rec.Throttle)
	assert.Equal(t, [4]float32{0.6, 0.6, 0.6, 0.6}, rec.Motors)
	assert.InDelta(t, 0.1, rec.Roll, 1e-6)
	assert.InDelta(t, 0.2, rec.RollPID.P, 1e-6)
	assert.Less(t, rec.BatteryVoltage, float32(fullBattery))

	decoded, err := fclink.DecodeTelemetry(rec.Encode())
	require.NoError(t, err)
	assert.Equal(t, rec.Motors, decoded.Motors)
}

func TestLoopback(t *testing.T) {
	r := newTestRadio(t)
	out := fclink.NewTelemetryLog(0, 0)
	cfg := fclink.DefaultRadioConfig()
	cfg.MinFirmware = "1.2"
	l, err := fclink.Connect(r.Port(), cfg, out,
		fclink.WithHandshakeOptions(fclink.WithCommandDelay(0)))
	require.NoError(t, err)
	defer l.Disconnect()

	require.Eventually(t, func() bool { return len(out.Telemetry()) > 0 }, waitFor, tick)
	assert.True(t, out.TakeConfigRequest())

	require.NoError(t, l.Send(2, fclink.Start{}.Encode()))
	require.Eventually(t, func() bool {
		rec, ok := out.Latest()
		return ok && rec.State == fclink.StateArmed
	}, waitFor, tick)
	assert.Equal(t, uint64(0), l.Stats().Dropped)
}
