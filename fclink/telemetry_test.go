package fclink

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTelemetry() *TelemetryRecord {
	return &TelemetryRecord{
		TimestampMs:    123456,
		Roll:           0.1,
		Pitch:          -0.05,
		Yaw:            1.5,
		RollPID:        PIDState{P: 0.01, I: 0.002, D: -0.001},
		PitchPID:       PIDState{P: 0.02, I: 0, D: 0.003},
		YawPID:         PIDState{P: -0.01, I: 0.001, D: 0},
		Altitude:       12.5,
		BatteryVoltage: 11.7,
		Throttle:       0.55,
		Motors:         [4]float32{0.5, 0.52, 0.49, 0.51},
		State:          StateArmed,
		Flags:          TelemetryFlags{Armed: true, LowBattery: true},
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	rec := sampleTelemetry()
	payload := rec.Encode()
	assert.True(t, strings.HasPrefix(payload, "T:"))
	assert.Len(t, payload, 2+TelemetrySize*2)

	decoded, err := DecodeTelemetry(payload)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestTelemetryLayout(t *testing.T) {
	raw := make([]byte, TelemetrySize)
	binary.LittleEndian.PutUint32(raw[0:], 1234)
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(raw[16:], math.Float32bits(2))
	binary.LittleEndian.PutUint32(raw[52:], math.Float32bits(30))
	binary.LittleEndian.PutUint32(raw[56:], math.Float32bits(11.1))
	binary.LittleEndian.PutUint32(raw[76:], math.Float32bits(0.75))
	raw[80] = byte(StateEmergencyStopped)
	raw[81] = 0x88

	rec, err := DecodeTelemetry("T:" + encodeHex(raw))
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), rec.TimestampMs)
	assert.Equal(t, float32(0.25), rec.Roll)
	assert.Equal(t, float32(2), rec.RollPID.P)
	assert.Equal(t, float32(30), rec.Altitude)
	assert.Equal(t, float32(11.1), rec.BatteryVoltage)
	assert.Equal(t, float32(0.75), rec.Motors[3])
	assert.Equal(t, StateEmergencyStopped, rec.State)
	assert.Equal(t, TelemetryFlags{Armed: true, ConfigRequest: true}, rec.Flags)
}

func TestTelemetryFlags(t *testing.T) {
	assert.Equal(t, byte(0x80), TelemetryFlags{Armed: true}.encode())
	assert.Equal(t, byte(0x04), TelemetryFlags{LowBattery: true}.encode())
	assert.Equal(t, byte(0x02), TelemetryFlags{IMUFault: true}.encode())

	f, err := decodeFlags(0x60)
	require.NoError(t, err)
	assert.Equal(t, TelemetryFlags{Manual: true, EmergencyStop: true}, f)
}

func TestTelemetryErrors(t *testing.T) {
	zeros := strings.Repeat("0", TelemetrySize*2)

	_, err := DecodeTelemetry("T:" + zeros[2:])
	assert.True(t, errors.Is(err, ErrTelemetrySize))

	_, err = DecodeTelemetry("T:" + zeros + "00")
	assert.True(t, errors.Is(err, ErrTelemetrySize))

	_, err = DecodeTelemetry("T:ZZ" + zeros[2:])
	assert.True(t, errors.Is(err, ErrMalformedTelemetry))

	_, err = DecodeTelemetry("X:" + zeros)
	assert.True(t, errors.Is(err, ErrMalformedTelemetry))
}

func TestFlightStateString(t *testing.T) {
	assert.Equal(t, "ARMED", StateArmed.String())
	assert.Equal(t, "STATE(42)", FlightState(42).String())
}
