package fclink

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/icza/bitio"
)

const (
	telemetryPrefix = "T:"

	// TelemetrySize is the size of a wire telemetry record in bytes
	TelemetrySize    = 84
	telemetryHexSize = TelemetrySize * 2
)

var (
	// ErrMalformedTelemetry is returned when a payload doesn't
	// look like a telemetry frame at all
	ErrMalformedTelemetry = errors.New("malformed telemetry")
	// ErrTelemetrySize is returned when the hex body of a telemetry
	// frame doesn't have exactly TelemetrySize bytes
	ErrTelemetrySize = errors.New("invalid telemetry size")
)

// FlightState is the controller state machine position
type FlightState uint8

const (
	StateIdle FlightState = iota
	StateArmed
	StateManual
	StateCalibrating
	StateEmergencyStopped
)

func (s FlightState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateManual:
		return "MANUAL"
	case StateCalibrating:
		return "CALIBRATING"
	case StateEmergencyStopped:
		return "EMERGENCY STOP"
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// TelemetryFlags is the flags byte of a record. On the wire
// the first field is the most significant bit.
type TelemetryFlags struct {
	Armed         bool
	Manual        bool
	EmergencyStop bool
	Calibrating   bool
	ConfigRequest bool
	LowBattery    bool
	IMUFault      bool
}

func (f *TelemetryFlags) bits() []*bool {
	return []*bool{&f.Armed, &f.Manual, &f.EmergencyStop, &f.Calibrating, &f.ConfigRequest, &f.LowBattery, &f.IMUFault}
}

func decodeFlags(b byte) (TelemetryFlags, error) {
	var f TelemetryFlags
	r := bitio.NewReader(bytes.NewReader([]byte{b}))
	for _, v := range f.bits() {
		bit, err := r.ReadBits(1)
		if err != nil {
			return f, err
		}
		*v = bit == 1
	}
	return f, nil
}

func (f TelemetryFlags) encode() byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, v := range f.bits() {
		var bit uint64
		if *v {
			bit = 1
		}
		// Writes into a bytes.Buffer don't fail
		_ = w.WriteBits(bit, 1)
	}
	// Reserved bit
	_ = w.WriteBits(0, 1)
	_ = w.Close()
	return buf.Bytes()[0]
}

// PIDState holds the individual terms a control loop produced
type PIDState struct {
	P float32
	I float32
	D float32
}

// telemetryWire is the exact little-endian record sent by the
// controller
type telemetryWire struct {
	TimestampMs    uint32
	Roll           float32
	Pitch          float32
	Yaw            float32
	RollPID        PIDState
	PitchPID       PIDState
	YawPID         PIDState
	Altitude       float32
	BatteryVoltage float32
	Throttle       float32
	Motors         [4]float32
	State          uint8
	Flags          uint8
	Reserved       [2]uint8
}

// TelemetryRecord is a decoded telemetry frame. Angles are in
// radians. Received, From, RSSI and SNR are filled in by the
// link when the frame arrives and are not part of the wire record.
type TelemetryRecord struct {
	// Milliseconds since the controller booted
	TimestampMs    uint32
	Roll           float32
	Pitch          float32
	Yaw            float32
	RollPID        PIDState
	PitchPID       PIDState
	YawPID         PIDState
	Altitude       float32
	BatteryVoltage float32
	Throttle       float32
	Motors         [4]float32
	State          FlightState
	Flags          TelemetryFlags

	Received time.Time
	From     uint16
	RSSI     int
	SNR      int
}

// DecodeTelemetry decodes a "T:<hex>" payload. Records are
// accepted whole or not at all.
func DecodeTelemetry(payload string) (*TelemetryRecord, error) {
	if !strings.HasPrefix(payload, telemetryPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrMalformedTelemetry, telemetryPrefix)
	}
	body := payload[len(telemetryPrefix):]
	if len(body) != telemetryHexSize {
		return nil, fmt.Errorf("%w: %d hex digits, expecting %d", ErrTelemetrySize, len(body), telemetryHexSize)
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTelemetry, err)
	}
	var w telemetryWire
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &w); err != nil {
		return nil, err
	}
	flags, err := decodeFlags(w.Flags)
	if err != nil {
		return nil, err
	}
	return &TelemetryRecord{
		TimestampMs:    w.TimestampMs,
		Roll:           w.Roll,
		Pitch:          w.Pitch,
		Yaw:            w.Yaw,
		RollPID:        w.RollPID,
		PitchPID:       w.PitchPID,
		YawPID:         w.YawPID,
		Altitude:       w.Altitude,
		BatteryVoltage: w.BatteryVoltage,
		Throttle:       w.Throttle,
		Motors:         w.Motors,
		State:          FlightState(w.State),
		Flags:          flags,
	}, nil
}

// Encode returns the "T:<hex>" payload for the record, as the
// controller would send it
func (t *TelemetryRecord) Encode() string {
	w := telemetryWire{
		TimestampMs:    t.TimestampMs,
		Roll:           t.Roll,
		Pitch:          t.Pitch,
		Yaw:            t.Yaw,
		RollPID:        t.RollPID,
		PitchPID:       t.PitchPID,
		YawPID:         t.YawPID,
		Altitude:       t.Altitude,
		BatteryVoltage: t.BatteryVoltage,
		Throttle:       t.Throttle,
		Motors:         t.Motors,
		State:          uint8(t.State),
		Flags:          t.Flags.encode(),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &w); err != nil {
		panic(err)
	}
	return telemetryPrefix + encodeHex(buf.Bytes())
}
