package fclink

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCommand is returned by ParseCommand when the line
	// doesn't match any known command token or tag
	ErrUnknownCommand = errors.New("unknown command")
)

// CommandKind identifies a command variant. At most one command
// of each kind is kept in a CommandQueue.
type CommandKind int

const (
	KindStart CommandKind = iota + 1
	KindStop
	KindStartManual
	KindEmergencyStop
	KindCalibrate
	KindReset
	KindSetThrottle
	KindSetAttitude
	KindSetMotorThrottle
	KindTunePID
	KindHeartbeat
	KindConfig
)

func (k CommandKind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindStop:
		return "Stop"
	case KindStartManual:
		return "StartManual"
	case KindEmergencyStop:
		return "EmergencyStop"
	case KindCalibrate:
		return "Calibrate"
	case KindReset:
		return "Reset"
	case KindSetThrottle:
		return "SetThrottle"
	case KindSetAttitude:
		return "SetAttitude"
	case KindSetMotorThrottle:
		return "SetMotorThrottle"
	case KindTunePID:
		return "TunePID"
	case KindHeartbeat:
		return "Heartbeat"
	case KindConfig:
		return "Config"
	}
	return fmt.Sprintf("unknown CommandKind %d", int(k))
}

// Command is a message for the flight controller. Encode returns
// the ASCII payload that goes inside AT+SEND, which is deterministic
// for a given command value.
type Command interface {
	Kind() CommandKind
	Encode() string
}

const (
	tokenStart         = "FC:START"
	tokenStop          = "FC:STOP"
	tokenManual        = "FC:MANUAL"
	tokenCalibrate     = "FC:CALIBRATE"
	tokenReset         = "FC:RESET"
	tokenEmergencyStop = "ES"

	tagThrottle      = "TH"
	tagAttitude      = "SP"
	tagMotorThrottle = "MB"
	tagTunePID       = "PT"
	tagHeartbeat     = "HB"
	tagConfig        = "CF"
)

// Axis selects one of the three attitude control loops
type Axis uint8

const (
	AxisRoll Axis = iota
	AxisPitch
	AxisYaw
)

func (a Axis) String() string {
	switch a {
	case AxisRoll:
		return "roll"
	case AxisPitch:
		return "pitch"
	case AxisYaw:
		return "yaw"
	}
	return fmt.Sprintf("axis(%d)", uint8(a))
}

// PIDGains are the tunables of a single control loop
type PIDGains struct {
	P        float32
	I        float32
	D        float32
	ILimit   float32
	PIDLimit float32
}

// Start arms the controller in stabilized mode
type Start struct{}

func (Start) Kind() CommandKind { return KindStart }
func (Start) Encode() string    { return tokenStart }

// Stop disarms the controller
type Stop struct{}

func (Stop) Kind() CommandKind { return KindStop }
func (Stop) Encode() string    { return tokenStop }

// StartManual arms the controller with direct motor control
type StartManual struct{}

func (StartManual) Kind() CommandKind { return KindStartManual }
func (StartManual) Encode() string    { return tokenManual }

// EmergencyStop cuts the motors immediately. It preempts
// everything else until a Reset is queued.
type EmergencyStop struct{}

func (EmergencyStop) Kind() CommandKind { return KindEmergencyStop }
func (EmergencyStop) Encode() string    { return tokenEmergencyStop }

// Calibrate starts IMU calibration
type Calibrate struct{}

func (Calibrate) Kind() CommandKind { return KindCalibrate }
func (Calibrate) Encode() string    { return tokenCalibrate }

// Reset clears the controller state, including a latched
// emergency stop
type Reset struct{}

func (Reset) Kind() CommandKind { return KindReset }
func (Reset) Encode() string    { return tokenReset }

// SetThrottle sets the collective throttle in the 0..1 range
type SetThrottle struct {
	Throttle float32
}

func (SetThrottle) Kind() CommandKind { return KindSetThrottle }
func (c SetThrottle) Encode() string  { return encodeRecord(tagThrottle, &c) }

// SetAttitude sets the attitude setpoint, in radians
type SetAttitude struct {
	Roll  float32
	Pitch float32
	Yaw   float32
}

func (SetAttitude) Kind() CommandKind { return KindSetAttitude }
func (c SetAttitude) Encode() string  { return encodeRecord(tagAttitude, &c) }

// SetMotorThrottle drives each motor individually while in manual mode
type SetMotorThrottle struct {
	Motors [4]float32
}

func (SetMotorThrottle) Kind() CommandKind { return KindSetMotorThrottle }
func (c SetMotorThrottle) Encode() string  { return encodeRecord(tagMotorThrottle, &c) }

// TunePID updates the gains of a single axis
type TunePID struct {
	Axis  Axis
	Gains PIDGains
}

func (TunePID) Kind() CommandKind { return KindTunePID }
func (c TunePID) Encode() string  { return encodeRecord(tagTunePID, &c) }

// Heartbeat keeps the controller's link watchdog fed and carries
// the live stick state
type Heartbeat struct {
	Throttle float32
	Roll     float32
	Pitch    float32
	Yaw      float32
}

func (Heartbeat) Kind() CommandKind { return KindHeartbeat }
func (c Heartbeat) Encode() string  { return encodeRecord(tagHeartbeat, &c) }

// Config pushes the whole persisted configuration: per motor
// throttle and the gains for the three axes
type Config struct {
	Motors [4]float32
	Roll   PIDGains
	Pitch  PIDGains
	Yaw    PIDGains
}

func (Config) Kind() CommandKind { return KindConfig }
func (c Config) Encode() string  { return encodeRecord(tagConfig, &c) }

// encodeHex returns the uppercase hex representation of data
// with no separators
func encodeHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

func encodeRecord(tag string, rec interface{}) string {
	var buf bytes.Buffer
	// Records are fixed size structs of fixed size fields,
	// binary.Write can't fail on them.
	if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
		panic(fmt.Errorf("encoding %s record: %v", tag, err))
	}
	return tag + ":" + encodeHex(buf.Bytes())
}

func decodeRecord(tag string, data string, rec interface{}) error {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	if expected := binary.Size(rec); len(raw) != expected {
		return fmt.Errorf("%s: invalid payload size %d, expecting %d", tag, len(raw), expected)
	}
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, rec)
}

func parseRecord[T Command](tag string, data string) (Command, error) {
	var c T
	if err := decodeRecord(tag, data, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCommand decodes a line produced by Command.Encode
func ParseCommand(line string) (Command, error) {
	switch line {
	case tokenStart:
		return Start{}, nil
	case tokenStop:
		return Stop{}, nil
	case tokenManual:
		return StartManual{}, nil
	case tokenCalibrate:
		return Calibrate{}, nil
	case tokenReset:
		return Reset{}, nil
	case tokenEmergencyStop:
		return EmergencyStop{}, nil
	}
	sep := strings.IndexByte(line, ':')
	if sep < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	tag, data := line[:sep], line[sep+1:]
	switch tag {
	case tagThrottle:
		return parseRecord[SetThrottle](tag, data)
	case tagAttitude:
		return parseRecord[SetAttitude](tag, data)
	case tagMotorThrottle:
		return parseRecord[SetMotorThrottle](tag, data)
	case tagTunePID:
		return parseRecord[TunePID](tag, data)
	case tagHeartbeat:
		return parseRecord[Heartbeat](tag, data)
	case tagConfig:
		return parseRecord[Config](tag, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
}
