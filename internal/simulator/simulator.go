// Package simulator implements a radio module with a flight
// controller behind it, reachable as a tcp: port. It lets the
// ground station run without hardware.
package simulator

import (
	"bufio"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"groundlink/fclink"
)

const (
	// DefaultTelemetryPeriod is how often the controller reports
	DefaultTelemetryPeriod = 200 * time.Millisecond

	firmware = "RYLR89C_V1.2.7"
	rssi     = -42
	snr      = 9

	// Fraction of the setpoint error corrected on every report
	response     = 0.5
	fullBattery  = 12.6
	batteryDrain = 0.001
)

// Radio is the simulated module. It serves one connection at a time.
type Radio struct {
	ln      net.Listener
	address uint16
	period  time.Duration

	mu       sync.Mutex
	conn     net.Conn
	start    time.Time
	state    fclink.FlightState
	sticks   fclink.Heartbeat
	motors   [4]float32
	gains    [3]fclink.PIDGains
	attitude [3]float32
	battery  float32
	// The controller asks for its configuration until it gets one
	configured bool

	wg sync.WaitGroup
}

// Listen starts a simulated radio on addr (e.g. "127.0.0.1:0"). The
// controller answers as address, which must match the station's
// remote address.
func Listen(addr string, address uint16, period time.Duration) (*Radio, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if period <= 0 {
		period = DefaultTelemetryPeriod
	}
	r := &Radio{
		ln:      ln,
		address: address,
		period:  period,
		start:   time.Now(),
		battery: fullBattery,
	}
	r.wg.Add(1)
	go r.serve()
	log.Infof("simulated radio listening on %s", ln.Addr())
	return r, nil
}

// Port returns the port name to connect to
func (r *Radio) Port() string {
	return "tcp:" + r.ln.Addr().String()
}

// Close stops accepting connections, drops the current one and
// waits for it to end
func (r *Radio) Close() error {
	err := r.ln.Close()
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
	return err
}

// State returns the simulated controller state
func (r *Radio) State() fclink.FlightState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Radio) serve() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.handle(conn)
	}
}

func (r *Radio) handle(conn net.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
	}()
	log.Debugf("simulated radio: connection from %s", conn.RemoteAddr())

	var writeMu sync.Mutex
	write := func(lines []string) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return false
			}
		}
		return true
	}

	stop := make(chan struct{})
	var reporter sync.WaitGroup
	reporter.Add(1)
	go func() {
		defer reporter.Done()
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !write([]string{r.envelope(r.report().Encode())}) {
					return
				}
			}
		}
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !write(r.HandleLine(line)) {
			break
		}
	}
	close(stop)
	reporter.Wait()
}

func (r *Radio) envelope(payload string) string {
	return fmt.Sprintf("+RCV=%d,%d,%s,%d,%d", r.address, len(payload), payload, rssi, snr)
}

// HandleLine processes one AT command and returns the lines the
// module replies with
func (r *Radio) HandleLine(line string) []string {
	switch {
	case line == "AT":
		return []string{"+OK"}
	case line == "AT+VER?":
		return []string{"+VER=" + firmware}
	case strings.HasPrefix(line, "AT+SEND="):
		return r.handleSend(line[len("AT+SEND="):])
	case strings.HasPrefix(line, "AT+"):
		if !strings.Contains(line, "=") {
			return []string{"+ERR=3"}
		}
		return []string{"+OK"}
	}
	return []string{"+ERR=2"}
}

func (r *Radio) handleSend(args string) []string {
	fields := strings.SplitN(args, ",", 3)
	if len(fields) != 3 {
		return []string{"+ERR=4"}
	}
	address, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return []string{"+ERR=4"}
	}
	length, err := strconv.Atoi(fields[1])
	if err != nil || length != len(fields[2]) {
		return []string{"+ERR=4"}
	}
	if length > fclink.MaxPayloadSize {
		return []string{"+ERR=13"}
	}
	replies := []string{"+OK"}
	if uint16(address) != r.address {
		return replies
	}
	cmd, err := fclink.ParseCommand(fields[2])
	if err != nil {
		return append(replies, r.envelope("LOG:unknown command "+fields[2]))
	}
	if msg := r.apply(cmd); msg != "" {
		replies = append(replies, r.envelope("LOG:"+msg))
	}
	return replies
}

// apply runs cmd on the controller, returning the message it logs
func (r *Radio) apply(cmd fclink.Command) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == fclink.StateEmergencyStopped && cmd.Kind() != fclink.KindReset {
		if cmd.Kind() == fclink.KindEmergencyStop {
			return ""
		}
		return fmt.Sprintf("emergency stop active, ignoring %s", cmd.Kind())
	}
	switch c := cmd.(type) {
	case fclink.Start:
		r.state = fclink.StateArmed
		return "armed"
	case fclink.StartManual:
		r.state = fclink.StateManual
		return "manual mode"
	case fclink.Stop:
		r.state = fclink.StateIdle
		return "stopped"
	case fclink.EmergencyStop:
		r.state = fclink.StateEmergencyStopped
		return "EMERGENCY STOP"
	case fclink.Calibrate:
		r.state = fclink.StateCalibrating
		return "calibrating"
	case fclink.Reset:
		r.state = fclink.StateIdle
		r.sticks = fclink.Heartbeat{}
		return "reset"
	case fclink.Heartbeat:
		r.sticks = c
	case fclink.SetThrottle:
		r.sticks.Throttle = c.Throttle
	case fclink.SetAttitude:
		r.sticks.Roll, r.sticks.Pitch, r.sticks.Yaw = c.Roll, c.Pitch, c.Yaw
	case fclink.SetMotorThrottle:
		r.motors = c.Motors
	case fclink.TunePID:
		if int(c.Axis) < len(r.gains) {
			r.gains[c.Axis] = c.Gains
		}
		return fmt.Sprintf("%s gains P=%g I=%g D=%g", c.Axis, c.Gains.P, c.Gains.I, c.Gains.D)
	case fclink.Config:
		r.motors = c.Motors
		r.gains = [3]fclink.PIDGains{c.Roll, c.Pitch, c.Yaw}
		r.configured = true
		return "config received"
	}
	return ""
}

// report advances the simulation by one period and returns the
// resulting telemetry
func (r *Radio) report() *fclink.TelemetryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	flying := r.state == fclink.StateArmed || r.state == fclink.StateManual
	setpoint := [3]float32{r.sticks.Roll, r.sticks.Pitch, r.sticks.Yaw}
	if !flying {
		setpoint = [3]float32{}
	}
	var pids [3]fclink.PIDState
	for i := range r.attitude {
		e := setpoint[i] - r.attitude[i]
		r.attitude[i] += e * response
		pids[i] = fclink.PIDState{P: r.gains[i].P * e, D: -r.gains[i].D * e * response}
	}

	var throttle float32
	var motors [4]float32
	switch r.state {
	case fclink.StateArmed:
		throttle = r.sticks.Throttle
		for i := range motors {
			motors[i] = throttle
		}
	case fclink.StateManual:
		throttle = r.sticks.Throttle
		motors = r.motors
	}
	r.battery -= batteryDrain * (1 + throttle)
	if r.battery < 0 {
		r.battery = 0
	}

	return &fclink.TelemetryRecord{
		TimestampMs:    uint32(time.Since(r.start) / time.Millisecond),
		Roll:           r.attitude[0],
		Pitch:          r.attitude[1],
		Yaw:            r.attitude[2],
		RollPID:        pids[0],
		PitchPID:       pids[1],
		YawPID:         pids[2],
		Altitude:       float32(math.Max(0, float64(throttle-0.5)*20)),
		BatteryVoltage: r.battery,
		Throttle:       throttle,
		Motors:         motors,
		State:          r.state,
		Flags: fclink.TelemetryFlags{
			Armed:         flying,
			Manual:        r.state == fclink.StateManual,
			EmergencyStop: r.state == fclink.StateEmergencyStopped,
			Calibrating:   r.state == fclink.StateCalibrating,
			ConfigRequest: !r.configured,
			LowBattery:    r.battery < 10.5,
		},
	}
}
