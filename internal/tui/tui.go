// Package tui implements the terminal front end of the ground
// station with Bubble Tea
package tui

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"groundlink/fclink"
	"groundlink/internal/station"
)

const (
	refreshInterval = 100 * time.Millisecond
	throttleStep    = 0.05
	// Attitude setpoint step, in radians
	attitudeStep = 2 * math.Pi / 180
	logTail      = 8
	queueTail    = 5
)

const help = "c:connect  g:start  m:manual  x:stop  space:ESTOP  k:calibrate  r:reset  " +
	"up/down:throttle  w/s:pitch  a/d:roll  q/e:yaw  T:send sticks\n" +
	"p:push config  t:tune PID  h:save gains  u:undo gains  b:motor throttle  " +
	"l:clear telemetry  L:clear log  /:send  ctrl+c:quit"

// Prompts
const (
	actionSend    = "send"
	actionTune    = "tune"
	actionHistory = "history"
	actionMotor   = "motor"
)

var prompts = map[string]struct{ prompt, placeholder string }{
	actionSend:    {"send ", "address payload"},
	actionTune:    {"tune ", "roll|pitch|yaw P I D [ILimit PIDLimit]"},
	actionHistory: {"note ", "what these gains are good for"},
	actionMotor:   {"motor ", "1-4|13|24|all throttle"},
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	estopStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

type tickMsg time.Time

type connectedMsg struct{ err error }

type disconnectedMsg struct{}

// Model is the Bubble Tea model driving a station.Station
type Model struct {
	st   *station.Station
	port string

	table    table.Model
	input    textinput.Model
	entering bool
	action   string

	status string
	err    error
}

// New returns a Model that connects st to port when asked to
func New(st *station.Station, port string) Model {
	ti := textinput.New()
	ti.CharLimit = fclink.MaxPayloadSize + 8
	ti.Prompt = "> "

	columns := []table.Column{
		{Title: "Axis", Width: 6},
		{Title: "Angle", Width: 8},
		{Title: "P", Width: 8},
		{Title: "I", Width: 8},
		{Title: "D", Width: 8},
	}
	t := table.New(table.WithColumns(columns), table.WithHeight(4))
	t.SetStyles(defaultTableStyles())

	return Model{st: st, port: port, table: t, input: ti}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) connect() tea.Cmd {
	st, port := m.st, m.port
	return func() tea.Msg {
		return connectedMsg{err: st.Connect(port)}
	}
}

func (m Model) disconnect() tea.Cmd {
	st := m.st
	return func() tea.Msg {
		st.Disconnect()
		return disconnectedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.entering {
			return m.updateInput(msg)
		}
		return m.updateKey(msg)

	case tickMsg:
		m.table.SetRows(telemetryRows(m.st.Telemetry))
		return m, tick()

	case connectedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
		} else {
			m.err = nil
			m.status = fmt.Sprintf("connected to %s", m.port)
		}
		return m, nil

	case disconnectedMsg:
		m.status = "disconnected"
		return m, nil
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.entering = false
		m.input.Blur()
		status, err := m.submit(m.action, strings.TrimSpace(m.input.Value()))
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.status = status
		return m, nil
	case tea.KeyEsc:
		m.entering = false
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(action string, value string) (string, error) {
	switch action {
	case actionSend:
		address, data, err := parseSend(value)
		if err != nil {
			return "", err
		}
		if err := m.st.Send(address, data); err != nil {
			return "", err
		}
		return fmt.Sprintf("sent %q to %d", data, address), nil
	case actionTune:
		axis, gains, err := parseTune(value, m.st.Settings.PID)
		if err != nil {
			return "", err
		}
		m.st.TunePID(axis, gains)
		return fmt.Sprintf("%s gains queued", axis), nil
	case actionHistory:
		if value == "" {
			return "", errors.New("empty note")
		}
		m.st.SaveHistory(value)
		return "gains saved to history", nil
	case actionMotor:
		motors, v, err := parseMotor(value)
		if err != nil {
			return "", err
		}
		if err := m.st.SetMotorThrottle(v, motors...); err != nil {
			return "", err
		}
		return "motor throttles queued", nil
	}
	return "", fmt.Errorf("unknown prompt %q", action)
}

func (m *Model) prompt(action string) tea.Cmd {
	m.entering = true
	m.action = action
	m.input.Placeholder = prompts[action].placeholder
	m.input.SetValue("")
	return m.input.Focus()
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "c":
		if m.st.Connecting() {
			return m, nil
		}
		if m.st.IsConnected() {
			m.status = "disconnecting"
			return m, m.disconnect()
		}
		if m.port == "" {
			m.err = errors.New("no port selected")
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("connecting to %s", m.port)
		return m, m.connect()
	case "g":
		m.enqueue(fclink.Start{})
	case "m":
		m.enqueue(fclink.StartManual{})
	case "x":
		m.enqueue(fclink.Stop{})
	case " ":
		m.enqueue(fclink.EmergencyStop{})
	case "k":
		m.enqueue(fclink.Calibrate{})
	case "r":
		m.enqueue(fclink.Reset{})
	case "p":
		m.st.PushConfig()
		m.status = "config queued"
	case "up":
		m.st.Controls.AdjustThrottle(throttleStep)
	case "down":
		m.st.Controls.AdjustThrottle(-throttleStep)
	case "w":
		m.st.Controls.AdjustAttitude(0, attitudeStep, 0)
	case "s":
		m.st.Controls.AdjustAttitude(0, -attitudeStep, 0)
	case "a":
		m.st.Controls.AdjustAttitude(-attitudeStep, 0, 0)
	case "d":
		m.st.Controls.AdjustAttitude(attitudeStep, 0, 0)
	case "q":
		m.st.Controls.AdjustAttitude(0, 0, -attitudeStep)
	case "e":
		m.st.Controls.AdjustAttitude(0, 0, attitudeStep)
	case "T":
		m.st.SendSticks()
		m.status = "sticks queued"
	case "t":
		return m, m.prompt(actionTune)
	case "h":
		return m, m.prompt(actionHistory)
	case "u":
		entry, err := m.st.UndoTuning()
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("restored gains from %s (%s)", entry.Time.Format("15:04:05"), entry.Note)
	case "b":
		return m, m.prompt(actionMotor)
	case "l":
		m.st.Telemetry.ClearTelemetry()
		m.table.SetRows(nil)
		m.status = "telemetry cleared"
	case "L":
		m.st.Telemetry.ClearLogs()
	case "/":
		return m, m.prompt(actionSend)
	}
	return m, nil
}

func (m *Model) enqueue(cmd fclink.Command) {
	m.st.Enqueue(cmd)
	m.status = fmt.Sprintf("queued %s", cmd.Kind())
}

// parseSend parses "<address> <payload>"
func parseSend(s string) (uint16, string, error) {
	fields := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(fields) != 2 || strings.TrimSpace(fields[1]) == "" {
		return 0, "", errors.New("enter: <address> <payload>")
	}
	address, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return 0, "", fmt.Errorf("invalid address %q", fields[0])
	}
	return uint16(address), strings.TrimSpace(fields[1]), nil
}

// parseTune parses "<axis> <P> <I> <D> [<ILimit> <PIDLimit>]". The
// limits default to the current ones.
func parseTune(s string, current func(fclink.Axis) fclink.PIDGains) (fclink.Axis, fclink.PIDGains, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 && len(fields) != 6 {
		return 0, fclink.PIDGains{}, errors.New("enter: <axis> <P> <I> <D> [<ILimit> <PIDLimit>]")
	}
	var axis fclink.Axis
	switch strings.ToLower(fields[0]) {
	case "roll", "r":
		axis = fclink.AxisRoll
	case "pitch", "p":
		axis = fclink.AxisPitch
	case "yaw", "y":
		axis = fclink.AxisYaw
	default:
		return 0, fclink.PIDGains{}, fmt.Errorf("invalid axis %q", fields[0])
	}
	values := make([]float32, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return 0, fclink.PIDGains{}, fmt.Errorf("invalid number %q", f)
		}
		values[i] = float32(v)
	}
	gains := current(axis)
	gains.P, gains.I, gains.D = values[0], values[1], values[2]
	if len(values) == 5 {
		gains.ILimit, gains.PIDLimit = values[3], values[4]
	}
	return axis, gains, nil
}

// parseMotor parses "<motors> <throttle>", where motors is a motor
// number, a pair of them ("13", "24") or "all"
func parseMotor(s string) ([]int, float32, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return nil, 0, errors.New("enter: <1-4|13|24|all> <throttle>")
	}
	var motors []int
	if fields[0] == "all" {
		motors = []int{0, 1, 2, 3}
	} else {
		for _, c := range fields[0] {
			if c < '1' || c > '4' {
				return nil, 0, fmt.Errorf("invalid motor %q", fields[0])
			}
			motors = append(motors, int(c-'1'))
		}
	}
	v, err := strconv.ParseFloat(fields[1], 32)
	if err != nil || v < 0 || v > 1 {
		return nil, 0, fmt.Errorf("invalid throttle %q", fields[1])
	}
	return motors, float32(v), nil
}

func telemetryRows(tl *fclink.TelemetryLog) []table.Row {
	rec, ok := tl.Latest()
	if !ok {
		return nil
	}
	row := func(name string, angle float32, pid fclink.PIDState) table.Row {
		return table.Row{
			name,
			fmt.Sprintf("%.1f°", degrees(angle)),
			fmt.Sprintf("%.3f", pid.P),
			fmt.Sprintf("%.3f", pid.I),
			fmt.Sprintf("%.3f", pid.D),
		}
	}
	return []table.Row{
		row("Roll", rec.Roll, rec.RollPID),
		row("Pitch", rec.Pitch, rec.PitchPID),
		row("Yaw", rec.Yaw, rec.YawPID),
	}
}

func degrees(rad float32) float64 {
	return float64(rad) * 180 / math.Pi
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("groundlink") + "  " + m.linkView() + "\n\n")

	if m.st.Queue.EmergencyStopActive() {
		b.WriteString(estopStyle.Render(" EMERGENCY STOP ") + dimStyle.Render("  r to reset") + "\n\n")
	}

	b.WriteString(headerStyle.Render("Telemetry") + "\n")
	b.WriteString(m.telemetryView() + "\n")
	b.WriteString(m.table.View() + "\n\n")

	b.WriteString(headerStyle.Render("Sticks") + "\n")
	hb := m.st.Controls.Snapshot()
	fmt.Fprintf(&b, "throttle %3.0f%%  roll %.1f°  pitch %.1f°  yaw %.1f°\n\n",
		hb.Throttle*100, degrees(hb.Roll), degrees(hb.Pitch), degrees(hb.Yaw))

	b.WriteString(headerStyle.Render("Settings") + "\n")
	b.WriteString(m.settingsView() + "\n\n")

	b.WriteString(headerStyle.Render("Queue") + "\n")
	b.WriteString(m.queueView() + "\n")

	b.WriteString(headerStyle.Render("Log") + "\n")
	b.WriteString(m.logView() + "\n")

	if m.entering {
		b.WriteString("\n" + prompts[m.action].prompt + m.input.View() + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(okStyle.Render(m.status) + "\n")
	b.WriteString(dimStyle.Render(help))
	return b.String()
}

func (m Model) linkView() string {
	band := humanize.SIWithDigits(float64(m.st.Config().Radio.Band), 1, "Hz")
	if m.st.Connecting() {
		return fmt.Sprintf("connecting to %s", m.port)
	}
	stats, ok := m.st.Stats()
	if !ok {
		return dimStyle.Render(fmt.Sprintf("disconnected (%s, %s)", displayPort(m.port), band))
	}
	last := "never"
	if !stats.LastFrame.IsZero() {
		last = humanize.Time(stats.LastFrame)
	}
	return okStyle.Render(fmt.Sprintf("%s @ %s", m.st.Port(), band)) + fmt.Sprintf(
		"  rx %s  tx %s  frames %s  dropped %d  sends %d/%d  rssi %d dBm  snr %d dB  last %s",
		humanize.Bytes(stats.BytesIn), humanize.Bytes(stats.BytesOut),
		humanize.Comma(int64(stats.Frames)), stats.Dropped,
		stats.SendsOK, stats.SendsOK+stats.SendsFailed,
		stats.LastRSSI, stats.LastSNR, last)
}

func displayPort(port string) string {
	if port == "" {
		return "no port"
	}
	return port
}

func (m Model) telemetryView() string {
	rec, ok := m.st.Telemetry.Latest()
	if !ok {
		return dimStyle.Render("no telemetry")
	}
	var flags []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"armed", rec.Flags.Armed},
		{"manual", rec.Flags.Manual},
		{"estop", rec.Flags.EmergencyStop},
		{"calibrating", rec.Flags.Calibrating},
		{"low battery", rec.Flags.LowBattery},
		{"imu fault", rec.Flags.IMUFault},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("%s  t+%s  %.2fV  alt %.2fm  throttle %3.0f%%  motors %.2f %.2f %.2f %.2f  [%s]",
		rec.State, time.Duration(rec.TimestampMs)*time.Millisecond,
		rec.BatteryVoltage, rec.Altitude, rec.Throttle*100,
		rec.Motors[0], rec.Motors[1], rec.Motors[2], rec.Motors[3],
		strings.Join(flags, ", "))
}

func (m Model) settingsView() string {
	snap := m.st.Settings.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "motors %.2f %.2f %.2f %.2f", snap.MotorThrottles[0], snap.MotorThrottles[1],
		snap.MotorThrottles[2], snap.MotorThrottles[3])
	for _, axis := range []fclink.Axis{fclink.AxisRoll, fclink.AxisPitch, fclink.AxisYaw} {
		g := m.st.Settings.PID(axis)
		fmt.Fprintf(&b, "  %s %g/%g/%g", axis, g.P, g.I, g.D)
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		fmt.Fprintf(&b, "\n%s", dimStyle.Render(fmt.Sprintf("history %d, last %s %q", n, humanize.Time(last.Time), last.Note)))
	}
	return b.String()
}

func (m Model) queueView() string {
	pending := m.st.Queue.Pending()
	if len(pending) == 0 {
		return dimStyle.Render("empty")
	}
	var lines []string
	for i, qc := range pending {
		if i == queueTail {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("... %d more", len(pending)-queueTail)))
			break
		}
		lines = append(lines, fmt.Sprintf("%d <- %s", qc.Address, qc.Command.Kind()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) logView() string {
	logs := m.st.Telemetry.Logs()
	if len(logs) == 0 {
		return dimStyle.Render("empty")
	}
	if len(logs) > logTail {
		logs = logs[len(logs)-logTail:]
	}
	lines := make([]string, len(logs))
	for i, entry := range logs {
		lines[i] = dimStyle.Render(entry.Time.Format("15:04:05")) + " " + entry.Message
	}
	return strings.Join(lines, "\n")
}

func defaultTableStyles() table.Styles {
	s := table.Styles{}
	s.Header = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Cell = lipgloss.NewStyle().PaddingRight(1)
	return s
}
