package fclink

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"groundlink/internal/radioversion"
)

const (
	okToken      = "+OK"
	errPrefix    = "+ERR="
	versionQuery = "AT+VER?"
	versionReply = "+VER="

	// DefaultResponseTimeout bounds the wait for a reply to a single
	// AT command
	DefaultResponseTimeout = 2 * time.Second
	// DefaultCommandDelay gives the module time to apply a setting
	// before the next command
	DefaultCommandDelay = 100 * time.Millisecond

	idlePollDelay = 10 * time.Millisecond
)

var (
	// ErrTimeout is returned when a method expecting a response
	// times out
	ErrTimeout = errors.New("timeout")
)

var moduleErrorText = map[int]string{
	1:  "missing CR LF",
	2:  "command doesn't start with AT",
	3:  "missing = in command",
	4:  "unknown command",
	10: "TX over time",
	11: "RX over time",
	12: "CRC error",
	13: "TX data exceeds 240 bytes",
	15: "unknown error",
}

// ModuleError is a +ERR=<code> reply from the radio module
type ModuleError struct {
	Code int
}

func (e *ModuleError) Error() string {
	if text, ok := moduleErrorText[e.Code]; ok {
		return fmt.Sprintf("radio module error %d: %s", e.Code, text)
	}
	return fmt.Sprintf("radio module error %d", e.Code)
}

// RadioConfig holds the settings applied to the module when the
// link is initialized
type RadioConfig struct {
	Address         uint16
	NetworkID       int
	Band            int
	SpreadingFactor int
	Bandwidth       int
	CodingRate      int
	Preamble        int
	// MinFirmware, when not empty, makes Initialize query the module
	// firmware version and fail if it's older
	MinFirmware string
}

// DefaultRadioConfig returns the settings the flight controller
// radio ships with
func DefaultRadioConfig() *RadioConfig {
	return &RadioConfig{
		Address:         1,
		NetworkID:       6,
		Band:            915000000,
		SpreadingFactor: 9,
		Bandwidth:       7,
		CodingRate:      1,
		Preamble:        4,
	}
}

// Validate checks the values against the ranges the module accepts
func (c *RadioConfig) Validate() error {
	switch {
	case c.NetworkID < 0 || c.NetworkID > 16:
		return fmt.Errorf("network id %d out of range 0-16", c.NetworkID)
	case c.Band <= 0:
		return fmt.Errorf("invalid band %d", c.Band)
	case c.SpreadingFactor < 7 || c.SpreadingFactor > 12:
		return fmt.Errorf("spreading factor %d out of range 7-12", c.SpreadingFactor)
	case c.Bandwidth < 0 || c.Bandwidth > 9:
		return fmt.Errorf("bandwidth %d out of range 0-9", c.Bandwidth)
	case c.CodingRate < 1 || c.CodingRate > 4:
		return fmt.Errorf("coding rate %d out of range 1-4", c.CodingRate)
	case c.Preamble < 4 || c.Preamble > 24:
		return fmt.Errorf("preamble %d out of range 4-24", c.Preamble)
	}
	if c.MinFirmware != "" {
		if _, err := radioversion.Parse(c.MinFirmware); err != nil {
			return fmt.Errorf("minimum firmware: %w", err)
		}
	}
	return nil
}

// Commands returns the configuration commands, without line terminators,
// in the order they're sent
func (c *RadioConfig) Commands() []string {
	return []string{
		"AT",
		fmt.Sprintf("AT+ADDRESS=%d", c.Address),
		fmt.Sprintf("AT+NETWORKID=%d", c.NetworkID),
		fmt.Sprintf("AT+BAND=%d", c.Band),
		fmt.Sprintf("AT+PARAMETER=%d,%d,%d,%d", c.SpreadingFactor, c.Bandwidth, c.CodingRate, c.Preamble),
	}
}

type handshakeOptions struct {
	responseTimeout time.Duration
	commandDelay    time.Duration
}

// HandshakeOption customizes Initialize
type HandshakeOption func(*handshakeOptions)

// WithResponseTimeout sets how long to wait for each reply
func WithResponseTimeout(d time.Duration) HandshakeOption {
	return func(o *handshakeOptions) {
		o.responseTimeout = d
	}
}

// WithCommandDelay sets the pause after each acknowledged command
func WithCommandDelay(d time.Duration) HandshakeOption {
	return func(o *handshakeOptions) {
		o.commandDelay = d
	}
}

func writeLine(w io.Writer, line string) error {
	log.Debugf("=> %s", line)
	_, err := w.Write([]byte(line + "\r\n"))
	return err
}

// parseErrorReply converts a "+ERR=<code>" line into a *ModuleError
func parseErrorReply(line string) error {
	code, err := strconv.Atoi(strings.TrimSpace(line[len(errPrefix):]))
	if err != nil {
		return fmt.Errorf("invalid error reply %q", line)
	}
	return &ModuleError{Code: code}
}

// awaitResponse reads from r until a complete line containing expected
// arrives. +ERR replies fail immediately, +RCV notifications are handed
// to onReceive and any other line is ignored.
func awaitResponse(r io.Reader, expected string, timeout time.Duration, onReceive func(string)) (string, error) {
	var acc strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		n, err := r.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			time.Sleep(idlePollDelay)
			continue
		}
		log.Tracef("<= %q", buf[:n])
		acc.Write(buf[:n])
		text := acc.String()
		if !strings.HasSuffix(text, "\r\n") {
			continue
		}
		acc.Reset()
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case strings.HasPrefix(line, errPrefix):
				return "", parseErrorReply(line)
			case strings.Contains(line, expected):
				log.Debugf("<= %s", line)
				return line, nil
			case strings.HasPrefix(line, rcvMarker) && onReceive != nil:
				onReceive(line)
			default:
				log.Debugf("ignoring %q while waiting for %s", line, expected)
			}
		}
	}
}

// Initialize configures the radio module, sending every command in
// cfg.Commands() and waiting for each to be acknowledged. It fails
// on the first error reply or timeout.
func Initialize(rw io.ReadWriter, cfg *RadioConfig, opts ...HandshakeOption) error {
	o := handshakeOptions{
		responseTimeout: DefaultResponseTimeout,
		commandDelay:    DefaultCommandDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	for _, cmd := range cfg.Commands() {
		if err := writeLine(rw, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if _, err := awaitResponse(rw, okToken, o.responseTimeout, nil); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if o.commandDelay > 0 {
			time.Sleep(o.commandDelay)
		}
	}
	if cfg.MinFirmware != "" {
		if err := checkFirmware(rw, cfg.MinFirmware, o.responseTimeout); err != nil {
			return err
		}
	}
	log.Infof("radio configured: address %d, network %d, band %d", cfg.Address, cfg.NetworkID, cfg.Band)
	return nil
}

func checkFirmware(rw io.ReadWriter, minimum string, timeout time.Duration) error {
	if err := writeLine(rw, versionQuery); err != nil {
		return fmt.Errorf("%s: %w", versionQuery, err)
	}
	line, err := awaitResponse(rw, versionReply, timeout, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", versionQuery, err)
	}
	reported := line[strings.Index(line, versionReply)+len(versionReply):]
	ok, err := radioversion.AtLeast(reported, minimum)
	if err != nil {
		return fmt.Errorf("%s: %w", versionQuery, err)
	}
	if !ok {
		return fmt.Errorf("radio firmware %s is older than the required %s", reported, minimum)
	}
	log.Debugf("radio firmware %s", reported)
	return nil
}
