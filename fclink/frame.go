package fclink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	rcvMarker = "+RCV"
	rcvPrefix = "+RCV="

	logPrefix           = "LOG:"
	configRequestPrefix = "CF?"

	// DefaultMaxLineSize bounds the parser buffer when no newline shows up
	DefaultMaxLineSize = 4096
)

var (
	// ErrMalformedEnvelope is returned by ParseEnvelope for lines that
	// are not well formed +RCV notifications
	ErrMalformedEnvelope = errors.New("malformed +RCV envelope")
)

// FrameKind classifies the payload of a received envelope
type FrameKind int

const (
	FrameTelemetry FrameKind = iota + 1
	FrameLog
	FrameConfigRequest
	FrameResponse
)

func (f FrameKind) String() string {
	switch f {
	case FrameTelemetry:
		return "Telemetry"
	case FrameLog:
		return "Log"
	case FrameConfigRequest:
		return "ConfigRequest"
	case FrameResponse:
		return "Response"
	}
	return fmt.Sprintf("unknown FrameKind %d", int(f))
}

// Envelope is a parsed "+RCV=<addr>,<len>,<payload>,<rssi>,<snr>" line.
// The length field is kept as reported by the module, it is not
// checked against the payload.
type Envelope struct {
	Address uint16
	Length  int
	Payload string
	RSSI    int
	SNR     int
}

// Kind returns the payload classification
func (e *Envelope) Kind() FrameKind {
	switch {
	case strings.HasPrefix(e.Payload, telemetryPrefix):
		return FrameTelemetry
	case strings.HasPrefix(e.Payload, logPrefix):
		return FrameLog
	case strings.HasPrefix(e.Payload, configRequestPrefix):
		return FrameConfigRequest
	}
	return FrameResponse
}

// LogMessage returns the text of a LOG: payload
func (e *Envelope) LogMessage() string {
	return strings.TrimSpace(strings.TrimPrefix(e.Payload, logPrefix))
}

func malformed(line string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s (%q)", ErrMalformedEnvelope, fmt.Sprintf(format, args...), line)
}

// ParseEnvelope parses a +RCV line, which must have exactly five
// comma separated fields.
func ParseEnvelope(line string) (*Envelope, error) {
	if !strings.HasPrefix(line, rcvPrefix) {
		return nil, malformed(line, "missing %s prefix", rcvPrefix)
	}
	fields := strings.Split(line[len(rcvPrefix):], ",")
	n := len(fields)
	if n != 5 {
		return nil, malformed(line, "%d fields, expecting 5", n)
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 16)
	if err != nil {
		return nil, malformed(line, "address: %v", err)
	}
	length, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, malformed(line, "length: %v", err)
	}
	rssi, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return nil, malformed(line, "rssi: %v", err)
	}
	snr, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return nil, malformed(line, "snr: %v", err)
	}
	return &Envelope{
		Address: uint16(addr),
		Length:  length,
		Payload: fields[2],
		RSSI:    rssi,
		SNR:     snr,
	}, nil
}

// Parser splits the byte stream coming from the radio module into
// trimmed lines. It resynchronizes on the last +RCV marker seen, so
// a torn or garbled envelope never swallows the next good one.
// Parser is not safe for concurrent use.
type Parser struct {
	buf     string
	maxSize int

	discarded int
}

// NewParser returns a Parser which drops its buffer when it grows
// past maxSize bytes without a newline. A maxSize <= 0 selects
// DefaultMaxLineSize.
func NewParser(maxSize int) *Parser {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}
	return &Parser{maxSize: maxSize}
}

// Feed appends data to the buffer and returns every complete line,
// without surrounding whitespace. Empty lines are skipped.
func (p *Parser) Feed(data []byte) []string {
	if p.maxSize <= 0 {
		p.maxSize = DefaultMaxLineSize
	}
	chunk := string(data)
	if valid := strings.ToValidUTF8(chunk, ""); len(valid) != len(chunk) {
		p.discarded += len(chunk) - len(valid)
		chunk = valid
	}
	p.buf += chunk
	if idx := strings.LastIndex(p.buf, rcvMarker); idx > 0 {
		p.discarded += idx
		p.buf = p.buf[idx:]
	}
	var lines []string
	for {
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(p.buf) > p.maxSize {
		p.discarded += len(p.buf)
		p.buf = ""
	}
	return lines
}

// Pending returns the number of buffered bytes not yet part of a line
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Discarded returns the number of bytes dropped while resynchronizing
func (p *Parser) Discarded() int {
	return p.discarded
}

// Reset drops any buffered data
func (p *Parser) Reset() {
	p.buf = ""
}
