package fclink

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// MaxPayloadSize is the largest payload the radio module can send
	MaxPayloadSize = 240

	requestQueueSize  = 8
	readBufferSize    = 256
	readErrorBackoff  = 100 * time.Millisecond
	DefaultAckTimeout = 2 * time.Second
)

var (
	// ErrClosed is returned when using a Link after Disconnect
	ErrClosed = errors.New("link closed")
	// ErrBusy is returned by Send when the worker has too many
	// requests pending
	ErrBusy = errors.New("link busy")
	// ErrPayloadTooLarge is returned by Send for payloads the radio
	// module can't transmit
	ErrPayloadTooLarge = errors.New("payload too large")
)

type sendRequest struct {
	Address uint16
	Data    string
}

// LinkStats are the counters of a Link
type LinkStats struct {
	BytesIn     uint64
	BytesOut    uint64
	Frames      uint64
	Dropped     uint64
	SendsOK     uint64
	SendsFailed uint64
	// Bytes discarded by the parser while resynchronizing
	Discarded uint64
	LastRSSI  int
	LastSNR   int
	LastFrame time.Time
}

type linkStats struct {
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	frames      atomic.Uint64
	dropped     atomic.Uint64
	sendsOK     atomic.Uint64
	sendsFailed atomic.Uint64
	discarded   atomic.Uint64
	lastRSSI    atomic.Int64
	lastSNR     atomic.Int64
	lastFrame   atomic.Int64
}

type linkOptions struct {
	baudRate    int
	readTimeout time.Duration
	ackTimeout  time.Duration
	maxPayload  int
	maxLineSize int
	handshake   []HandshakeOption
}

// Option customizes a Link
type Option func(*linkOptions)

// WithBaudRate sets the serial port speed
func WithBaudRate(baud int) Option {
	return func(o *linkOptions) { o.baudRate = baud }
}

// WithReadTimeout sets the timeout for each read, which is also the
// maximum latency for a Disconnect to be honored
func WithReadTimeout(d time.Duration) Option {
	return func(o *linkOptions) { o.readTimeout = d }
}

// WithAckTimeout sets how long to wait for +OK after AT+SEND
func WithAckTimeout(d time.Duration) Option {
	return func(o *linkOptions) { o.ackTimeout = d }
}

// WithMaxPayload lowers the maximum payload accepted by Send
func WithMaxPayload(n int) Option {
	return func(o *linkOptions) { o.maxPayload = n }
}

// WithMaxLineSize sets the parser buffer limit
func WithMaxLineSize(n int) Option {
	return func(o *linkOptions) { o.maxLineSize = n }
}

// WithHandshakeOptions passes opts to Initialize
func WithHandshakeOptions(opts ...HandshakeOption) Option {
	return func(o *linkOptions) { o.handshake = append(o.handshake, opts...) }
}

func newLinkOptions(opts []Option) linkOptions {
	o := linkOptions{
		baudRate:    DefaultBaudRate,
		readTimeout: DefaultReadTimeout,
		ackTimeout:  DefaultAckTimeout,
		maxPayload:  MaxPayloadSize,
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxPayload <= 0 || o.maxPayload > MaxPayloadSize {
		o.maxPayload = MaxPayloadSize
	}
	return o
}

// Link is an active connection to the radio module. A single worker
// goroutine owns the port: it writes the requests made with Send and
// decodes everything received into a TelemetryLog. Use Connect to
// start a new Link.
type Link struct {
	conn   connection
	out    *TelemetryLog
	opts   linkOptions
	parser *Parser

	requests chan sendRequest
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	stats linkStats
}

// Connect opens the given port, configures the radio module and
// starts the worker. If the module can't be configured the port is
// closed and no worker is left running.
func Connect(port string, cfg *RadioConfig, out *TelemetryLog, opts ...Option) (*Link, error) {
	o := newLinkOptions(opts)
	conn, err := openConnection(port, o.baudRate, o.readTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", port, err)
	}
	if err := Initialize(conn, cfg, o.handshake...); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring radio on %s: %w", port, err)
	}
	l := newLink(conn, out, o)
	go l.run()
	log.Infof("connected to %s", port)
	return l, nil
}

func newLink(conn connection, out *TelemetryLog, o linkOptions) *Link {
	return &Link{
		conn:     conn,
		out:      out,
		opts:     o,
		parser:   NewParser(o.maxLineSize),
		requests: make(chan sendRequest, requestQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Send asks the worker to transmit data to address. The payload
// size is checked right away, the transmission outcome is only
// logged.
func (l *Link) Send(address uint16, data string) error {
	if len(data) > l.opts.maxPayload {
		return fmt.Errorf("%w: %d bytes, maximum is %d", ErrPayloadTooLarge, len(data), l.opts.maxPayload)
	}
	if !l.IsConnected() {
		return ErrClosed
	}
	select {
	case l.requests <- sendRequest{Address: address, Data: data}:
		return nil
	default:
		return ErrBusy
	}
}

// IsConnected returns true until Disconnect is called or the
// worker exits
func (l *Link) IsConnected() bool {
	select {
	case <-l.quit:
		return false
	case <-l.done:
		return false
	default:
		return true
	}
}

// Disconnect asks the worker to close the port and waits until it
// has exited. It's safe to call more than once.
func (l *Link) Disconnect() {
	l.quitOnce.Do(func() {
		close(l.quit)
	})
	<-l.done
}

// Done returns a channel that's closed once the worker has exited
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Stats returns a snapshot of the link counters
func (l *Link) Stats() LinkStats {
	st := LinkStats{
		BytesIn:     l.stats.bytesIn.Load(),
		BytesOut:    l.stats.bytesOut.Load(),
		Frames:      l.stats.frames.Load(),
		Dropped:     l.stats.dropped.Load(),
		SendsOK:     l.stats.sendsOK.Load(),
		SendsFailed: l.stats.sendsFailed.Load(),
		Discarded:   l.stats.discarded.Load(),
		LastRSSI:    int(l.stats.lastRSSI.Load()),
		LastSNR:     int(l.stats.lastSNR.Load()),
	}
	if ts := l.stats.lastFrame.Load(); ts != 0 {
		st.LastFrame = time.Unix(0, ts)
	}
	return st
}

func (l *Link) run() {
	defer close(l.done)
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-l.quit:
			if err := l.conn.Close(); err != nil {
				log.Warnf("error closing port: %v", err)
			}
			log.Infof("disconnected")
			return
		case req := <-l.requests:
			l.send(req, buf)
		default:
		}
		n, err := l.conn.Read(buf)
		if err != nil {
			log.Warnf("error reading from port: %v", err)
			time.Sleep(readErrorBackoff)
			continue
		}
		if n > 0 {
			l.stats.bytesIn.Add(uint64(n))
			l.processBytes(buf[:n])
		}
	}
}

func (l *Link) send(req sendRequest, buf []byte) {
	line := fmt.Sprintf("AT+SEND=%d,%d,%s", req.Address, len(req.Data), req.Data)
	if err := writeLine(l.conn, line); err != nil {
		l.stats.sendsFailed.Add(1)
		log.Warnf("error sending to %d: %v", req.Address, err)
		return
	}
	l.stats.bytesOut.Add(uint64(len(line) + 2))
	if err := l.awaitAck(buf); err != nil {
		l.stats.sendsFailed.Add(1)
		log.Warnf("sending %q to %d failed: %v", req.Data, req.Address, err)
		return
	}
	l.stats.sendsOK.Add(1)
	log.Debugf("sent %q to %d", req.Data, req.Address)
}

// awaitAck reads until the module acknowledges the last AT+SEND.
// Everything read meanwhile also goes through the frame parser, so
// envelopes arriving before or after the reply in the same read are
// still delivered.
func (l *Link) awaitAck(buf []byte) error {
	var pending string
	deadline := time.Now().Add(l.opts.ackTimeout)
	for time.Now().Before(deadline) {
		n, err := l.conn.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(idlePollDelay)
			continue
		}
		l.stats.bytesIn.Add(uint64(n))
		l.processBytes(buf[:n])

		pending += string(buf[:n])
		var result error
		acked := false
		for !acked {
			idx := strings.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimSpace(pending[:idx])
			pending = pending[idx+1:]
			switch {
			case strings.HasPrefix(line, rcvMarker):
			case strings.HasPrefix(line, errPrefix):
				result, acked = parseErrorReply(line), true
			case strings.Contains(line, okToken):
				acked = true
			}
		}
		if acked {
			return result
		}
		if len(pending) > l.opts.maxLineSize {
			pending = ""
		}
	}
	return ErrTimeout
}

func (l *Link) processBytes(data []byte) {
	before := l.parser.Discarded()
	lines := l.parser.Feed(data)
	if discarded := l.parser.Discarded() - before; discarded > 0 {
		l.stats.discarded.Add(uint64(discarded))
		log.Debugf("discarded %d bytes while resynchronizing", discarded)
	}
	for _, line := range lines {
		l.processLine(line)
	}
}

func (l *Link) processLine(line string) {
	if !strings.HasPrefix(line, rcvMarker) {
		// Module replies, e.g. a late +OK
		log.Debugf("ignoring %q", line)
		return
	}
	env, err := ParseEnvelope(line)
	if err != nil {
		l.stats.dropped.Add(1)
		log.Warnf("dropping line: %v", err)
		return
	}
	now := time.Now()
	l.stats.frames.Add(1)
	l.stats.lastRSSI.Store(int64(env.RSSI))
	l.stats.lastSNR.Store(int64(env.SNR))
	l.stats.lastFrame.Store(now.UnixNano())
	switch env.Kind() {
	case FrameTelemetry:
		rec, err := DecodeTelemetry(env.Payload)
		if err != nil {
			l.stats.dropped.Add(1)
			log.Warnf("dropping telemetry from %d: %v", env.Address, err)
			return
		}
		rec.Received = now
		rec.From = env.Address
		rec.RSSI = env.RSSI
		rec.SNR = env.SNR
		l.out.Push(rec)
	case FrameLog:
		l.out.PushLog(LogEntry{Time: now, Message: env.LogMessage()})
	case FrameConfigRequest:
		log.Infof("%d requested its configuration", env.Address)
		l.out.RequestConfig()
	default:
		log.Debugf("response from %d: %s", env.Address, env.Payload)
		l.out.PushLog(LogEntry{Time: now, Message: fmt.Sprintf("[%d] %s", env.Address, env.Payload)})
	}
}
