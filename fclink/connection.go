package fclink

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	tcpPrefix = "tcp:"

	// DefaultBaudRate is the factory UART speed of the radio module
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds every read performed by the link worker
	DefaultReadTimeout = 100 * time.Millisecond
)

// connection is the byte stream the link talks to. A Read that
// times out returns (0, nil).
type connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// tcpConnection adapts a net.Conn to the timeout semantics of
// a serial port, so a radio bridged over TCP behaves like a
// local one.
type tcpConnection struct {
	net.Conn
	readTimeout time.Duration
}

func (c *tcpConnection) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(p)
	var ne net.Error
	if err != nil && errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func openTCPConnection(addr string, readTimeout time.Duration) (connection, error) {
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &tcpConnection{Conn: c, readTimeout: readTimeout}, nil
}

func openSerialConnection(port string, baudRate int, readTimeout time.Duration) (connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(portName(port), mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func openConnection(name string, baudRate int, readTimeout time.Duration) (connection, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if strings.HasPrefix(name, tcpPrefix) {
		return openTCPConnection(name[len(tcpPrefix):], readTimeout)
	}
	return openSerialConnection(name, baudRate, readTimeout)
}

var (
	tcpPorts []string
)

// AvailablePorts returns the list of ports in the system
// that might have a radio module attached
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		if pe, ok := err.(*serial.PortError); ok {
			if pe.Code() == serial.ErrorEnumeratingPorts {
				// This happens on Windows when there are
				// no serial ports
				return append([]string(nil), tcpPorts...), nil
			}
		}
		return nil, err
	}
	filtered := filterPorts(ports)
	filtered = append(filtered, tcpPorts...)
	return filtered, nil
}

func init() {
	if tp := os.Getenv("GROUNDLINK_TCP_PORTS"); tp != "" {
		for _, v := range strings.Split(tp, ",") {
			tcpPorts = append(tcpPorts, tcpPrefix+v)
		}
	}
}
