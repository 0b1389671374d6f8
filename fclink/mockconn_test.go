package fclink

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// mockConn is an in memory radio module. Reads return the queued
// chunks one at a time and behave like a timed out serial read when
// there's nothing queued. Every complete line written is recorded and
// passed to respond, whose return value is queued for reading.
type mockConn struct {
	mu      sync.Mutex
	chunks  [][]byte
	partial bytes.Buffer
	lines   []string
	respond func(line string) string
	closed  bool
}

func newMockConn(respond func(line string) string) *mockConn {
	return &mockConn{respond: respond}
}

func okResponder(line string) string {
	return "+OK\r\n"
}

func (c *mockConn) feed(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range chunks {
		c.chunks = append(c.chunks, []byte(v))
	}
}

func (c *mockConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	if len(c.chunks) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	chunk := c.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.chunks[0] = chunk[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	c.mu.Unlock()
	return n, nil
}

func (c *mockConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	c.partial.Write(p)
	for {
		text := c.partial.String()
		idx := strings.Index(text, "\r\n")
		if idx < 0 {
			break
		}
		line := text[:idx]
		c.partial.Reset()
		c.partial.WriteString(text[idx+2:])
		c.lines = append(c.lines, line)
		if c.respond != nil {
			if resp := c.respond(line); resp != "" {
				c.chunks = append(c.chunks, []byte(resp))
			}
		}
	}
	return len(p), nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
