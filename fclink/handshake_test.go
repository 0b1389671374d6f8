package fclink

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRadioCommands(t *testing.T) {
	cfg := DefaultRadioConfig()
	assert.Equal(t, []string{
		"AT",
		"AT+ADDRESS=1",
		"AT+NETWORKID=6",
		"AT+BAND=915000000",
		"AT+PARAMETER=9,7,1,4",
	}, cfg.Commands())
	assert.NoError(t, cfg.Validate())
}

func TestRadioConfigValidate(t *testing.T) {
	cfg := DefaultRadioConfig()
	cfg.SpreadingFactor = 13
	assert.Error(t, cfg.Validate())

	cfg = DefaultRadioConfig()
	cfg.CodingRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultRadioConfig()
	cfg.MinFirmware = "not a version"
	assert.Error(t, cfg.Validate())
}

func TestInitialize(t *testing.T) {
	conn := newMockConn(okResponder)
	cfg := DefaultRadioConfig()
	require.NoError(t, Initialize(conn, cfg, WithCommandDelay(0)))
	assert.Equal(t, cfg.Commands(), conn.written())
}

func TestInitializeModuleError(t *testing.T) {
	conn := newMockConn(func(line string) string {
		if strings.HasPrefix(line, "AT+BAND") {
			return "+ERR=4\r\n"
		}
		return "+OK\r\n"
	})
	err := Initialize(conn, DefaultRadioConfig(), WithCommandDelay(0))
	require.Error(t, err)
	var me *ModuleError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 4, me.Code)
	assert.Contains(t, err.Error(), "AT+BAND=915000000")
	assert.Contains(t, err.Error(), "unknown command")
	assert.Len(t, conn.written(), 4)
}

func TestInitializeTimeout(t *testing.T) {
	conn := newMockConn(func(line string) string {
		if line == "AT" {
			return "+OK\r\n"
		}
		return ""
	})
	err := Initialize(conn, DefaultRadioConfig(), WithCommandDelay(0), WithResponseTimeout(30*time.Millisecond))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Len(t, conn.written(), 2)
}

func TestInitializeIgnoresNoise(t *testing.T) {
	conn := newMockConn(okResponder)
	conn.feed("+READY\r\n")
	require.NoError(t, Initialize(conn, DefaultRadioConfig(), WithCommandDelay(0)))
}

func TestAwaitResponseSplitReads(t *testing.T) {
	conn := newMockConn(nil)
	conn.feed("+O", "K\r", "\n")
	line, err := awaitResponse(conn, okToken, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "+OK", line)
}

func TestAwaitResponseForwardsReceived(t *testing.T) {
	conn := newMockConn(nil)
	conn.feed("+RCV=1,7,LOG:abc,-40,9\r\n+OK\r\n")
	var received []string
	_, err := awaitResponse(conn, okToken, time.Second, func(line string) {
		received = append(received, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"+RCV=1,7,LOG:abc,-40,9"}, received)
}

func versionResponder(ver string) func(string) string {
	return func(line string) string {
		if line == versionQuery {
			return "+VER=RYLR89C_V" + ver + "\r\n"
		}
		return "+OK\r\n"
	}
}

func TestInitializeFirmwareCheck(t *testing.T) {
	cfg := DefaultRadioConfig()
	cfg.MinFirmware = "1.2.0"

	conn := newMockConn(versionResponder("1.2.7"))
	require.NoError(t, Initialize(conn, cfg, WithCommandDelay(0)))
	written := conn.written()
	assert.Equal(t, versionQuery, written[len(written)-1])

	conn = newMockConn(versionResponder("1.1.9"))
	err := Initialize(conn, cfg, WithCommandDelay(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older")
}
