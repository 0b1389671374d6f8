package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"groundlink/fclink"
)

// Config represents the main application configuration
type Config struct {
	Settings     Settings       `yaml:"settings"`
	Serial       SerialConfig   `yaml:"serial"`
	Radio        RadioConfig    `yaml:"radio"`
	Link         LinkConfig     `yaml:"link"`
	Buffers      BuffersConfig  `yaml:"buffers"`
	Recorder     RecorderConfig `yaml:"recorder"`
	SettingsFile string         `yaml:"settingsFile"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`
}

// SerialConfig selects the port the radio module is attached to
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baudRate"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
}

// RadioConfig mirrors fclink.RadioConfig
type RadioConfig struct {
	Address         uint16 `yaml:"address"`
	NetworkID       int    `yaml:"networkId"`
	Band            int    `yaml:"band"`
	SpreadingFactor int    `yaml:"spreadingFactor"`
	Bandwidth       int    `yaml:"bandwidth"`
	CodingRate      int    `yaml:"codingRate"`
	Preamble        int    `yaml:"preamble"`
	MinFirmware     string `yaml:"minFirmware"`
}

// LinkConfig controls what goes over the air
type LinkConfig struct {
	RemoteAddress     uint16        `yaml:"remoteAddress"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	AckTimeout        time.Duration `yaml:"ackTimeout"`
	ResponseTimeout   time.Duration `yaml:"responseTimeout"`
	CommandDelay      time.Duration `yaml:"commandDelay"`
	MaxPayload        int           `yaml:"maxPayload"`
}

// BuffersConfig sets the size of the in memory history
type BuffersConfig struct {
	Telemetry int `yaml:"telemetry"`
	Logs      int `yaml:"logs"`
}

// RecorderConfig enables the on disk flight recorder
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	radio := fclink.DefaultRadioConfig()
	return &Config{
		Settings: Settings{
			LogLevel: "info",
			LogFile:  "groundlink.log",
		},
		Serial: SerialConfig{
			BaudRate:    fclink.DefaultBaudRate,
			ReadTimeout: fclink.DefaultReadTimeout,
		},
		Radio: RadioConfig{
			Address:         radio.Address,
			NetworkID:       radio.NetworkID,
			Band:            radio.Band,
			SpreadingFactor: radio.SpreadingFactor,
			Bandwidth:       radio.Bandwidth,
			CodingRate:      radio.CodingRate,
			Preamble:        radio.Preamble,
		},
		Link: LinkConfig{
			RemoteAddress:     2,
			HeartbeatInterval: fclink.DefaultHeartbeatPeriod,
			AckTimeout:        fclink.DefaultAckTimeout,
			ResponseTimeout:   fclink.DefaultResponseTimeout,
			CommandDelay:      fclink.DefaultCommandDelay,
			MaxPayload:        fclink.MaxPayloadSize,
		},
		Buffers: BuffersConfig{
			Telemetry: fclink.DefaultMaxTelemetry,
			Logs:      fclink.DefaultMaxLogs,
		},
		Recorder: RecorderConfig{
			Path: "flights.db",
		},
		SettingsFile: "settings.yaml",
	}
}

// LoadConfig reads the YAML file at path on top of the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that can't work
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Settings.LogLevel); err != nil {
		return err
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.BaudRate)
	}
	if c.Link.MaxPayload <= 0 || c.Link.MaxPayload > fclink.MaxPayloadSize {
		return fmt.Errorf("max payload %d out of range 1-%d", c.Link.MaxPayload, fclink.MaxPayloadSize)
	}
	if c.Link.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.Buffers.Telemetry <= 0 || c.Buffers.Logs <= 0 {
		return errors.New("buffer sizes must be positive")
	}
	if c.Recorder.Enabled && c.Recorder.Path == "" {
		return errors.New("recorder enabled without a path")
	}
	return c.RadioConfig().Validate()
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Settings.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// RadioConfig returns the settings for fclink.Initialize
func (c *Config) RadioConfig() *fclink.RadioConfig {
	return &fclink.RadioConfig{
		Address:         c.Radio.Address,
		NetworkID:       c.Radio.NetworkID,
		Band:            c.Radio.Band,
		SpreadingFactor: c.Radio.SpreadingFactor,
		Bandwidth:       c.Radio.Bandwidth,
		CodingRate:      c.Radio.CodingRate,
		Preamble:        c.Radio.Preamble,
		MinFirmware:     c.Radio.MinFirmware,
	}
}

// LinkOptions returns the options for fclink.Connect
func (c *Config) LinkOptions() []fclink.Option {
	return []fclink.Option{
		fclink.WithBaudRate(c.Serial.BaudRate),
		fclink.WithReadTimeout(c.Serial.ReadTimeout),
		fclink.WithAckTimeout(c.Link.AckTimeout),
		fclink.WithMaxPayload(c.Link.MaxPayload),
		fclink.WithHandshakeOptions(
			fclink.WithResponseTimeout(c.Link.ResponseTimeout),
			fclink.WithCommandDelay(c.Link.CommandDelay),
		),
	}
}
