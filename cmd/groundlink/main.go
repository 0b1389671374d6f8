package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"groundlink/fclink"
	"groundlink/internal/config"
	"groundlink/internal/settings"
	"groundlink/internal/simulator"
	"groundlink/internal/station"
	"groundlink/internal/tui"
)

const defaultConfigFile = "groundlink.yaml"

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg, err := config.LoadConfig(defaultConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func listPorts() error {
	ports, err := fclink.AvailablePorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func run(cfg *config.Config, port string) error {
	if cfg.Settings.LogFile != "" {
		f, err := os.OpenFile(cfg.Settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		log.SetOutput(f)
	}

	st, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return err
	}
	if port == "" {
		if ports, err := fclink.AvailablePorts(); err == nil && len(ports) > 0 {
			port = ports[0]
		}
	}
	log.Infof("starting with port %q", port)

	s := station.New(cfg, st)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	_, err = tea.NewProgram(tui.New(s, port), tea.WithAltScreen()).Run()
	cancel()
	<-done
	return err
}

func main() {
	cfgPath := flag.String("c", "", "Configuration file (default "+defaultConfigFile+" if present)")
	port := flag.String("port", "", "Serial port the radio is attached to")
	list := flag.Bool("list", false, "List the available ports and exit")
	loopback := flag.Bool("loopback", false, "Connect to a simulated radio and flight controller")
	debug := flag.Bool("debug", false, "Set logging level to debug")
	trace := flag.Bool("trace", false, "Set logging level to trace. Implies debug.")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if *trace || os.Getenv("GROUNDLINK_TRACE") != "" {
		log.SetLevel(log.TraceLevel)
	} else if *debug || os.Getenv("GROUNDLINK_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(cfg.LogLevel())
	}

	if *list {
		if err := listPorts(); err != nil {
			log.Fatal(err)
		}
		return
	}
	if *loopback {
		radio, err := simulator.Listen("127.0.0.1:0", cfg.Link.RemoteAddress, simulator.DefaultTelemetryPeriod)
		if err != nil {
			log.Fatal(err)
		}
		defer radio.Close()
		*port = radio.Port()
	}
	if *port == "" {
		*port = cfg.Serial.Port
	}
	if err := run(cfg, *port); err != nil {
		log.Fatal(err)
	}
}
