package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"can29/host/axis"
	"can29/host/bus"
	"can29/host/capture"
	"can29/host/config"
	"can29/host/serial"
	"can29/host/sim"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	device      = flag.String("device", "/dev/ttyUSB0", "Serial device path (without -config)")
	baud        = flag.Int("baud", 0, "Baud rate override")
	captureFile = flag.String("capture", "", "Append a CBOR protocol capture to this file")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	replayFile  = flag.String("replay", "", "Print a capture file and exit")
	simulate    = flag.Bool("simulate", false, "Talk to simulated axes instead of a serial port")
	verbose     = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *replayFile != "" {
		if err := replay(*replayFile, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default(*device)
	}

	if *baud != 0 {
		cfg.Port.Baud = *baud
	}
	if *captureFile != "" {
		cfg.Capture.File = *captureFile
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	return cfg, cfg.Validate()
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := bus.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if cfg.Metrics.Listen != "" {
		serveMetrics(cfg.Metrics.Listen, registry, logger)
	}

	var sinks []capture.Logger
	if cfg.Capture.File != "" {
		fl, err := capture.NewFileLogger(cfg.Capture.File)
		if err != nil {
			return err
		}
		defer func() {
			if err := fl.Close(); err != nil {
				logger.Warn("capture file incomplete", "events", fl.Count(), "error", err)
			}
		}()
		sinks = append(sinks, fl)
	}
	if cfg.Capture.Log {
		sinks = append(sinks, capture.NewSlogAdapter(logger))
	}

	busCfg := bus.Config{
		HostAddress:    cfg.Bus.HostAddress,
		RequestTimeout: cfg.Bus.RequestTimeout,
		Codec:          codec,
		Logger:         logger,
		Capture:        capture.NewMultiLogger(sinks...),
		Metrics:        metrics,
	}

	var b *bus.Bus
	if *simulate {
		b, err = openSimulator(cfg, busCfg, logger)
	} else {
		b, err = bus.Open(&cfg.Port, busCfg)
	}
	if err != nil {
		return err
	}
	defer b.Close()

	fmt.Printf("Connected to %s (session %s)\n", cfg.Port.Device, b.SessionID())

	c := newConsole(b, os.Stdout)
	for _, ac := range cfg.Axes {
		a := axis.New(b, ac.Address, ac.DeviceID, axis.Options{
			Timeout: ac.Timeout,
			Monitor: ac.Monitor,
			Logger:  logger.With("axis", ac.Name),
			OnUpdate: func(s axis.State) {
				c.printUpdate(ac.Name, s)
			},
		})
		if ac.ApplicationName != "" {
			present, err := a.GetPresent(ac.ApplicationName)
			if err != nil {
				return fmt.Errorf("axis %s: %w", ac.Name, err)
			}
			if !present {
				logger.Warn("axis not present", "axis", ac.Name, "expected", ac.ApplicationName)
				continue
			}
		}
		if err := a.Initialize(); err != nil {
			logger.Error("axis initialization failed", "axis", ac.Name, "error", err)
			continue
		}
		defer a.UnInitialize()
		c.addAxis(ac.Name, a)
	}

	return c.run()
}

// openSimulator starts a bus on an in-memory link served by one simulated
// axis per configured axis.
func openSimulator(cfg *config.Config, busCfg bus.Config, logger *slog.Logger) (*bus.Bus, error) {
	host, dev := serial.NewPipe()
	link := sim.NewLink(dev, busCfg.Codec, logger)
	for _, ac := range cfg.Axes {
		name := ac.ApplicationName
		if name == "" {
			name = "sim-" + ac.Name
		}
		if err := link.Attach(sim.NewAxis(ac.Address, ac.DeviceID, name)); err != nil {
			return nil, err
		}
	}
	go link.Run()

	cfg.Port.Device = "simulator"
	b := bus.New(host, busCfg)
	if err := b.Start(); err != nil {
		host.Close()
		return nil, err
	}
	return b, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
}
