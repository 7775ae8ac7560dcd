// Command sonoff-relay drives a relay from a push button and MQTT, mirrors
// broker connectivity on the status LED and publishes an optional 1-Wire
// temperature reading.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sweeney/sonoff-relay/internal/config"
	"github.com/sweeney/sonoff-relay/internal/device"
	"github.com/sweeney/sonoff-relay/internal/gpio"
	"github.com/sweeney/sonoff-relay/internal/logging"
	"github.com/sweeney/sonoff-relay/internal/logic"
	"github.com/sweeney/sonoff-relay/internal/mqtt"
	"github.com/sweeney/sonoff-relay/internal/onewire"
	"github.com/sweeney/sonoff-relay/internal/status"
	"github.com/sweeney/sonoff-relay/internal/store"
	"github.com/sweeney/sonoff-relay/internal/tsdb"
	"github.com/sweeney/sonoff-relay/internal/web"
)

const (
	deviceModel     = "Sonoff TH"
	httpCommandSize = 4
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	printState := flag.Bool("print-state", false, "Print button, saved relay state and temperature, then exit")
	logLevel := flag.String("log-level", "", "Override logging.level (debug, info, warn, error)")

	flag.Parse()

	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Load config")
	}
	if err := overrideLogLevel(cfg, *logLevel); err != nil {
		logrus.WithError(err).Fatal("Invalid -log-level")
	}

	log := logging.New(cfg.Logging)
	if err := run(cfg, *printState, log); err != nil {
		log.WithError(err).Fatal("Exiting")
	}
}

// overrideLogLevel applies a non-empty -log-level and revalidates.
func overrideLogLevel(cfg *config.Config, level string) error {
	if level == "" {
		return nil
	}
	prev := cfg.Logging.Level
	cfg.Logging.Level = level
	if err := cfg.Validate(); err != nil {
		cfg.Logging.Level = prev
		return err
	}
	return nil
}

// openPins returns the configured GPIO backend.
func openPins(cfg config.DeviceConfig) (gpio.Pins, error) {
	switch cfg.Backend {
	case config.BackendRpio:
		return gpio.NewRpioPins(gpio.DefaultWatchInterval)
	default:
		return gpio.NewCdevPins(cfg.Chip, cfg.Debounce)
	}
}

func newProbe(cfg config.TemperatureConfig) onewire.Probe {
	dir := cfg.DevicesDir
	if dir == "" {
		dir = onewire.DefaultDevicesDir
	}
	return onewire.NewW1Probe(afero.NewOsFs(), dir)
}

func run(cfg *config.Config, printState bool, log *logrus.Logger) error {
	pins, err := openPins(cfg.Device)
	if err != nil {
		return errors.Wrap(err, "init gpio")
	}
	defer pins.Close()

	fs := afero.NewOsFs()
	st := store.New(fs, cfg.State.Path)

	if printState {
		return printDeviceState(pins, cfg, st)
	}

	gpioLog := logging.Component(log, "gpio")
	opts := []device.Option{
		device.WithWriteErrorHandler(func(err error) {
			gpioLog.WithError(err).Error("GPIO write failed")
		}),
	}
	if cfg.Device.Temperature.Enabled {
		opts = append(opts, device.WithTemperatureProbe(newProbe(cfg.Device.Temperature)))
	}

	pinout := device.Pinout{
		Button: cfg.Device.Pins.Button,
		Relay:  cfg.Device.Pins.Relay,
		LED:    cfg.Device.Pins.LED,
	}
	dev, err := device.New(pins, pinout, opts...)
	if err != nil {
		return errors.Wrap(err, "init device")
	}
	dev.Init()

	startTime := time.Now()
	ctrl := logic.NewController(dev, cfg.Device.Suppress, startTime)
	restoreState(cfg.State, st, dev, ctrl, logging.Component(log, "store"))

	topics := mqtt.NewTopics(cfg.MQTT.BaseTopic, cfg.Device.Name, cfg.MQTT.DiscoveryPrefix)
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		Name:       cfg.Device.Name,
		Topics:     topics,
		BufferSize: cfg.MQTT.BufferSize,
		Log:        logging.Component(log, "mqtt"),
	})
	if err != nil {
		return errors.Wrap(err, "init mqtt")
	}
	defer publisher.Close()

	var recorder tsdb.Recorder = tsdb.Nop{}
	if cfg.InfluxDB.Enabled {
		influxLog := logging.Component(log, "influxdb")
		client, err := tsdb.Connect(context.Background(), cfg.InfluxDB, cfg.Device.Name, influxLog)
		if err != nil {
			influxLog.WithError(err).Warn("InfluxDB unavailable, not recording")
		} else {
			recorder = client
		}
	}
	defer recorder.Close()

	tracker := status.NewTracker(startTime, status.Config{
		Name:        cfg.Device.Name,
		PollMs:      cfg.Device.Poll.Milliseconds(),
		SuppressMs:  cfg.Device.Suppress.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		GPIOBackend: cfg.Device.Backend,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var httpCommands chan mqtt.Command
	if cfg.HTTP.Addr != "" {
		httpLog := logging.Component(log, "http")
		httpCommands = make(chan mqtt.Command, httpCommandSize)
		srv := web.New(cfg.HTTP.Addr, tracker, httpCommands, httpLog)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				httpLog.WithError(err).Error("HTTP server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		httpLog.WithField("addr", cfg.HTTP.Addr).Info("HTTP status server listening")
	}

	l := &loop{
		dev:        dev,
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: publisher,
		recorder:   recorder,
		store:      st,
		tracker:    tracker,
		log:        logging.Component(log, "loop"),
		discovery: mqtt.Discovery{
			Name:        cfg.Device.Name,
			Model:       deviceModel,
			Temperature: dev.HasTemperature(),
		},
		heartbeat: cfg.Heartbeat,
		now:       time.Now,
	}
	l.publishStartup()

	log.WithFields(logrus.Fields{
		"name":      cfg.Device.Name,
		"backend":   cfg.Device.Backend,
		"poll":      cfg.Device.Poll,
		"suppress":  cfg.Device.Suppress,
		"broker":    cfg.MQTT.Broker,
		"heartbeat": cfg.Heartbeat,
	}).Info("Started")

	ticker := time.NewTicker(cfg.Device.Poll)
	defer ticker.Stop()

	var tempTick <-chan time.Time
	if dev.HasTemperature() {
		t := time.NewTicker(cfg.Device.Temperature.Interval)
		defer t.Stop()
		tempTick = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return l.run(ticker.C, tempTick, publisher.Commands(), httpCommands, sigCh)
}

// restoreState applies the persisted relay state and queues a STATE_CHANGED
// so the initial state is published either way.
func restoreState(cfg config.StateConfig, st *store.Store, dev *device.Device, ctrl *logic.Controller, log logrus.FieldLogger) {
	if cfg.Restore {
		saved, err := st.Load()
		if err != nil {
			log.WithError(err).Warn("Could not load saved state, starting OFF")
		} else if ctrl.Request(saved.Relay, logic.SourceRestore) {
			log.WithField("saved_at", saved.SavedAt).Info("Restored relay ON")
		}
	}
	dev.Commands().Post(device.CommandStateChanged)
}

func printDeviceState(pins gpio.Pins, cfg *config.Config, st *store.Store) error {
	if err := pins.ConfigureInput(cfg.Device.Pins.Button, gpio.PullUp); err != nil {
		return errors.Wrap(err, "configure button")
	}
	button, err := pins.Read(cfg.Device.Pins.Button)
	if err != nil {
		return errors.Wrap(err, "read button")
	}
	saved, err := st.Load()
	if err != nil {
		return errors.Wrap(err, "load state")
	}

	fmt.Printf("Button: %s, Relay (saved): %s", button, logic.StateOf(saved.Relay))
	if cfg.Device.Temperature.Enabled {
		p := newProbe(cfg.Device.Temperature)
		p.RequestTemperatures()
		if c := p.TemperatureC(0); onewire.Valid(c) {
			fmt.Printf(", Temperature: %.1f °C", c)
		} else {
			fmt.Print(", Temperature: n/a")
		}
	}
	fmt.Println()
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
