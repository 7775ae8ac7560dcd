package main

import (
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/sonoff-relay/internal/config"
	"github.com/sweeney/sonoff-relay/internal/device"
	"github.com/sweeney/sonoff-relay/internal/gpio"
	"github.com/sweeney/sonoff-relay/internal/logic"
	"github.com/sweeney/sonoff-relay/internal/mqtt"
	"github.com/sweeney/sonoff-relay/internal/onewire"
	"github.com/sweeney/sonoff-relay/internal/status"
	"github.com/sweeney/sonoff-relay/internal/store"
	"github.com/sweeney/sonoff-relay/internal/tsdb"
)

const statePath = "/var/lib/sonoff-relay/state.yaml"

type harness struct {
	pins  *gpio.FakePins
	dev   *device.Device
	pub   *mqtt.FakePublisher
	rec   *tsdb.FakeRecorder
	store *store.Store
	clock time.Time
	l     *loop
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newHarness(t *testing.T, probe onewire.Probe) *harness {
	t.Helper()
	h := &harness{
		pins:  gpio.NewFakePins(),
		pub:   mqtt.NewFakePublisher(),
		rec:   &tsdb.FakeRecorder{},
		store: store.New(afero.NewMemMapFs(), statePath),
		clock: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}

	var opts []device.Option
	if probe != nil {
		opts = append(opts, device.WithTemperatureProbe(probe))
	}
	dev, err := device.New(h.pins, device.DefaultPinout, opts...)
	require.NoError(t, err)
	dev.Init()
	h.dev = dev

	h.l = &loop{
		dev:        dev,
		ctrl:       logic.NewController(dev, 250*time.Millisecond, h.clock),
		publisher:  h.pub,
		mqttStatus: h.pub,
		recorder:   h.rec,
		store:      h.store,
		tracker:    status.NewTracker(h.clock, status.Config{Name: "porch"}),
		log:        quietLogger(),
		discovery:  mqtt.Discovery{Name: "porch", Temperature: probe != nil},
		now:        func() time.Time { return h.clock },
	}
	return h
}

func (h *harness) press() {
	h.pins.Trigger(device.DefaultPinout.Button)
}

func (h *harness) pollN(n int) {
	for i := 0; i < n; i++ {
		h.l.poll()
	}
}

func (h *harness) lastLED(t *testing.T) gpio.Level {
	t.Helper()
	writes := h.pins.WritesTo(device.DefaultPinout.LED)
	require.NotEmpty(t, writes)
	return writes[len(writes)-1].Level
}

func TestButtonPressRunsFullChain(t *testing.T) {
	h := newHarness(t, nil)

	h.press()
	h.pollN(3)

	assert.True(t, h.dev.State())
	assert.Equal(t, []bool{true}, h.pub.States)
	require.Len(t, h.rec.Relays, 1)
	assert.Equal(t, "button", h.rec.Relays[0].Source)
	assert.Equal(t, device.CommandNone, h.dev.Commands().Load())

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Relay)
	assert.True(t, saved.SavedAt.Equal(h.clock))

	counts := h.l.ctrl.Counts()
	assert.Equal(t, 1, counts.ButtonPresses)
	assert.Equal(t, 1, counts.Saves)
}

func TestButtonPressOneStepPerPoll(t *testing.T) {
	h := newHarness(t, nil)

	h.press()
	h.l.poll()
	assert.True(t, h.dev.State(), "relay switches on the first step")
	assert.Empty(t, h.pub.States, "state is published on the next step")
	assert.Equal(t, device.CommandStateChanged, h.dev.Commands().Load())

	h.l.poll()
	assert.Equal(t, device.CommandSaveState, h.dev.Commands().Load())
}

func TestButtonSuppression(t *testing.T) {
	h := newHarness(t, nil)

	h.press()
	h.pollN(3)
	require.True(t, h.dev.State())

	h.clock = h.clock.Add(100 * time.Millisecond)
	h.press()
	h.pollN(3)
	assert.True(t, h.dev.State(), "press inside the suppress window is ignored")
	assert.Equal(t, 1, h.l.ctrl.Counts().SuppressedPushes)

	h.clock = h.clock.Add(300 * time.Millisecond)
	h.press()
	h.pollN(3)
	assert.False(t, h.dev.State())
	assert.Equal(t, []bool{true, false}, h.pub.States)
}

func TestBounceDuringChainStillPublishesAndSaves(t *testing.T) {
	h := newHarness(t, nil)

	h.press()
	h.l.poll()
	require.True(t, h.dev.State())

	// The bounce lands before the next poll and replaces STATE_CHANGED.
	h.clock = h.clock.Add(5 * time.Millisecond)
	h.press()
	h.pollN(5)

	assert.True(t, h.dev.State())
	assert.Equal(t, []bool{true}, h.pub.States)
	assert.Equal(t, 1, h.l.ctrl.Counts().SuppressedPushes)
	assert.Equal(t, device.CommandNone, h.dev.Commands().Load())

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Relay)
}

func TestBounceOverRemoteChain(t *testing.T) {
	h := newHarness(t, nil)
	h.press()
	h.pollN(3)
	require.True(t, h.dev.State())

	h.clock = h.clock.Add(50 * time.Millisecond)
	h.l.command(mqtt.CommandOff, "mqtt")
	h.press()
	h.pollN(3)

	assert.False(t, h.dev.State())
	assert.Equal(t, []bool{true, false}, h.pub.States)
	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.False(t, saved.Relay)
}

func TestRemoteToggle(t *testing.T) {
	h := newHarness(t, nil)

	h.l.command(mqtt.CommandToggle, "mqtt")
	assert.True(t, h.dev.State())
	assert.Equal(t, device.CommandStateChanged, h.dev.Commands().Load())

	h.pollN(2)
	assert.Equal(t, []bool{true}, h.pub.States)
	require.Len(t, h.rec.Relays, 1)
	assert.Equal(t, "remote", h.rec.Relays[0].Source)
	assert.Equal(t, 1, h.l.ctrl.Counts().RemoteCommands)

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Relay)
}

func TestRemoteNoOpRepublishes(t *testing.T) {
	h := newHarness(t, nil)
	h.pins.ResetWrites()

	h.l.command(mqtt.CommandOff, "http")

	assert.False(t, h.dev.State())
	assert.Empty(t, h.pins.WritesTo(device.DefaultPinout.Relay), "relay must not be rewritten")
	assert.Equal(t, device.CommandNone, h.dev.Commands().Load())
	assert.Equal(t, []bool{false}, h.pub.States)
}

func TestDiscoveryFollowsConnection(t *testing.T) {
	h := newHarness(t, onewire.NewFakeProbe(20))

	h.l.poll()
	assert.False(t, h.dev.Discovered(), "no announcement while offline")
	assert.Empty(t, h.pub.Discoveries)

	h.pub.Connected = true
	h.l.poll()
	assert.True(t, h.dev.Discovered())
	require.Len(t, h.pub.Discoveries, 1)
	assert.True(t, h.pub.Discoveries[0].Temperature)
	assert.Equal(t, []bool{false}, h.pub.States, "state follows the announcement")
	assert.Equal(t, gpio.LEDOn, h.lastLED(t))
	assert.True(t, h.l.tracker.Snapshot().MQTTConnected)

	h.l.poll()
	assert.Len(t, h.pub.Discoveries, 1, "announced once per connection")

	h.pub.Connected = false
	h.l.poll()
	assert.False(t, h.dev.Discovered())
	assert.Equal(t, gpio.LEDOff, h.lastLED(t))

	h.pub.Connected = true
	h.l.poll()
	assert.Len(t, h.pub.Discoveries, 2, "re-announced after reconnect")
}

func TestDiscoveryRetriedAfterFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.pub.Connected = true
	h.pub.PublishError = assert.AnError

	h.l.poll()
	assert.False(t, h.dev.Discovered())

	h.pub.PublishError = nil
	h.l.poll()
	assert.True(t, h.dev.Discovered())
}

func TestTemperatureReadings(t *testing.T) {
	h := newHarness(t, onewire.NewFakeProbe(21.5, onewire.DisconnectedC))

	h.l.readTemperature()
	assert.Equal(t, []float64{21.5}, h.pub.Temperatures)
	require.Len(t, h.rec.Temperatures, 1)
	snap := h.l.tracker.Snapshot()
	require.NotNil(t, snap.Temperature)
	assert.Equal(t, 21.5, *snap.Temperature)

	h.l.readTemperature()
	assert.Len(t, h.pub.Temperatures, 1, "disconnected reading is not published")
	assert.Nil(t, h.l.tracker.Snapshot().Temperature)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	h.l.heartbeat = time.Minute

	h.l.poll()
	assert.Empty(t, h.pub.SystemEvents)

	h.clock = h.clock.Add(time.Minute)
	h.l.poll()
	require.Len(t, h.pub.SystemEvents, 1)
	assert.Equal(t, "HEARTBEAT", h.pub.SystemEvents[0].Event)
	assert.Contains(t, string(h.pub.SystemPayloads[0]), `"event":"HEARTBEAT"`)
}

func TestTrackerUpdatedEveryPoll(t *testing.T) {
	h := newHarness(t, nil)

	h.press()
	h.pollN(3)

	snap := h.l.tracker.Snapshot()
	assert.True(t, snap.Initialised)
	assert.Equal(t, logic.StateOn, snap.Relay)
	assert.Equal(t, 1, snap.Counts.RelayOn)
}

func TestStartupEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.pub.Connected = true

	h.l.publishStartup()

	require.Len(t, h.pub.SystemEvents, 1)
	ev := h.pub.SystemEvents[0]
	assert.Equal(t, "STARTUP", ev.Event)
	assert.True(t, ev.Retained)
	assert.Contains(t, string(h.pub.SystemPayloads[0]), `"connected":true`)
}

func TestRunShutdownOnSignal(t *testing.T) {
	h := newHarness(t, nil)

	tick := make(chan time.Time)
	remote := make(chan mqtt.Command)
	sig := make(chan os.Signal)
	done := make(chan error)
	go func() { done <- h.l.run(tick, nil, remote, nil, sig) }()

	remote <- mqtt.CommandOn
	tick <- h.clock
	tick <- h.clock
	sig <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after SIGTERM")
	}

	assert.True(t, h.dev.State())
	assert.Equal(t, []bool{true}, h.pub.States)
	require.Len(t, h.pub.SystemEvents, 1)
	ev := h.pub.SystemEvents[0]
	assert.Equal(t, "SHUTDOWN", ev.Event)
	assert.Equal(t, "SIGTERM", ev.Reason)
	assert.True(t, strings.Contains(string(h.pub.SystemPayloads[0]), `"reason":"SIGTERM"`))
	assert.Equal(t, gpio.LEDOff, h.lastLED(t))
}

func TestRestoreState(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(store.State{Relay: true, SavedAt: h.clock}))

	restoreState(config.StateConfig{Restore: true}, h.store, h.dev, h.l.ctrl, quietLogger())

	assert.True(t, h.dev.State())
	assert.Equal(t, device.CommandStateChanged, h.dev.Commands().Load())

	h.pollN(2)
	require.Len(t, h.rec.Relays, 1)
	assert.Equal(t, "restore", h.rec.Relays[0].Source)
}

func TestRestoreDisabled(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(store.State{Relay: true}))

	restoreState(config.StateConfig{Restore: false}, h.store, h.dev, h.l.ctrl, quietLogger())

	assert.False(t, h.dev.State())
	assert.Equal(t, device.CommandStateChanged, h.dev.Commands().Load(), "initial state is still published")
}

func TestOverrideLogLevel(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, overrideLogLevel(cfg, ""))
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, overrideLogLevel(cfg, "debug"))
	assert.Equal(t, "debug", cfg.Logging.Level)

	err := overrideLogLevel(cfg, "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Equal(t, "debug", cfg.Logging.Level, "rejected value is not applied")
}

func TestReadNetworkInfo(t *testing.T) {
	assert.Nil(t, readNetworkInfo(), "nil when NETWORK_STATUS is unset")

	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.100",
		Status: "connected",
		SSID:   "MyNetwork",
	}, *info)
}
