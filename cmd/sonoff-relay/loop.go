package main

import (
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/sonoff-relay/internal/device"
	"github.com/sweeney/sonoff-relay/internal/logic"
	"github.com/sweeney/sonoff-relay/internal/mqtt"
	"github.com/sweeney/sonoff-relay/internal/onewire"
	"github.com/sweeney/sonoff-relay/internal/status"
	"github.com/sweeney/sonoff-relay/internal/store"
	"github.com/sweeney/sonoff-relay/internal/tsdb"
)

// loop owns the device. Everything that touches it runs on the goroutine
// calling run; the button handler only writes the mailbox.
type loop struct {
	dev        *device.Device
	ctrl       *logic.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	recorder   tsdb.Recorder
	store      *store.Store // nil disables persistence
	tracker    *status.Tracker
	log        logrus.FieldLogger
	discovery  mqtt.Discovery
	heartbeat  time.Duration
	now        func() time.Time

	connected bool
}

func (l *loop) run(tick, tempTick <-chan time.Time, remote, local <-chan mqtt.Command, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			l.shutdown(s)
			return nil

		case c := <-remote:
			l.command(c, "mqtt")

		case c := <-local:
			l.command(c, "http")

		case <-tempTick:
			l.readTemperature()

		case <-tick:
			l.poll()
		}
	}
}

// poll runs one step of the command chain and the periodic bookkeeping.
func (l *loop) poll() {
	t := l.now()
	mb := l.dev.Commands()

	if cmd := mb.Take(); cmd != device.CommandNone {
		next, events := l.ctrl.Step(cmd, t)
		l.log.WithFields(logrus.Fields{"command": cmd, "next": next}).Debug("Step")
		// A press that arrived during the step wins over the follow-up.
		if next != device.CommandNone && !mb.CompareAndSwap(device.CommandNone, next) {
			l.log.WithField("dropped", next).Debug("Follow-up superseded by new command")
		}
		for _, e := range events {
			l.handle(e)
		}
	}

	l.syncConnection()
	l.announce()

	if hb := l.ctrl.CheckHeartbeat(t, l.heartbeat); hb != nil {
		l.publishHeartbeat(hb)
	}

	l.tracker.Update(logic.StateOf(l.dev.State()), l.dev.Discovered(), l.ctrl.Counts())
}

func (l *loop) handle(e logic.Event) {
	on := e.State == logic.StateOn
	switch e.Type {
	case logic.EventRelayOn, logic.EventRelayOff:
		l.log.WithFields(logrus.Fields{"state": e.State, "source": e.Source}).Info("Relay switched")
		if err := l.publisher.PublishState(on); err != nil {
			l.log.WithError(err).Warn("Publish state failed")
		}
		l.recorder.RecordRelay(on, string(e.Source), e.Timestamp)

	case logic.EventSaveState:
		if l.store == nil {
			return
		}
		if err := l.store.Save(store.State{Relay: on, SavedAt: e.Timestamp}); err != nil {
			l.log.WithError(err).Error("Save state failed")
		}
	}
}

// command applies a remote ON/OFF/TOGGLE. A no-op command re-publishes the
// current state so the sender sees a reply.
func (l *loop) command(c mqtt.Command, via string) {
	on := c.Resolve(l.dev.State())
	l.log.WithFields(logrus.Fields{"command": c, "via": via}).Info("Remote command")
	if l.ctrl.Request(on, logic.SourceRemote) {
		l.dev.Commands().Post(device.CommandStateChanged)
		return
	}
	if err := l.publisher.PublishState(l.dev.State()); err != nil {
		l.log.WithError(err).Warn("Publish state failed")
	}
}

// syncConnection mirrors the broker connection on the LED and forgets the
// discovery announcement when the connection drops.
func (l *loop) syncConnection() {
	connected := l.mqttStatus.IsConnected()
	if connected == l.connected {
		return
	}
	l.connected = connected
	l.dev.SetLED(connected)
	l.tracker.SetMQTTConnected(connected)
	if connected {
		l.log.Info("Broker connected")
		return
	}
	l.log.Warn("Broker disconnected")
	l.dev.SetDiscovered(false)
}

// announce publishes discovery and the current state once per connection.
func (l *loop) announce() {
	if !l.connected || l.dev.Discovered() {
		return
	}
	if err := l.publisher.PublishDiscovery(l.discovery); err != nil {
		l.log.WithError(err).Warn("Discovery publish failed")
		return
	}
	l.dev.SetDiscovered(true)
	l.log.WithField("name", l.discovery.Name).Info("Announced to Home Assistant")
	if err := l.publisher.PublishState(l.dev.State()); err != nil {
		l.log.WithError(err).Warn("Publish state failed")
	}
}

func (l *loop) readTemperature() {
	c := l.dev.Temperature()
	t := l.now()
	if !onewire.Valid(c) {
		l.tracker.ClearTemperature()
		l.log.WithField("celsius", c).Warn("No valid temperature reading")
		return
	}
	l.tracker.SetTemperature(c, t)
	l.log.WithField("celsius", c).Debug("Temperature")
	if err := l.publisher.PublishTemperature(c); err != nil {
		l.log.WithError(err).Warn("Publish temperature failed")
	}
	l.recorder.RecordTemperature(c, t)
}

func (l *loop) publishStartup() {
	l.syncConnection()
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("Failed to publish startup event")
	}
}

func (l *loop) publishHeartbeat(hb *logic.HeartbeatData) {
	l.log.WithFields(logrus.Fields{
		"uptime":         hb.Uptime,
		"button_presses": hb.Counts.ButtonPresses,
		"remote":         hb.Counts.RemoteCommands,
		"relay_on":       hb.Counts.RelayOn,
		"relay_off":      hb.Counts.RelayOff,
	}).Info("Heartbeat")

	if net := readNetworkInfo(); net != nil {
		l.tracker.SetNetwork(net)
	}
	l.tracker.Update(logic.StateOf(l.dev.State()), l.dev.Discovered(), hb.Counts)
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  hb.Timestamp,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("Heartbeat publish failed")
	}
}

func (l *loop) shutdown(s os.Signal) {
	signalName := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		signalName = "SIGINT"
	case syscall.SIGTERM:
		signalName = "SIGTERM"
	}
	l.log.WithField("signal", signalName).Info("Shutting down")

	l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	l.tracker.Update(logic.StateOf(l.dev.State()), l.dev.Discovered(), l.ctrl.Counts())
	snap := l.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  l.now(),
		Event:      "SHUTDOWN",
		Reason:     signalName,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", signalName),
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.WithError(err).Warn("Failed to publish shutdown event")
	}
	l.dev.SetLED(false)
}
