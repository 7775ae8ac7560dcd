// Package device models a Sonoff-style relay switch: one push button, one
// relay, one status LED and an optional 1-Wire temperature probe.
//
// A Device is driven from a single goroutine (the main loop). The button
// edge handler runs concurrently and only ever touches the Mailbox.
package device

import (
	"github.com/pkg/errors"

	"github.com/sweeney/sonoff-relay/internal/gpio"
	"github.com/sweeney/sonoff-relay/internal/onewire"
)

// Pinout assigns the device's lines.
type Pinout struct {
	Button int
	Relay  int
	LED    int
}

// DefaultPinout is the Sonoff TH wiring.
var DefaultPinout = Pinout{
	Button: gpio.DefaultPinButton,
	Relay:  gpio.DefaultPinRelay,
	LED:    gpio.DefaultPinLED,
}

// Device owns the relay state and the discovery flag.
type Device struct {
	pins   gpio.Pins
	pinout Pinout
	probe  onewire.Probe

	onWriteError func(error)

	state      bool
	discovered bool

	commands Mailbox
}

// Option configures a Device.
type Option func(*Device)

// WithTemperatureProbe attaches a 1-Wire probe; the first sensor on the bus
// is used.
func WithTemperatureProbe(p onewire.Probe) Option {
	return func(d *Device) { d.probe = p }
}

// WithWriteErrorHandler receives errors from relay and LED writes. The
// device state contract does not carry hardware errors, so they are only
// reported here.
func WithWriteErrorHandler(fn func(error)) Option {
	return func(d *Device) { d.onWriteError = fn }
}

// New configures the button as a pulled-up input with a rising-edge handler
// and the relay and LED as outputs (relay off, LED off).
func New(pins gpio.Pins, pinout Pinout, opts ...Option) (*Device, error) {
	d := &Device{pins: pins, pinout: pinout}
	for _, opt := range opts {
		opt(d)
	}

	if err := pins.ConfigureInput(pinout.Button, gpio.PullUp); err != nil {
		return nil, errors.Wrap(err, "configure button")
	}
	if err := pins.AttachEdgeInterrupt(pinout.Button, gpio.EdgeRising, d.buttonStateChanged); err != nil {
		return nil, errors.Wrap(err, "attach button interrupt")
	}
	if err := pins.ConfigureOutput(pinout.Relay, gpio.RelayOff); err != nil {
		return nil, errors.Wrap(err, "configure relay")
	}
	if err := pins.ConfigureOutput(pinout.LED, gpio.LEDOff); err != nil {
		return nil, errors.Wrap(err, "configure led")
	}
	return d, nil
}

// buttonStateChanged is the button's edge handler. It runs in interrupt
// context.
func (d *Device) buttonStateChanged() {
	d.commands.Post(CommandButtonStateChanged)
}

// Init forces the relay off and clears the logical state.
func (d *Device) Init() {
	d.write(d.pinout.Relay, gpio.RelayOff)
	d.SetState(false)
}

// State returns the logical relay state.
func (d *Device) State() bool {
	return d.state
}

// SetState drives the relay to on. It returns false, without touching the
// pin, when the relay is already in that state.
func (d *Device) SetState(on bool) bool {
	if on == d.state {
		return false
	}
	d.state = on
	if on {
		d.write(d.pinout.Relay, gpio.RelayOn)
	} else {
		d.write(d.pinout.Relay, gpio.RelayOff)
	}
	return true
}

// Discovered reports whether the device has been announced to the broker.
func (d *Device) Discovered() bool {
	return d.discovered
}

// SetDiscovered records whether the device has been announced.
func (d *Device) SetDiscovered(v bool) {
	d.discovered = v
}

// SetLED drives the status LED.
func (d *Device) SetLED(on bool) {
	if on {
		d.write(d.pinout.LED, gpio.LEDOn)
	} else {
		d.write(d.pinout.LED, gpio.LEDOff)
	}
}

// HasTemperature reports whether a probe is attached.
func (d *Device) HasTemperature() bool {
	return d.probe != nil
}

// Temperature runs a conversion and returns the first sensor's reading in
// Celsius. It blocks for the conversion time. Sentinel values are returned
// as-is; use onewire.Valid to filter them. Without a probe it returns
// onewire.DisconnectedC.
func (d *Device) Temperature() float64 {
	if d.probe == nil {
		return onewire.DisconnectedC
	}
	d.probe.RequestTemperatures()
	return d.probe.TemperatureC(0)
}

// Commands returns the mailbox fed by the button handler.
func (d *Device) Commands() *Mailbox {
	return &d.commands
}

func (d *Device) write(pin int, level gpio.Level) {
	if err := d.pins.Write(pin, level); err != nil && d.onWriteError != nil {
		d.onWriteError(errors.Wrapf(err, "write %v to pin %d", level, pin))
	}
}
