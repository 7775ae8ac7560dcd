// Package gpio provides a small hardware abstraction over GPIO lines.
// The real implementations use the Linux GPIO character device or the BCM
// register map. The fake implementation allows testing without hardware.
package gpio

import (
	"time"

	"github.com/pkg/errors"
)

// Level is a physical line level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Pull selects the input bias.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge selects which input transitions fire an EdgeHandler.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
)

// EdgeHandler runs in interrupt context: it must not block or perform I/O.
type EdgeHandler func()

// Pins configures and drives GPIO lines.
type Pins interface {
	// ConfigureInput requests pin as an input with the given bias.
	ConfigureInput(pin int, pull Pull) error

	// ConfigureOutput requests pin as an output driven to initial.
	ConfigureOutput(pin int, initial Level) error

	// Read returns the current level of a configured pin.
	Read(pin int) (Level, error)

	// Write drives a configured output pin.
	Write(pin int, level Level) error

	// AttachEdgeInterrupt registers handler for transitions on an input pin.
	AttachEdgeInterrupt(pin int, edge Edge, handler EdgeHandler) error

	// Close releases all lines.
	Close() error
}

var (
	// ErrUnknownPin is returned for operations on a pin that was never configured.
	ErrUnknownPin = errors.New("gpio: pin not configured")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gpio: closed")
)

// Sonoff TH pin assignment (ESP8266 numbering, reused as line offsets on
// relay boards wired to match).
const (
	DefaultPinButton  = 0
	DefaultPinRelay   = 12
	DefaultPinLED     = 13
	DefaultPinOneWire = 14
)

// Logical-to-physical level mapping. The LED is active low, the relay is
// active high.
const (
	RelayOn  = High
	RelayOff = Low
	LEDOn    = Low
	LEDOff   = High
)

// DefaultWatchInterval is how often RpioPins polls the edge-detect register.
const DefaultWatchInterval = 10 * time.Millisecond

// edgeMatches reports whether a from→to transition fires for edge.
func edgeMatches(edge Edge, from, to Level) bool {
	if from == to {
		return false
	}
	switch edge {
	case EdgeRising:
		return from == Low && to == High
	case EdgeFalling:
		return from == High && to == Low
	default:
		return true
	}
}
