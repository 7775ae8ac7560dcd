//go:build !linux

package gpio

import (
	"time"

	"github.com/pkg/errors"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// CdevPins is not available on non-Linux platforms.
type CdevPins struct{}

// NewCdevPins returns an error on non-Linux platforms.
func NewCdevPins(chipName string, debounce time.Duration) (*CdevPins, error) {
	return nil, errUnsupported
}

func (p *CdevPins) ConfigureInput(int, Pull) error                   { return errUnsupported }
func (p *CdevPins) ConfigureOutput(int, Level) error                 { return errUnsupported }
func (p *CdevPins) Read(int) (Level, error)                          { return Low, errUnsupported }
func (p *CdevPins) Write(int, Level) error                           { return errUnsupported }
func (p *CdevPins) AttachEdgeInterrupt(int, Edge, EdgeHandler) error { return errUnsupported }
func (p *CdevPins) Close() error                                     { return nil }

// RpioPins is not available on non-Linux platforms.
type RpioPins struct{}

// NewRpioPins returns an error on non-Linux platforms.
func NewRpioPins(interval time.Duration) (*RpioPins, error) {
	return nil, errUnsupported
}

func (p *RpioPins) ConfigureInput(int, Pull) error                   { return errUnsupported }
func (p *RpioPins) ConfigureOutput(int, Level) error                 { return errUnsupported }
func (p *RpioPins) Read(int) (Level, error)                          { return Low, errUnsupported }
func (p *RpioPins) Write(int, Level) error                           { return errUnsupported }
func (p *RpioPins) AttachEdgeInterrupt(int, Edge, EdgeHandler) error { return errUnsupported }
func (p *RpioPins) Close() error                                     { return nil }
