//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "sonoff-relay"

// CdevPins drives GPIO through the Linux GPIO character device.
// Edge handlers run on the gpiocdev event goroutine.
type CdevPins struct {
	mu       sync.Mutex
	chip     *gpiocdev.Chip
	lines    map[int]*gpiocdev.Line
	pulls    map[int]Pull
	outputs  map[int]bool
	debounce time.Duration
	closed   bool
}

// NewCdevPins opens the named chip (e.g. "gpiochip0"). A non-zero debounce
// is applied by the kernel to lines that get an edge handler.
func NewCdevPins(chipName string, debounce time.Duration) (*CdevPins, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", chipName)
	}
	return &CdevPins{
		chip:     chip,
		lines:    make(map[int]*gpiocdev.Line),
		pulls:    make(map[int]Pull),
		outputs:  make(map[int]bool),
		debounce: debounce,
	}, nil
}

func biasOption(pull Pull) gpiocdev.LineReqOption {
	switch pull {
	case PullUp:
		return gpiocdev.WithPullUp
	case PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}

func edgeOption(edge Edge) gpiocdev.LineReqOption {
	switch edge {
	case EdgeFalling:
		return gpiocdev.WithFallingEdge
	case EdgeBoth:
		return gpiocdev.WithBothEdges
	default:
		return gpiocdev.WithRisingEdge
	}
}

// ConfigureInput requests pin as an input.
func (p *CdevPins) ConfigureInput(pin int, pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.releaseLocked(pin)

	line, err := p.chip.RequestLine(pin, gpiocdev.AsInput, biasOption(pull))
	if err != nil {
		return errors.Wrapf(err, "request input pin %d", pin)
	}
	p.lines[pin] = line
	p.pulls[pin] = pull
	return nil
}

// ConfigureOutput requests pin as an output.
func (p *CdevPins) ConfigureOutput(pin int, initial Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.releaseLocked(pin)

	line, err := p.chip.RequestLine(pin, gpiocdev.AsOutput(int(initial)))
	if err != nil {
		return errors.Wrapf(err, "request output pin %d", pin)
	}
	p.lines[pin] = line
	p.outputs[pin] = true
	return nil
}

// Read returns the current level of pin.
func (p *CdevPins) Read(pin int) (Level, error) {
	line, err := p.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := line.Value()
	if err != nil {
		return Low, errors.Wrapf(err, "read pin %d", pin)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// Write drives pin to level.
func (p *CdevPins) Write(pin int, level Level) error {
	line, err := p.line(pin)
	if err != nil {
		return err
	}
	if err := line.SetValue(int(level)); err != nil {
		return errors.Wrapf(err, "write pin %d", pin)
	}
	return nil
}

// AttachEdgeInterrupt re-requests an input pin with edge detection enabled.
// gpiocdev only accepts a handler at request time, so the existing line is
// released first.
func (p *CdevPins) AttachEdgeInterrupt(pin int, edge Edge, handler EdgeHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	pull, ok := p.pulls[pin]
	if !ok {
		return errors.Wrapf(ErrUnknownPin, "attach edge on pin %d", pin)
	}
	p.releaseLocked(pin)

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		biasOption(pull),
		edgeOption(edge),
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { handler() }),
	}
	if p.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(p.debounce))
	}
	line, err := p.chip.RequestLine(pin, opts...)
	if err != nil {
		return errors.Wrapf(err, "request edge pin %d", pin)
	}
	p.lines[pin] = line
	p.pulls[pin] = pull
	return nil
}

func (p *CdevPins) line(pin int) (*gpiocdev.Line, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	line, ok := p.lines[pin]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPin, "pin %d", pin)
	}
	return line, nil
}

func (p *CdevPins) releaseLocked(pin int) {
	if line, ok := p.lines[pin]; ok {
		line.Close()
		delete(p.lines, pin)
		delete(p.pulls, pin)
		delete(p.outputs, pin)
	}
}

// Close releases all lines and the chip.
// Outputs are reconfigured as inputs first so the relay coil is not left
// driven once the process exits.
func (p *CdevPins) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for pin, line := range p.lines {
		if p.outputs[pin] {
			if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
				errs = append(errs, errors.Wrapf(err, "reconfigure pin %d", pin))
			}
		}
		if err := line.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "close pin %d", pin))
		}
	}
	if err := p.chip.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close chip"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
