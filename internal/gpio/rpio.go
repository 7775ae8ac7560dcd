//go:build linux

package gpio

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

// RpioPins drives GPIO through the memory-mapped BCM2835 registers.
// The register map has no event callback, so edge handlers are driven by a
// watcher goroutine per pin polling the event-detect status.
type RpioPins struct {
	mu       sync.Mutex
	interval time.Duration
	inputs   map[int]bool
	outputs  map[int]bool
	watchers map[int]chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewRpioPins maps the GPIO registers. interval <= 0 selects DefaultWatchInterval.
func NewRpioPins(interval time.Duration) (*RpioPins, error) {
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open gpio memory")
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &RpioPins{
		interval: interval,
		inputs:   make(map[int]bool),
		outputs:  make(map[int]bool),
		watchers: make(map[int]chan struct{}),
	}, nil
}

// ConfigureInput sets pin as an input with the given bias.
func (p *RpioPins) ConfigureInput(pin int, pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	rp := rpio.Pin(pin)
	rp.Input()
	switch pull {
	case PullUp:
		rp.PullUp()
	case PullDown:
		rp.PullDown()
	default:
		rp.PullOff()
	}
	p.inputs[pin] = true
	delete(p.outputs, pin)
	return nil
}

// ConfigureOutput sets pin as an output. The level is written before the
// direction changes so the line never glitches to the other level.
func (p *RpioPins) ConfigureOutput(pin int, initial Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	rp := rpio.Pin(pin)
	rp.Write(toRpio(initial))
	rp.Output()
	p.outputs[pin] = true
	delete(p.inputs, pin)
	return nil
}

// Read returns the level of pin.
func (p *RpioPins) Read(pin int) (Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Low, ErrClosed
	}
	if !p.inputs[pin] && !p.outputs[pin] {
		return Low, errors.Wrapf(ErrUnknownPin, "pin %d", pin)
	}
	if rpio.Pin(pin).Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Write drives an output pin.
func (p *RpioPins) Write(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.outputs[pin] {
		return errors.Wrapf(ErrUnknownPin, "output pin %d", pin)
	}
	rpio.Pin(pin).Write(toRpio(level))
	return nil
}

// AttachEdgeInterrupt enables edge detection on pin and starts its watcher.
func (p *RpioPins) AttachEdgeInterrupt(pin int, edge Edge, handler EdgeHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.inputs[pin] {
		return errors.Wrapf(ErrUnknownPin, "attach edge on pin %d", pin)
	}
	if stop, ok := p.watchers[pin]; ok {
		close(stop)
	}

	rp := rpio.Pin(pin)
	switch edge {
	case EdgeFalling:
		rp.Detect(rpio.FallEdge)
	case EdgeBoth:
		rp.Detect(rpio.AnyEdge)
	default:
		rp.Detect(rpio.RiseEdge)
	}

	stop := make(chan struct{})
	p.watchers[pin] = stop
	p.wg.Add(1)
	go p.watch(rp, stop, handler)
	return nil
}

func (p *RpioPins) watch(rp rpio.Pin, stop <-chan struct{}, handler EdgeHandler) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			fired := !p.closed && rp.EdgeDetected()
			p.mu.Unlock()
			if fired {
				handler()
			}
		}
	}
}

// Close stops the watchers, disables edge detection, returns outputs to
// inputs and unmaps the registers.
func (p *RpioPins) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for pin, stop := range p.watchers {
		close(stop)
		rpio.Pin(pin).Detect(rpio.NoEdge)
	}
	for pin := range p.outputs {
		rpio.Pin(pin).Input()
	}
	p.mu.Unlock()

	p.wg.Wait()
	if err := rpio.Close(); err != nil {
		return errors.Wrap(err, "close gpio memory")
	}
	return nil
}

func toRpio(l Level) rpio.State {
	if l == High {
		return rpio.High
	}
	return rpio.Low
}
