package gpio

import "sync"

// FakePins is a test double that records configuration and writes.
type FakePins struct {
	mu sync.Mutex

	// Inputs maps configured input pins to their bias.
	Inputs map[int]Pull

	// Outputs maps configured output pins to their initial level.
	Outputs map[int]Level

	// Writes contains every Write call in order.
	Writes []Write

	// WriteError, if set, will be returned by Write (nothing is recorded).
	WriteError error

	// ConfigureError, if set, will be returned by the Configure methods.
	ConfigureError error

	// Closed tracks if Close was called.
	Closed bool

	levels   map[int]Level
	handlers map[int]edgeHandler
}

// Write is a single recorded pin write.
type Write struct {
	Pin   int
	Level Level
}

type edgeHandler struct {
	edge Edge
	fn   EdgeHandler
}

// NewFakePins creates an empty FakePins.
func NewFakePins() *FakePins {
	return &FakePins{
		Inputs:   make(map[int]Pull),
		Outputs:  make(map[int]Level),
		levels:   make(map[int]Level),
		handlers: make(map[int]edgeHandler),
	}
}

// ConfigureInput records pin as an input. A pulled-up input idles high.
func (f *FakePins) ConfigureInput(pin int, pull Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.Inputs[pin] = pull
	if pull == PullUp {
		f.levels[pin] = High
	} else {
		f.levels[pin] = Low
	}
	return nil
}

// ConfigureOutput records pin as an output.
func (f *FakePins) ConfigureOutput(pin int, initial Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfigureError != nil {
		return f.ConfigureError
	}
	f.Outputs[pin] = initial
	f.levels[pin] = initial
	return nil
}

// Read returns the last written or injected level.
func (f *FakePins) Read(pin int) (Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lvl, ok := f.levels[pin]
	if !ok {
		return Low, ErrUnknownPin
	}
	return lvl, nil
}

// Write records the write and updates the pin level.
func (f *FakePins) Write(pin int, level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	if _, ok := f.Outputs[pin]; !ok {
		return ErrUnknownPin
	}
	f.Writes = append(f.Writes, Write{Pin: pin, Level: level})
	f.levels[pin] = level
	return nil
}

// AttachEdgeInterrupt records handler for pin.
func (f *FakePins) AttachEdgeInterrupt(pin int, edge Edge, handler EdgeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Inputs[pin]; !ok {
		return ErrUnknownPin
	}
	f.handlers[pin] = edgeHandler{edge: edge, fn: handler}
	return nil
}

// Close marks the pins as closed.
func (f *FakePins) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// SetInput drives an input pin to level, firing the attached handler if the
// transition matches its edge. The handler runs on the caller's goroutine.
func (f *FakePins) SetInput(pin int, level Level) {
	f.mu.Lock()
	prev := f.levels[pin]
	f.levels[pin] = level
	h, ok := f.handlers[pin]
	f.mu.Unlock()

	if ok && h.fn != nil && edgeMatches(h.edge, prev, level) {
		h.fn()
	}
}

// Trigger fires the handler attached to pin unconditionally.
func (f *FakePins) Trigger(pin int) {
	f.mu.Lock()
	h, ok := f.handlers[pin]
	f.mu.Unlock()
	if ok && h.fn != nil {
		h.fn()
	}
}

// WritesTo returns the recorded writes for a single pin.
func (f *FakePins) WritesTo(pin int) []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Write
	for _, w := range f.Writes {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites clears recorded writes.
func (f *FakePins) ResetWrites() {
	f.mu.Lock()
	f.Writes = nil
	f.mu.Unlock()
}
