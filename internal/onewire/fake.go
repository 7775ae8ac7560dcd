package onewire

import "sync"

// FakeProbe is a test double that returns scripted readings.
type FakeProbe struct {
	mu sync.Mutex

	// Readings contains scripted first-sensor values. Each RequestTemperatures
	// consumes the next one; the last is repeated once exhausted.
	Readings []float64

	// Requests counts RequestTemperatures calls.
	Requests int

	index   int
	current float64
	ready   bool
}

// NewFakeProbe creates a FakeProbe with the given readings.
func NewFakeProbe(readings ...float64) *FakeProbe {
	return &FakeProbe{Readings: readings}
}

// RequestTemperatures latches the next scripted reading.
func (f *FakeProbe) RequestTemperatures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests++
	if len(f.Readings) == 0 {
		f.ready = false
		return
	}
	f.current = f.Readings[f.index]
	f.ready = true
	if f.index < len(f.Readings)-1 {
		f.index++
	}
}

// TemperatureC returns the latched reading for index 0.
func (f *FakeProbe) TemperatureC(index int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index != 0 || !f.ready {
		return DisconnectedC
	}
	return f.current
}
