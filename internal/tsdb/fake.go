package tsdb

import (
	"sync"
	"time"
)

// RelayRecord is one RecordRelay call.
type RelayRecord struct {
	On     bool
	Source string
	At     time.Time
}

// TemperatureRecord is one RecordTemperature call.
type TemperatureRecord struct {
	Celsius float64
	At      time.Time
}

// FakeRecorder keeps every record in memory for tests.
type FakeRecorder struct {
	mu           sync.Mutex
	Relays       []RelayRecord
	Temperatures []TemperatureRecord
	Closed       bool
}

func (f *FakeRecorder) RecordRelay(on bool, source string, at time.Time) {
	f.mu.Lock()
	f.Relays = append(f.Relays, RelayRecord{On: on, Source: source, At: at})
	f.mu.Unlock()
}

func (f *FakeRecorder) RecordTemperature(celsius float64, at time.Time) {
	f.mu.Lock()
	f.Temperatures = append(f.Temperatures, TemperatureRecord{Celsius: celsius, At: at})
	f.mu.Unlock()
}

func (f *FakeRecorder) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
