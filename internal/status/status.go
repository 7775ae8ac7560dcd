// Package status provides a thread-safe status tracker for the relay daemon.
// It is read by HTTP handlers and by the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/sonoff-relay/internal/logic"
)

// NetworkInfo is the host's network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// Config contains daemon configuration for display.
type Config struct {
	Name        string
	PollMs      int64
	SuppressMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	GPIOBackend string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Relay         logic.State
	Initialised   bool
	Discovered    bool
	Temperature   *float64
	TemperatureAt time.Time
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets relay state, discovery flag and counters.
func (t *Tracker) Update(relay logic.State, discovered bool, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Relay = relay
	t.snap.Initialised = true
	t.snap.Discovered = discovered
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetTemperature records the last valid reading.
func (t *Tracker) SetTemperature(c float64, at time.Time) {
	t.mu.Lock()
	t.snap.Temperature = &c
	t.snap.TemperatureAt = at
	t.mu.Unlock()
}

// ClearTemperature marks the reading as unavailable.
func (t *Tracker) ClearTemperature() {
	t.mu.Lock()
	t.snap.Temperature = nil
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Temperature != nil {
		c := *s.Temperature
		s.Temperature = &c
	}
	s.Now = time.Now()
	return s
}
