package status

import (
	"encoding/json"
	"math"
	"time"
)

// Document wraps a Report under a top-level "status" key, the shape served
// at /index.json and published on the system topic.
type Document struct {
	Status Report `json:"status"`
}

// Report is the serialised form of a Snapshot.
type Report struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Name          string       `json:"name"`
	Relay         string       `json:"relay"`
	Ready         bool         `json:"ready"`
	Discovered    bool         `json:"discovered"`
	Temperature   *float64     `json:"temperature_c,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          BrokerReport `json:"mqtt"`
	Counts        CountsReport `json:"counts"`
	Network       *NetworkInfo `json:"network,omitempty"`
	Config        ConfigReport `json:"config"`
}

type BrokerReport struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

type CountsReport struct {
	ButtonPresses    int `json:"button_presses"`
	SuppressedPushes int `json:"suppressed_presses"`
	RemoteCommands   int `json:"remote_commands"`
	RelayOn          int `json:"relay_on"`
	RelayOff         int `json:"relay_off"`
	Saves            int `json:"saves"`
}

type ConfigReport struct {
	PollMs      int64  `json:"poll_ms"`
	SuppressMs  int64  `json:"suppress_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	GPIOBackend string `json:"gpio_backend"`
}

// NewReport converts snap. Temperature is rounded to one decimal and an
// unset relay state is reported as UNKNOWN.
func NewReport(snap Snapshot) Report {
	r := Report{
		Name:          snap.Config.Name,
		Relay:         "UNKNOWN",
		Ready:         snap.Initialised,
		Discovered:    snap.Discovered,
		UptimeSeconds: int64(snap.Uptime() / time.Second),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          BrokerReport{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsReport(snap.Counts),
		Config: ConfigReport{
			PollMs:      snap.Config.PollMs,
			SuppressMs:  snap.Config.SuppressMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			GPIOBackend: snap.Config.GPIOBackend,
		},
	}
	if snap.Relay != "" {
		r.Relay = string(snap.Relay)
	}
	if snap.Temperature != nil {
		c := math.Round(*snap.Temperature*10) / 10
		r.Temperature = &c
	}
	if snap.Network != nil {
		n := *snap.Network
		r.Network = &n
	}
	return r
}

// FormatJSON renders snap indented, for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Document{Status: NewReport(snap)}, "", "  ")
	return data
}

// FormatStatusEvent renders snap compactly with the lifecycle event and
// optional reason, for the MQTT system topic.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	r := NewReport(snap)
	r.Event = event
	r.Reason = reason
	data, _ := json.Marshal(Document{Status: r})
	return data
}
