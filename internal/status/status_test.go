package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/sonoff-relay/internal/logic"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func decode(t *testing.T, data []byte) Report {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc), "payload: %s", data)
	return doc.Status
}

func decodeRaw(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw["status"]
}

func TestTrackerStartsEmpty(t *testing.T) {
	cfg := Config{Name: "sonoff", PollMs: 20, SuppressMs: 250, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	snap := NewTracker(epoch, cfg).Snapshot()

	assert.True(t, snap.StartTime.Equal(epoch))
	assert.Equal(t, cfg, snap.Config)
	assert.False(t, snap.Initialised)
	assert.False(t, snap.MQTTConnected)
	assert.Nil(t, snap.Temperature)
	assert.Nil(t, snap.Network)
}

func TestTrackerUpdate(t *testing.T) {
	tr := NewTracker(epoch, Config{})
	tr.Update(logic.StateOn, true, logic.Counts{ButtonPresses: 3, Saves: 1})

	snap := tr.Snapshot()
	assert.Equal(t, logic.StateOn, snap.Relay)
	assert.True(t, snap.Initialised)
	assert.True(t, snap.Discovered)
	assert.Equal(t, logic.Counts{ButtonPresses: 3, Saves: 1}, snap.Counts)

	tr.Update(logic.StateOff, false, logic.Counts{ButtonPresses: 4, Saves: 2})
	assert.Equal(t, logic.StateOn, snap.Relay, "earlier snapshot is unaffected")
	assert.True(t, snap.Discovered)
}

func TestTrackerTemperature(t *testing.T) {
	tr := NewTracker(epoch, Config{})
	at := epoch.Add(5 * time.Minute)

	tr.SetTemperature(21.5, at)
	snap := tr.Snapshot()
	require.NotNil(t, snap.Temperature)
	assert.Equal(t, 21.5, *snap.Temperature)
	assert.True(t, snap.TemperatureAt.Equal(at))

	*snap.Temperature = 99
	assert.Equal(t, 21.5, *tr.Snapshot().Temperature, "snapshot must not alias the tracker")

	tr.ClearTemperature()
	assert.Nil(t, tr.Snapshot().Temperature)
}

func TestTrackerConnectionAndNetwork(t *testing.T) {
	tr := NewTracker(epoch, Config{})

	tr.SetMQTTConnected(true)
	assert.True(t, tr.Snapshot().MQTTConnected)
	tr.SetMQTTConnected(false)
	assert.False(t, tr.Snapshot().MQTTConnected)

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	snap := tr.Snapshot()
	require.NotNil(t, snap.Network)
	assert.Equal(t, "192.168.1.42", snap.Network.IP)
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{StartTime: epoch, Now: epoch.Add(15 * time.Minute)}
	assert.Equal(t, 15*time.Minute, snap.Uptime())
}

func TestFormatJSON(t *testing.T) {
	temp := 21.47
	snap := Snapshot{
		Relay:         logic.StateOn,
		Initialised:   true,
		Discovered:    true,
		Temperature:   &temp,
		Counts:        logic.Counts{ButtonPresses: 5, RelayOn: 3, RelayOff: 2},
		StartTime:     epoch,
		Now:           epoch.Add(15*time.Minute + 400*time.Millisecond),
		MQTTConnected: true,
		Config: Config{
			Name:        "sonoff",
			PollMs:      20,
			SuppressMs:  250,
			HeartbeatMs: 900000,
			Broker:      "tcp://localhost:1883",
			HTTPAddr:    ":80",
			GPIOBackend: "gpiocdev",
		},
	}

	r := decode(t, FormatJSON(snap))
	assert.Equal(t, "sonoff", r.Name)
	assert.Equal(t, "ON", r.Relay)
	assert.True(t, r.Ready)
	assert.True(t, r.Discovered)
	require.NotNil(t, r.Temperature)
	assert.Equal(t, 21.5, *r.Temperature, "rounded to one decimal")
	assert.Equal(t, int64(900), r.UptimeSeconds)
	assert.Equal(t, "2026-01-01T00:00:00Z", r.StartTime)
	assert.Equal(t, BrokerReport{Connected: true, Broker: "tcp://localhost:1883"}, r.MQTT)
	assert.Equal(t, CountsReport{ButtonPresses: 5, RelayOn: 3, RelayOff: 2}, r.Counts)
	assert.Equal(t, "gpiocdev", r.Config.GPIOBackend)
	assert.Empty(t, r.Event)
	assert.Empty(t, r.Reason)
	assert.Nil(t, r.Network)
}

func TestFormatJSONOmissions(t *testing.T) {
	raw := decodeRaw(t, FormatJSON(Snapshot{StartTime: epoch, Now: epoch.Add(time.Second)}))

	assert.Equal(t, "UNKNOWN", raw["relay"])
	for _, key := range []string{"temperature_c", "network", "event", "reason"} {
		assert.NotContains(t, raw, key)
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: epoch,
		Now:       epoch.Add(time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	raw := decodeRaw(t, FormatJSON(snap))
	assert.Equal(t, map[string]interface{}{
		"type":        "wifi",
		"ip":          "192.168.1.42",
		"status":      "connected",
		"gateway":     "",
		"wifi_status": "",
		"ssid":        "MyNet",
	}, raw["network"])
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		Relay:       logic.StateOff,
		Initialised: true,
		StartTime:   epoch,
		Now:         epoch.Add(30 * time.Minute),
	}

	tests := []struct {
		event, reason string
	}{
		{"STARTUP", ""},
		{"HEARTBEAT", ""},
		{"SHUTDOWN", "SIGTERM"},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			data := FormatStatusEvent(snap, tt.event, tt.reason)
			assert.NotContains(t, string(data), "\n", "event payloads are compact")

			r := decode(t, data)
			assert.Equal(t, tt.event, r.Event)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Equal(t, "OFF", r.Relay)
			assert.Equal(t, int64(1800), r.UptimeSeconds)

			if tt.reason == "" {
				assert.NotContains(t, decodeRaw(t, data), "reason")
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(logic.StateOf(i%2 == 0), true, logic.Counts{ButtonPresses: i})
			tr.SetTemperature(float64(i), time.Now())
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()

	wg.Wait()
}
