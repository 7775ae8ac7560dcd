// Package mqtt publishes relay state to a broker and receives remote
// commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Availability payloads for the status topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics holds every topic the device uses.
type Topics struct {
	State           string
	Set             string
	Temperature     string
	Status          string
	System          string
	DiscoverySwitch string
	DiscoverySensor string
}

// NewTopics builds the topic set for a device called name under base.
func NewTopics(base, name, discoveryPrefix string) Topics {
	root := strings.TrimSuffix(base, "/") + "/" + name + "/"
	prefix := strings.TrimSuffix(discoveryPrefix, "/")
	return Topics{
		State:           root + "state",
		Set:             root + "set",
		Temperature:     root + "temperature",
		Status:          root + "status",
		System:          root + "system",
		DiscoverySwitch: prefix + "/switch/" + name + "/config",
		DiscoverySensor: prefix + "/sensor/" + name + "_temperature/config",
	}
}

// Command is a remote request received on the set topic.
type Command string

const (
	CommandOn     Command = "ON"
	CommandOff    Command = "OFF"
	CommandToggle Command = "TOGGLE"
)

// ErrBadCommand is returned by ParseCommand for unknown payloads.
var ErrBadCommand = errors.New("unknown command")

// ParseCommand accepts ON, OFF and TOGGLE in any case, ignoring surrounding
// whitespace.
func ParseCommand(payload []byte) (Command, error) {
	c := Command(strings.ToUpper(strings.TrimSpace(string(payload))))
	switch c {
	case CommandOn, CommandOff, CommandToggle:
		return c, nil
	}
	return "", errors.Wrapf(ErrBadCommand, "%q", payload)
}

// Resolve returns the relay state the command asks for, given the current one.
func (c Command) Resolve(current bool) bool {
	switch c {
	case CommandOn:
		return true
	case CommandOff:
		return false
	default:
		return !current
	}
}

// Publisher publishes device state to MQTT.
type Publisher interface {
	// PublishState sends the retained relay state.
	PublishState(on bool) error

	// PublishTemperature sends the retained probe reading.
	PublishTemperature(celsius float64) error

	// PublishDiscovery announces the device to Home Assistant.
	PublishDiscovery(d Discovery) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Commands delivers remote commands received on the set topic.
	Commands() <-chan Command

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// FormatState returns the state payload.
func FormatState(on bool) []byte {
	if on {
		return []byte(CommandOn)
	}
	return []byte(CommandOff)
}

// FormatTemperature returns the temperature payload with one decimal.
func FormatTemperature(celsius float64) []byte {
	return []byte(strconv.FormatFloat(celsius, 'f', 1, 64))
}

// Discovery describes the device for Home Assistant.
type Discovery struct {
	Name        string
	Model       string
	Temperature bool
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
}

type switchConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	CommandTopic      string          `json:"command_topic"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadOn         string          `json:"payload_on"`
	PayloadOff        string          `json:"payload_off"`
	Device            discoveryDevice `json:"device"`
}

type sensorConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	DeviceClass       string          `json:"device_class"`
	Unit              string          `json:"unit_of_measurement"`
	Device            discoveryDevice `json:"device"`
}

// FormatDiscovery returns the switch config payload and, when the device has
// a temperature probe, the sensor config payload (nil otherwise).
func FormatDiscovery(t Topics, d Discovery) (sw, sensor []byte, err error) {
	dev := discoveryDevice{
		Identifiers:  []string{d.Name},
		Name:         d.Name,
		Model:        d.Model,
		Manufacturer: "ITEAD",
	}

	sw, err = json.Marshal(switchConfig{
		Name:              d.Name,
		UniqueID:          d.Name,
		CommandTopic:      t.Set,
		StateTopic:        t.State,
		AvailabilityTopic: t.Status,
		PayloadOn:         string(CommandOn),
		PayloadOff:        string(CommandOff),
		Device:            dev,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "switch config")
	}
	if !d.Temperature {
		return sw, nil, nil
	}

	sensor, err = json.Marshal(sensorConfig{
		Name:              d.Name + " temperature",
		UniqueID:          d.Name + "_temperature",
		StateTopic:        t.Temperature,
		AvailabilityTopic: t.Status,
		DeviceClass:       "temperature",
		Unit:              "°C",
		Device:            dev,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "sensor config")
	}
	return sw, sensor, nil
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the payload for events that don't carry a full status
// snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
