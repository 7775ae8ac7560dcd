// Package logic consumes device commands and decides what the main loop
// should publish and persist.
// This package has NO I/O (no GPIO, MQTT or files) and never sleeps.
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of the relay.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a relay flag to a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// EventType is something the main loop must act on.
type EventType string

const (
	EventRelayOn   EventType = "RELAY_ON"
	EventRelayOff  EventType = "RELAY_OFF"
	EventSaveState EventType = "SAVE_STATE"
)

// Source records who changed the relay.
type Source string

const (
	SourceButton  Source = "button"
	SourceRemote  Source = "remote"
	SourceRestore Source = "restore"
)

// Event is emitted by Controller.Step.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
	Source    Source
}

// Counts tracks activity since startup.
type Counts struct {
	ButtonPresses    int
	SuppressedPushes int
	RemoteCommands   int
	RelayOn          int
	RelayOff         int
	Saves            int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
