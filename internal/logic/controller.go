package logic

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/sonoff-relay/internal/device"
)

// Relay is the part of the device the controller drives.
type Relay interface {
	State() bool
	SetState(on bool) bool
}

// Controller runs the command chain
//
//	BUTTON_STATE_CHANGED -> STATE_CHANGED -> SAVE_STATE -> NONE
//
// one step per call, so the main loop stays responsive between steps.
type Controller struct {
	relay     Relay
	limiter   *rate.Limiter
	startTime time.Time

	// pending is the follow-up of the chain in progress, CommandNone once
	// SAVE_STATE has run. A suppressed press resumes it, since the press
	// may have overwritten it in the mailbox.
	pending device.Command

	source        Source
	counts        Counts
	lastHeartbeat time.Time
}

// NewController creates a controller. Button presses closer together than
// suppress are dropped; suppress <= 0 accepts every press.
func NewController(relay Relay, suppress time.Duration, startTime time.Time) *Controller {
	limit := rate.Inf
	if suppress > 0 {
		limit = rate.Every(suppress)
	}
	return &Controller{
		relay: relay,
		// Burst of 1 lets the first press through immediately.
		limiter:       rate.NewLimiter(limit, 1),
		startTime:     startTime,
		source:        SourceRestore,
		lastHeartbeat: startTime,
	}
}

// Step handles one command and returns the command that should follow it.
func (c *Controller) Step(cmd device.Command, now time.Time) (device.Command, []Event) {
	next, events := c.step(cmd, now)
	c.pending = next
	return next, events
}

func (c *Controller) step(cmd device.Command, now time.Time) (device.Command, []Event) {
	switch cmd {
	case device.CommandButtonStateChanged:
		if !c.limiter.AllowN(now, 1) {
			c.counts.SuppressedPushes++
			return c.pending, nil
		}
		c.counts.ButtonPresses++
		c.relay.SetState(!c.relay.State())
		c.source = SourceButton
		return device.CommandStateChanged, nil

	case device.CommandStateChanged:
		state := StateOf(c.relay.State())
		typ := EventRelayOff
		if state == StateOn {
			typ = EventRelayOn
			c.counts.RelayOn++
		} else {
			c.counts.RelayOff++
		}
		return device.CommandSaveState, []Event{{
			Timestamp: now,
			Type:      typ,
			State:     state,
			Source:    c.source,
		}}

	case device.CommandSaveState:
		c.counts.Saves++
		return device.CommandNone, []Event{{
			Timestamp: now,
			Type:      EventSaveState,
			State:     StateOf(c.relay.State()),
			Source:    c.source,
		}}
	}
	return device.CommandNone, nil
}

// Request applies a remote relay command. It reports whether the relay
// changed; the caller then posts CommandStateChanged.
func (c *Controller) Request(on bool, source Source) bool {
	if source == SourceRemote {
		c.counts.RemoteCommands++
	}
	if !c.relay.SetState(on) {
		return false
	}
	c.source = source
	c.pending = device.CommandStateChanged
	return true
}

// Counts returns a copy of the activity counters.
func (c *Controller) Counts() Counts {
	return c.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed or
// interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts:    c.counts,
	}
}
