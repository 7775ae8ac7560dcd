package device

import "sync/atomic"

// Command is a unit of work handed from interrupt context to the main loop.
type Command uint32

const (
	CommandNone Command = iota
	CommandStateChanged
	CommandButtonStateChanged
	CommandSaveState
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "NONE"
	case CommandStateChanged:
		return "STATE_CHANGED"
	case CommandButtonStateChanged:
		return "BUTTON_STATE_CHANGED"
	case CommandSaveState:
		return "SAVE_STATE"
	default:
		return "UNKNOWN"
	}
}

// Mailbox is a single-slot command signal shared between a producer running
// in interrupt context and a polling consumer. It is not a queue: a Post
// overwrites any command that has not been consumed yet.
//
// The zero value holds CommandNone and is ready to use.
type Mailbox struct {
	v atomic.Uint32
}

// Post stores c, replacing any pending command. Safe to call from an
// interrupt handler.
func (m *Mailbox) Post(c Command) {
	m.v.Store(uint32(c))
}

// Load returns the pending command without consuming it.
func (m *Mailbox) Load() Command {
	return Command(m.v.Load())
}

// Take returns the pending command and resets the slot to CommandNone.
func (m *Mailbox) Take() Command {
	return Command(m.v.Swap(uint32(CommandNone)))
}

// CompareAndSwap replaces old with next only if old is still pending.
// The consumer uses it to chain follow-up commands without clobbering a
// command the producer posted in the meantime.
func (m *Mailbox) CompareAndSwap(old, next Command) bool {
	return m.v.CompareAndSwap(uint32(old), uint32(next))
}
