package mqtt

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// States contains every relay state that was published.
	States []bool

	// Temperatures contains every temperature that was published.
	Temperatures []float64

	// Discoveries contains every discovery announcement.
	Discoveries []Discovery

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by the state, temperature and
	// discovery methods.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	commands chan Command
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{commands: make(chan Command, commandBacklog)}
}

// PublishState records the relay state.
func (f *FakePublisher) PublishState(on bool) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.States = append(f.States, on)
	return nil
}

// PublishTemperature records the reading.
func (f *FakePublisher) PublishTemperature(celsius float64) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Temperatures = append(f.Temperatures, celsius)
	return nil
}

// PublishDiscovery records the announcement.
func (f *FakePublisher) PublishDiscovery(d Discovery) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Discoveries = append(f.Discoveries, d)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Commands returns the channel fed by Send.
func (f *FakePublisher) Commands() <-chan Command {
	return f.commands
}

// Send injects a remote command as if it arrived from the broker.
func (f *FakePublisher) Send(c Command) {
	f.commands <- c
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.States = nil
	f.Temperatures = nil
	f.Discoveries = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
