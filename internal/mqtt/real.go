package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout       = 10 * time.Second
	publishTimeout       = 5 * time.Second
	disconnectQuiesce    = 1000 // milliseconds
	retryInterval        = 5 * time.Second
	maxReconnectInterval = time.Minute
	commandBacklog       = 8
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.Errorf("publish timeout after %s", publishTimeout)

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	Username   string
	Password   string
	Name       string // device name; the client ID is derived from it
	Topics     Topics
	BufferSize int
	Log        logrus.FieldLogger
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	topics   Topics
	clientID string
	log      logrus.FieldLogger
	commands chan Command

	mu  sync.Mutex
	buf *ringBuffer
}

// ClientID returns "<name>-<8 hex>" so two daemons sharing a name don't
// kick each other off the broker.
func ClientID(name string) string {
	id := uuid.New()
	return name + "-" + id.String()[:8]
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// A broker that is down at startup is not an error: paho keeps retrying and
// publishes are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	p := &RealPublisher{
		topics:   o.Topics,
		clientID: ClientID(o.Name),
		log:      o.Log,
		commands: make(chan Command, commandBacklog),
		buf:      newRingBuffer(o.BufferSize),
	}

	p.client = paho.NewClient(p.clientOptions(o))
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.WithField("broker", o.Broker).Warn("Broker not reachable yet, retrying in background")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connect to broker")
	}
	return p, nil
}

func (p *RealPublisher) clientOptions(o Options) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(p.clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(connectTimeout).
		SetWill(o.Topics.Status, PayloadOffline, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	return opts
}

// onConnect runs on the paho goroutine after every (re)connect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.log.WithField("client_id", p.clientID).Info("Connected to broker")

	if token := c.Subscribe(p.topics.Set, 1, p.onMessage); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		p.log.WithError(token.Error()).Error("Subscribe to command topic failed")
	}
	c.Publish(p.topics.Status, 1, true, PayloadOnline)

	p.mu.Lock()
	pending := p.buf.drainAll()
	p.mu.Unlock()
	if len(pending) > 0 {
		p.log.WithField("count", len(pending)).Info("Replaying buffered messages")
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.log.WithError(err).Warn("Connection to broker lost")
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		p.log.WithError(err).WithField("topic", msg.Topic()).Warn("Ignoring command")
		return
	}
	select {
	case p.commands <- cmd:
	default:
		p.log.WithField("command", cmd).Warn("Command backlog full, dropping")
	}
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Commands delivers remote commands received on the set topic.
func (p *RealPublisher) Commands() <-chan Command {
	return p.commands
}

// PublishState sends the retained relay state.
func (p *RealPublisher) PublishState(on bool) error {
	return p.publish(p.topics.State, 1, true, FormatState(on), true)
}

// PublishTemperature sends the retained temperature reading.
func (p *RealPublisher) PublishTemperature(celsius float64) error {
	return p.publish(p.topics.Temperature, 0, true, FormatTemperature(celsius), true)
}

// PublishDiscovery sends the Home Assistant config payloads.
func (p *RealPublisher) PublishDiscovery(d Discovery) error {
	sw, sensor, err := FormatDiscovery(p.topics, d)
	if err != nil {
		return errors.Wrap(err, "format discovery")
	}
	if err := p.publish(p.topics.DiscoverySwitch, 1, true, sw, true); err != nil {
		return err
	}
	if sensor == nil {
		return nil
	}
	return p.publish(p.topics.DiscoverySensor, 1, true, sensor, true)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}
	return p.publish(p.topics.System, 1, event.Retained, payload, false)
}

// publish sends immediately when connected and buffers otherwise. Retained
// latest-value topics replace their earlier buffered entry.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte, latestOnly bool) error {
	if !p.client.IsConnectionOpen() {
		p.bufferMsg(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained}, latestOnly)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}

func (p *RealPublisher) bufferMsg(m bufferedMsg, latestOnly bool) {
	p.mu.Lock()
	var firstDrop bool
	if latestOnly {
		firstDrop = p.buf.replace(m)
	} else {
		firstDrop = p.buf.push(m)
	}
	p.mu.Unlock()

	if firstDrop {
		p.log.WithField("capacity", p.buf.capacity).Warn("Offline buffer full, dropping oldest")
	}
}

// Close publishes the offline availability and disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.client.IsConnectionOpen() {
		p.client.Publish(p.topics.Status, 1, true, PayloadOffline).WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
