package transport

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	defaultMQTTPrefix = "xpl"
	mqttQoS           = 0
	mqttWait          = 10 * time.Second
)

// MQTT carries xPL datagrams over an MQTT broker, one topic level per sender.
type MQTT struct {
	client mqtt.Client
	id     string
	topics topicScheme
	in     *inbox
	logger zerolog.Logger
}

var _ Transport = (*MQTT)(nil)

// OpenMQTT connects to broker and subscribes to the broadcast and direct
// topics under prefix.
func OpenMQTT(broker, prefix, id string, logger zerolog.Logger) (*MQTT, error) {
	if prefix == "" {
		prefix = defaultMQTTPrefix
	}
	if id == "" {
		id = newEndpointID()
	}
	if err := validEndpointID(id); err != nil {
		return nil, &Error{Op: "open", Addr: broker, Err: err}
	}

	t := &MQTT{
		id:     id,
		topics: topicScheme{prefix: prefix, sep: "/", any: "+"},
		in:     newInbox(),
		logger: logger,
	}

	options := mqtt.NewClientOptions()
	options.AddBroker(broker)
	options.SetClientID(id)
	options.SetCleanSession(true)
	options.SetAutoReconnect(true)
	options.SetConnectTimeout(mqttWait)
	options.SetOrderMatters(false)
	options.SetOnConnectHandler(t.onConnect)
	options.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
	})

	t.client = mqtt.NewClient(options)
	token := t.client.Connect()
	if !token.WaitTimeout(mqttWait) {
		return nil, &Error{Op: "open", Addr: broker, Err: fmt.Errorf("connect timed out after %v", mqttWait)}
	}
	if err := token.Error(); err != nil {
		return nil, &Error{Op: "open", Addr: broker, Err: err}
	}
	return t, nil
}

// onConnect (re)subscribes after every connect, since sessions are clean.
func (t *MQTT) onConnect(c mqtt.Client) {
	for _, topic := range t.topics.subscriptions(t.id) {
		token := c.Subscribe(topic, mqttQoS, t.onMessage)
		if token.WaitTimeout(mqttWait) && token.Error() != nil {
			t.logger.Error().Err(token.Error()).Str("topic", topic).Msg("mqtt subscribe failed")
		}
	}
	t.logger.Info().Str("id", t.id).Msg("mqtt transport connected")
}

func (t *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	from := t.topics.sender(msg.Topic())
	if from == "" || from == t.id {
		return
	}
	t.in.push(Datagram{
		Data:      append([]byte(nil), msg.Payload()...),
		From:      from,
		Broadcast: t.topics.isBroadcast(msg.Topic()),
	})
}

// Send publishes data on the broadcast topic or dest's direct topic.
func (t *MQTT) Send(dest string, data []byte) error {
	if t.in.closed() {
		return &Error{Op: "send", Addr: dest, Err: ErrClosed}
	}
	topic := t.topics.broadcast(t.id)
	if dest != Broadcast {
		topic = t.topics.direct(dest, t.id)
	}
	token := t.client.Publish(topic, mqttQoS, false, data)
	if !token.WaitTimeout(mqttWait) {
		return &Error{Op: "send", Addr: topic, Err: fmt.Errorf("publish timed out")}
	}
	if err := token.Error(); err != nil {
		return &Error{Op: "send", Addr: topic, Err: err}
	}
	return nil
}

// Receive returns the next datagram delivered by the broker.
func (t *MQTT) Receive(timeout time.Duration) (Datagram, error) {
	return t.in.receive(timeout)
}

// LocalAddresses returns the client id.
func (t *MQTT) LocalAddresses() []string {
	return []string{t.id}
}

// Close disconnects from the broker.
func (t *MQTT) Close() error {
	if !t.in.close() {
		return &Error{Op: "close", Err: ErrClosed}
	}
	t.client.Disconnect(250)
	return nil
}
