package connector

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
)

// DefaultQueueSize is the per message type queue capacity used when a
// message type does not set one.
const DefaultQueueSize = 100

// subscribeQoS is the QoS used for device topic subscriptions.
const subscribeQoS byte = 0

// MQTTClient is the subset of the MQTT client the connector needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger defines the logging interface used by the connector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageType binds topic filters to a named queue.
type MessageType struct {
	Name      string   `json:"message_type"`
	Topics    []string `json:"topics"`
	QueueSize int      `json:"queue_size"`
}

// Stats reports queue activity for one message type.
type Stats struct {
	MessageType string   `json:"message_type"`
	Topics      []string `json:"topics"`
	Queued      int      `json:"queued"`
	Received    uint64   `json:"received"`
	Dropped     uint64   `json:"dropped"`
}

type queue struct {
	topics   []string
	size     int
	messages []shim.Message
	received uint64
	dropped  uint64
}

// Connector routes MQTT messages into per message type queues.
//
// Thread Safety: All methods are safe for concurrent use. MQTT handlers run
// on the client's delivery goroutine and only hold the lock while queueing.
type Connector struct {
	client   MQTTClient
	brokerID string
	notify   func(shim.Notification)

	mu     sync.Mutex
	queues map[string]*queue

	logger Logger
}

// New creates a connector.
//
// Parameters:
//   - client: MQTT client used for subscriptions and publishing (may be nil)
//   - brokerID: Identifier stamped on notifications
//   - notify: Called after each queued message (may be nil)
//
// Returns:
//   - *Connector: Ready for AddMessageType
func New(client MQTTClient, brokerID string, notify func(shim.Notification)) *Connector {
	return &Connector{
		client:   client,
		brokerID: brokerID,
		notify:   notify,
		queues:   make(map[string]*queue),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the connector.
func (c *Connector) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// AddMessageType creates the queue for mt and subscribes its filters.
// Adding a type that already exists merges the new filters into it.
// A filter already subscribed for another type is shared: messages on it
// are queued for every type that declares it.
func (c *Connector) AddMessageType(mt MessageType) error {
	if mt.Name == "" || len(mt.Topics) == 0 {
		return fmt.Errorf("%w: %q needs a name and at least one topic", ErrInvalidMessageType, mt.Name)
	}
	for _, t := range mt.Topics {
		if err := mqtt.ValidateFilter(t); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidMessageType, mt.Name, err)
		}
	}

	size := mt.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	c.mu.Lock()
	q, ok := c.queues[mt.Name]
	if !ok {
		q = &queue{size: size}
		c.queues[mt.Name] = q
	}
	var added []string
	for _, t := range mt.Topics {
		if slices.Contains(q.topics, t) {
			continue
		}
		q.topics = append(q.topics, t)
		if owners := c.ownersLocked(t); len(owners) > 1 {
			c.logger.Info("sharing subscription", "message_type", mt.Name, "topic", t, "with", owners)
			continue
		}
		added = append(added, t)
	}
	client := c.client
	c.mu.Unlock()

	if client == nil {
		if len(added) > 0 {
			c.logger.Warn("connector has no mqtt client, subscriptions deferred", "message_type", mt.Name)
		}
		return nil
	}
	for _, t := range added {
		if err := client.Subscribe(t, subscribeQoS, c.handler(t)); err != nil {
			c.removeTopic(mt.Name, t)
			return fmt.Errorf("subscribing %q for %q: %w", t, mt.Name, err)
		}
		c.logger.Info("subscribed", "message_type", mt.Name, "topic", t)
	}
	return nil
}

// Resubscribe subscribes every known filter again. Call it when the MQTT
// client becomes available after filters were added without one.
func (c *Connector) Resubscribe(client MQTTClient) error {
	c.mu.Lock()
	c.client = client
	var filters []string
	for _, q := range c.queues {
		for _, t := range q.topics {
			if !slices.Contains(filters, t) {
				filters = append(filters, t)
			}
		}
	}
	c.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	sort.Strings(filters)
	for _, t := range filters {
		if err := client.Subscribe(t, subscribeQoS, c.handler(t)); err != nil {
			return fmt.Errorf("subscribing %q: %w", t, err)
		}
	}
	return nil
}

// RemoveMessageType discards the queue of name and unsubscribes the
// filters no other type still declares.
func (c *Connector) RemoveMessageType(name string) {
	c.mu.Lock()
	q, ok := c.queues[name]
	delete(c.queues, name)
	var unused []string
	if ok {
		for _, t := range q.topics {
			if len(c.ownersLocked(t)) == 0 {
				unused = append(unused, t)
			}
		}
	}
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return
	}
	for _, t := range unused {
		if err := client.Unsubscribe(t); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", t, "error", err)
		}
	}
}

// handler delivers messages on filter to every type declaring it.
func (c *Connector) handler(filter string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		c.mu.Lock()
		owners := c.ownersLocked(filter)
		c.mu.Unlock()

		for _, name := range owners {
			c.Receive(name, topic, payload)
		}
		return nil
	}
}

// ownersLocked returns the types declaring filter in name order. c.mu
// must be held.
func (c *Connector) ownersLocked(filter string) []string {
	var names []string
	for name, q := range c.queues {
		if slices.Contains(q.topics, filter) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Receive queues a message for messageType and sends the notification.
// Messages for unknown types are dropped.
func (c *Connector) Receive(messageType, topic string, payload []byte) {
	msg := shim.Message{
		MessageType: messageType,
		TopicParts:  mqtt.Split(topic),
		Payload:     string(payload),
	}

	c.mu.Lock()
	q, ok := c.queues[messageType]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("message for unknown message type dropped", "message_type", messageType, "topic", topic)
		return
	}
	q.received++
	if len(q.messages) >= q.size {
		q.messages = q.messages[1:]
		q.dropped++
		c.logger.Warn("queue full, oldest message dropped", "message_type", messageType, "size", q.size)
	}
	q.messages = append(q.messages, msg)
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(shim.Notification{MessageType: messageType, BrokerID: c.brokerID})
	}
}

// FetchQueued removes and returns the oldest message of messageType.
func (c *Connector) FetchQueued(messageType string) (shim.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[messageType]
	if !ok || len(q.messages) == 0 {
		return shim.Message{}, false
	}
	msg := q.messages[0]
	q.messages[0] = shim.Message{}
	q.messages = q.messages[1:]
	return msg, true
}

// MatchList returns the topic filters subscribed for messageType.
func (c *Connector) MatchList(messageType string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[messageType]
	if !ok {
		return nil
	}
	return append([]string(nil), q.topics...)
}

// MessageTypes returns the known message types in name order.
func (c *Connector) MessageTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns per message type counters in name order.
func (c *Connector) Stats() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Stats, 0, len(c.queues))
	for name, q := range c.queues {
		out = append(out, Stats{
			MessageType: name,
			Topics:      append([]string(nil), q.topics...),
			Queued:      len(q.messages),
			Received:    q.received,
			Dropped:     q.dropped,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageType < out[j].MessageType })
	return out
}

// Publish sends payload to topic through the MQTT client.
func (c *Connector) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	return client.Publish(topic, payload, qos, retained)
}

func (c *Connector) removeTopic(messageType, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[messageType]
	if !ok {
		return
	}
	for i, t := range q.topics {
		if t == topic {
			q.topics = append(q.topics[:i], q.topics[i+1:]...)
			return
		}
	}
}
