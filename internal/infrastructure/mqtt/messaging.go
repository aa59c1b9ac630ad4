package mqtt

import (
	"errors"
	"fmt"
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
	ErrInvalidFilter    = errors.New("mqtt: invalid topic filter")
	ErrInvalidQoS       = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrPublishFailed and ErrSubscribeFailed wrap broker rejections,
	// timeouts and local refusals of an otherwise valid request.
	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
)

// maxPayloadSize bounds outbound payloads at 1MB.
const maxPayloadSize = 1 << 20

// await blocks until the broker answers token or the publish timeout
// passes, and wraps any failure in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no answer after %v", op, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// Publish sends payload to topic. For QoS 1 and 2 it waits for the
// broker's acknowledgement.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe routes messages matching filter to handler. The subscription
// is replayed after every reconnect; subscribing to the same filter again
// replaces its handler.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	switch {
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.track(subscription{topic: filter, qos: qos, handler: handler})
	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.untrack(filter)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for the exact filter string. Messages
// already in flight may still be delivered.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.untrack(filter)
	return await(c.client.Unsubscribe(filter), ErrSubscribeFailed)
}

// Subscriptions returns the tracked filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for filter := range c.subscriptions {
		out = append(out, filter)
	}
	sort.Strings(out)
	return out
}

func (c *Client) track(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) untrack(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}
