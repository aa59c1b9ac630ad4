package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

// MessageHandler receives a message's concrete topic and raw payload.
//
// Handlers run on paho's delivery goroutine and must not block for long.
// A returned error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// hooks are the caller-supplied callbacks; any may be nil.
type hooks struct {
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Client is a paho client that remembers its subscriptions across
// reconnects and keeps a retained online/offline status for the service.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	online atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu sync.RWMutex
	hooks  hooks
}

// Connect dials the broker in cfg and blocks until the first connection
// succeeds or times out. Auto-reconnect and the Last Will are configured
// before dialling; the online status is published on every (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if log := c.hook().logger; log != nil {
			log.Warn("MQTT reconnecting", "broker", brokerURL(cfg))
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no answer after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// The OnConnect handler runs asynchronously; callers may publish now.
	c.online.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg, subscriptions: make(map[string]subscription)}
}

func (c *Client) hook() hooks {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.hooks
}

func (c *Client) setHook(fn func(h *hooks)) {
	c.hookMu.Lock()
	fn(&c.hooks)
	c.hookMu.Unlock()
}

// SetOnConnect sets a callback run on the initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.setHook(func(h *hooks) { h.onConnect = callback })
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.setHook(func(h *hooks) { h.onDisconnect = callback })
}

// SetLogger sets the logger for handler errors, panics and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.setHook(func(h *hooks) { h.logger = logger })
}

func (c *Client) connected() {
	c.online.Store(true)
	c.resubscribe()
	c.client.Publish(TopicStatus, c.qos(), true, buildOnlinePayload(c.cfg.Broker.ClientID))
	if cb := c.hook().onConnect; cb != nil {
		cb()
	}
}

func (c *Client) lost(err error) {
	c.online.Store(false)
	h := c.hook()
	if h.logger != nil {
		h.logger.Warn("MQTT connection lost", "error", err)
	}
	if h.onDisconnect != nil {
		h.onDisconnect(err)
	}
}

// resubscribe replays every tracked subscription after a reconnect.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				if log := c.hook().logger; log != nil {
					log.Error("MQTT resubscribe failed", "topic", topic, "error", err)
				}
			}
		}(sub.topic)
	}
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // QoS validated by config
}

// Close publishes a graceful offline status and disconnects. Closing a
// nil or never-connected client is not an error.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.client.Publish(TopicStatus, c.qos(), true, buildOfflinePayload(c.cfg.Broker.ClientID)).
			WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck returns nil when the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the client believes it is connected and
// paho agrees.
func (c *Client) IsConnected() bool {
	return c.online.Load() && c.client != nil && c.client.IsConnected()
}

// wrapHandler adapts handler to paho.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver runs handler, logging its error and recovering a panic.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if log := c.hook().logger; log != nil {
				log.Error("MQTT handler panic recovered", "topic", topic, "panic", r)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if log := c.hook().logger; log != nil {
			log.Warn("MQTT handler returned error", "topic", topic, "error", err)
		}
	}
}
