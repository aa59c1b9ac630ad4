package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-shims-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
}

// disconnectedClient returns a client that never dialled a broker.
func disconnectedClient() *Client {
	cfg := testConfig()
	return newClient(cfg)
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "shim", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graylogic-shims-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "shim" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("AutoReconnect and CleanSession should be enabled")
	}
	if opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 30s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS should not be configured when disabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should require TLS 1.2")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-shims-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "graylogic/shims/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p StatusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if p.Status != StatusOffline || p.Reason != reasonUnexpected {
		t.Errorf("will payload = %+v", p)
	}
}

func TestStatusPayloads(t *testing.T) {
	var online StatusPayload
	if err := json.Unmarshal([]byte(buildOnlinePayload("c1")), &online); err != nil {
		t.Fatal(err)
	}
	if online.Status != StatusOnline || online.ClientID != "c1" || online.Reason != "" {
		t.Errorf("online = %+v", online)
	}
	if _, err := time.Parse(time.RFC3339, online.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", online.Timestamp, err)
	}

	offline := buildOfflinePayload("c1")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline = %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "a/b", []byte("x"), 3, ErrInvalidQoS},
		{"oversized", "a/b", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("a/#/b", 1, handler); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("bad filter: %v", err)
	}
	if err := c.Subscribe("a/b", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if subs := c.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions() = %v, failed subscribes must not be tracked", subs)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v", err)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if err := disconnectedClient().Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestDeliverRecoversPanic(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.deliver(func(string, []byte) error { panic("boom") }, "a/b", nil)
	c.deliver(func(string, []byte) error { return errors.New("bad payload") }, "a/b", nil)

	if len(logger.errors) != 1 || logger.errors[0] != "MQTT handler panic recovered" {
		t.Errorf("errors = %v", logger.errors)
	}
	if len(logger.warns) != 1 || logger.warns[0] != "MQTT handler returned error" {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestConnectionCallbacks(t *testing.T) {
	c := disconnectedClient()
	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })

	c.lost(errors.New("eof"))

	if lost == nil || lost.Error() != "eof" {
		t.Errorf("onDisconnect got %v", lost)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}
