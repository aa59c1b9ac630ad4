package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-shims/internal/auth"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// dialWS connects to the test server's WebSocket endpoint.
func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one matches want or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, want func(WSMessage) bool) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if want(msg) {
			return msg
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	readUntil(t, conn, func(m WSMessage) bool { return m.Type == WSTypeResponse && m.ID == "sub-1" })
}

func TestWebSocketBroadcastsStateAndTriggers(t *testing.T) {
	e := newTestEnv(t, "")
	e.addDevice(t, sensorDevice())
	if err := e.triggers.StartProcessing(trigger.Trigger{ID: "t1", Kind: trigger.KindDeviceUpdated, DeviceID: "temp-1", Enabled: true}); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}

	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	conn := dialWS(t, srv, "")
	subscribe(t, conn, ChannelStateChanged, trigger.ChannelFired)

	body, _ := json.Marshal(map[string]any{ //nolint:errcheck // static map
		"topic":   "tele/garden/SENSOR",
		"payload": `{"DS18B20":{"Temperature":18.04}}`,
	})
	resp, err := http.Post(srv.URL+"/api/v1/devices/temp-1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	resp.Body.Close()

	msg := readUntil(t, conn, func(m WSMessage) bool { return m.EventType == ChannelStateChanged })
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["device_id"] != "temp-1" {
		t.Errorf("state payload = %v", msg.Payload)
	}
	state, _ := payload["state"].(map[string]any) //nolint:errcheck // checked below
	if state[device.StateSensorValue] != 18.0 {
		t.Errorf("broadcast sensorValue = %v, want 18", state[device.StateSensorValue])
	}

	msg = readUntil(t, conn, func(m WSMessage) bool { return m.EventType == trigger.ChannelFired })
	fired, _ := msg.Payload.(map[string]any) //nolint:errcheck // checked below
	if fired["trigger_id"] != "t1" {
		t.Errorf("trigger payload = %v", msg.Payload)
	}
}

func TestWebSocketPing(t *testing.T) {
	e := newTestEnv(t, "")
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	conn := dialWS(t, srv, "")
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, func(m WSMessage) bool { return m.ID == "p1" })
	if msg.Type != WSTypePong {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	e := newTestEnv(t, testSecret)
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}

	token, err := auth.GenerateToken("panel", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	dialWS(t, srv, "?token="+token)
}

func newTestClient(h *Hub) *WSClient {
	return &WSClient{hub: h, send: make(chan []byte, 4), subs: make(map[string]subscription)}
}

func TestHubDeviceFilter(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Discard())
	all := newTestClient(h)
	one := newTestClient(h)
	h.Register(all)
	h.Register(one)

	all.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged}})
	one.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged, trigger.ChannelFired}, DeviceIDs: []string{"d1"}})

	h.DeviceStateChanged(&device.Device{ID: "d2"}, []device.StateUpdate{{Key: "onOffState", Value: true}})
	h.Broadcast(trigger.ChannelFired, trigger.Event{TriggerID: "t", DeviceID: "d1"})

	if len(all.send) != 1 {
		t.Errorf("unfiltered client got %d messages, want 1", len(all.send))
	}
	if len(one.send) != 1 {
		t.Errorf("filtered client got %d messages, want 1 (trigger for d1 only)", len(one.send))
	}
	if got := h.Stats().Delivered; got != 2 {
		t.Errorf("Stats().Delivered = %d, want 2", got)
	}
}

func TestSubscribeWidensAndUnsubscribes(t *testing.T) {
	c := newTestClient(NewHub(config.WebSocketConfig{}, logging.Discard()))

	c.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged}, DeviceIDs: []string{"a"}})
	c.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged}, DeviceIDs: []string{"b"}})
	if !c.wants(ChannelStateChanged, "a") || !c.wants(ChannelStateChanged, "b") || c.wants(ChannelStateChanged, "c") {
		t.Error("device filter was not widened to a and b")
	}

	c.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged}})
	c.subscribe(WSSubscribePayload{Channels: []string{ChannelStateChanged}, DeviceIDs: []string{"a"}})
	if !c.wants(ChannelStateChanged, "c") {
		t.Error("unfiltered subscription was narrowed")
	}

	c.subscribe(WSSubscribePayload{Channels: []string{trigger.ChannelFired}})
	c.unsubscribe([]string{ChannelStateChanged})
	if got := c.channels(); len(got) != 1 || got[0] != trigger.ChannelFired {
		t.Errorf("channels() = %v, want [%s]", got, trigger.ChannelFired)
	}
}

func TestHubDropsWhenClientBufferFull(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := &WSClient{hub: h, send: make(chan []byte, 1), subs: map[string]subscription{"x": {}}}
	h.Register(c)

	h.Broadcast("x", "one")
	h.Broadcast("x", "two")

	if s := h.Stats(); s.Delivered != 1 || s.Dropped != 1 || s.ConnectedClients != 1 {
		t.Errorf("Stats() = %+v, want 1 delivered, 1 dropped, 1 client", s)
	}

	h.Unregister(c)
	if c.trySend([]byte("late")) {
		t.Error("trySend() on an unregistered client = true")
	}
}

func TestWebSocketSubscribeRequiresChannels(t *testing.T) {
	e := newTestEnv(t, "")
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	conn := dialWS(t, srv, "")
	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "s", Payload: WSSubscribePayload{}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readUntil(t, conn, func(m WSMessage) bool { return m.ID == "s" }); msg.Type != WSTypeError {
		t.Errorf("type = %q, want error", msg.Type)
	}
}
