package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func connectedClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	return newClient(w, "graylogic/shims"), w
}

type warnLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, msg)
}

func tagMap(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fieldMap(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnectRejectsConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.InfluxDBConfig
		want error
	}{
		{"disabled", config.InfluxDBConfig{Enabled: false, URL: "http://localhost:8086"}, ErrDisabled},
		{"no url", config.InfluxDBConfig{Enabled: true, Org: "o", Bucket: "b"}, ErrInvalidConfig},
		{"no bucket", config.InfluxDBConfig{Enabled: true, URL: "http://localhost:8086", Org: "o"}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Connect(context.Background(), tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteOptions(t *testing.T) {
	opts := writeOptions(config.InfluxDBConfig{})
	if opts.BatchSize() != defaultBatchSize || opts.FlushInterval() != 10000 {
		t.Errorf("defaults: batch=%d flush=%d", opts.BatchSize(), opts.FlushInterval())
	}
	opts = writeOptions(config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2})
	if opts.BatchSize() != 20 || opts.FlushInterval() != 2000 {
		t.Errorf("configured: batch=%d flush=%d", opts.BatchSize(), opts.FlushInterval())
	}
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Org:     "graylogic",
		Bucket:  "shims",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestStateFields(t *testing.T) {
	fields := StateFields(map[string]any{
		"onOffState":      true,
		"brightnessLevel": int64(42),
		"sensorValue":     21.5,
		"label":           "kitchen",
		"nested":          map[string]any{"a": 1},
	})

	want := map[string]float64{"onOffState": 1, "brightnessLevel": 42, "sensorValue": 21.5}
	if len(fields) != len(want) {
		t.Fatalf("fields = %v, want %v", fields, want)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%s] = %v, want %v", k, fields[k], v)
		}
	}
}

func TestBuildStatePoint(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	p := BuildStatePoint(StatePoint{
		DeviceID:   "d1",
		DeviceName: "Hall Lamp",
		DeviceType: "dimmer",
		Values:     map[string]any{"onOffState": false, "brightnessLevel": 0},
		Time:       at,
	})
	if p == nil {
		t.Fatal("BuildStatePoint() = nil")
	}
	if p.Name() != MeasurementState || !p.Time().Equal(at) {
		t.Errorf("name=%s time=%v", p.Name(), p.Time())
	}

	tags := tagMap(p)
	if tags["device_id"] != "d1" || tags["device_type"] != "dimmer" || tags["device_name"] != "Hall Lamp" {
		t.Errorf("tags = %v", tags)
	}
	fields := fieldMap(p)
	if fields["onOffState"] != 0.0 || fields["brightnessLevel"] != 0.0 {
		t.Errorf("fields = %v", fields)
	}

	if BuildStatePoint(StatePoint{DeviceID: "d1", Values: map[string]any{"text": "x"}}) != nil {
		t.Error("point with no storable fields should be nil")
	}
}

func TestWriteState(t *testing.T) {
	c, w := connectedClient()

	c.WriteState(StatePoint{DeviceID: "d1", Values: map[string]any{"sensorValue": 3.5}})
	c.WriteState(StatePoint{DeviceID: "d1", Values: map[string]any{"text": "skip"}})
	c.WriteTriggerFired("t1", "d1", time.Now())

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	if st := c.WriteStats(); st.Points != 2 || st.Failures != 0 {
		t.Errorf("WriteStats() = %+v", st)
	}
	if w.points[1].Name() != MeasurementTrigger || tagMap(w.points[1])["trigger_id"] != "t1" {
		t.Errorf("trigger point = %s %v", w.points[1].Name(), tagMap(w.points[1]))
	}
}

func TestWritesDroppedWhenDisconnected(t *testing.T) {
	c, w := connectedClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushes = %d, want 1", w.flushes)
	}

	c.WriteState(StatePoint{DeviceID: "d1", Values: map[string]any{"v": 1}})
	c.Flush()

	if len(w.points) != 0 || w.flushes != 1 {
		t.Errorf("points=%d flushes=%d after Close", len(w.points), w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestWriteFailuresCountedAndLogged(t *testing.T) {
	c, _ := connectedClient()
	logger := &warnLogger{}
	c.SetLogger(logger)

	errs := make(chan error, 2)
	errs <- errors.New("bucket not found")
	errs <- errors.New("unauthorized")
	close(errs)
	c.drainErrors(errs)

	if st := c.WriteStats(); st.Failures != 2 {
		t.Errorf("Failures = %d, want 2", st.Failures)
	}
	if len(logger.lines) != 2 {
		t.Errorf("logged %d warnings, want 2", len(logger.lines))
	}
}
