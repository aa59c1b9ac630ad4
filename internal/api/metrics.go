package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-shims/internal/connector"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/influxdb"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSStats              `json:"websocket"`
	MQTT          MQTTMetrics          `json:"mqtt"`
	InfluxDB      *influxdb.WriteStats `json:"influxdb,omitempty"`
	Devices       device.Stats         `json:"devices"`
	Triggers      int                  `json:"triggers"`
	MessageTypes  []connector.Stats    `json:"message_types,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// handleMetrics returns system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Devices:  s.registry.GetStats(),
		Triggers: s.triggers.Count(),
	}
	if s.hub != nil {
		metrics.WebSocket = s.hub.Stats()
	}
	if s.broker != nil {
		metrics.MQTT.Connected = s.broker.IsConnected()
	}
	if s.mirror != nil {
		st := s.mirror.WriteStats()
		metrics.InfluxDB = &st
	}
	if s.subs != nil {
		metrics.MessageTypes = s.subs.Stats()
	}

	writeJSON(w, http.StatusOK, metrics)
}
