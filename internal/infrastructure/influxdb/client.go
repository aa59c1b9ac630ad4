package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Connect when mirroring is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrInvalidConfig means a required connection setting is missing.
	ErrInvalidConfig = errors.New("influxdb: invalid configuration")

	// ErrConnectionFailed means the server did not answer a ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by health checks after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Logger is the subset of logging.Logger the client reports write failures to.
type Logger interface {
	Warn(msg string, args ...any)
}

// pointWriter is the part of api.WriteAPI the client writes through.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// WriteStats counts points handed to the write API and asynchronous
// write failures reported back by it.
type WriteStats struct {
	Points   uint64 `json:"points"`
	Failures uint64 `json:"failures"`
}

// Client mirrors shim state into one InfluxDB bucket. It is safe for
// concurrent use.
type Client struct {
	server influxdb2.Client
	writer pointWriter
	target string // org/bucket, for log lines

	open     atomic.Bool
	points   atomic.Uint64
	failures atomic.Uint64

	mu     sync.RWMutex
	logger Logger
}

// Connect pings the configured server and opens a batching write API.
//
// Parameters:
//   - ctx: Bounds the initial ping together with an internal timeout
//   - cfg: InfluxDB settings; URL, Org and Bucket are required when enabled
//
// Returns:
//   - *Client: Ready client
//   - error: ErrDisabled, ErrInvalidConfig or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrInvalidConfig)
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, cfg.Org+"/"+cfg.Bucket)
	c.server = server
	go c.drainErrors(writeAPI.Errors())
	return c, nil
}

func newClient(w pointWriter, target string) *Client {
	c := &Client{writer: w, target: target}
	c.open.Store(true)
	return c
}

// writeOptions maps the batch settings onto client options. The flush
// interval is configured in seconds and passed on in milliseconds.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, server influxdb2.Client) error {
	healthy, err := server.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors consumes the write API's error channel until it closes.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.failures.Add(1)
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()
		if logger != nil {
			logger.Warn("InfluxDB write failed", "target", c.target, "error", err)
		}
	}
}

// SetLogger sets where asynchronous write failures are reported.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// write queues p unless the client has been closed.
func (c *Client) write(p *write.Point) {
	if p == nil || !c.open.Load() {
		return
	}
	c.writer.WritePoint(p)
	c.points.Add(1)
}

// WriteStats returns the point and failure counters.
func (c *Client) WriteStats() WriteStats {
	return WriteStats{Points: c.points.Load(), Failures: c.failures.Load()}
}

// Flush sends buffered points. It is a no-op after Close.
func (c *Client) Flush() {
	if c.open.Load() {
		c.writer.Flush()
	}
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.open.Load() || c.server == nil {
		return ErrNotConnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.server); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the connection. Later writes
// are dropped. Close is safe to call on a nil client and more than once.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writer.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}
