// Gray Logic Shims - MQTT device shim engine
//
// This is the main entry point for the shims service. It subscribes to
// MQTT message types, maps every message onto the state of the devices
// bound to that type, and exposes devices, templates and triggers over a
// REST and WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-shims/migrations"

	"github.com/nerrad567/gray-logic-shims/internal/api"
	"github.com/nerrad567/gray-logic-shims/internal/auth"
	"github.com/nerrad567/gray-logic-shims/internal/connector"
	"github.com/nerrad567/gray-logic-shims/internal/decoder"
	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-shims/internal/shim"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// pruneInterval is how often old state history is removed.
const pruneInterval = time.Hour

func main() {
	tokenSubject := flag.String("token", "", "print an API access token for `subject` and exit")
	flag.Parse()

	if *tokenSubject != "" {
		if err := printToken(*tokenSubject); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the configuration file.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	path := config.Path()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// printToken writes a signed API token for subject to stdout.
func printToken(subject string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := auth.GenerateToken(subject, cfg.API.Auth.JWTSecret, cfg.GetAccessTokenTTL())
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Shims",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	schema := device.NewSchemaRegistry(device.NewSQLiteSchemaRepository(db.DB))
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB), schema)
	registry.SetLogger(log.Component("registry"))
	registry.SetHistory(history)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	if cfg.Shims.DevicesFile != "" {
		seed, loadErr := shim.LoadDevices(cfg.Shims.DevicesFile)
		if loadErr != nil {
			return fmt.Errorf("loading devices file: %w", loadErr)
		}
		created := shim.SeedDevices(ctx, registry, seed, log)
		log.Info("devices seeded", "path", cfg.Shims.DevicesFile, "created", created)
	}
	log.Info("device registry initialised", "devices", registry.GetStats().Total)

	decoders := decoder.NewCache(decoder.NewLoader())
	registry.OnChange(func(old, updated *device.Device) {
		if old == nil {
			return
		}
		if updated == nil || updated.Props.CustomDecoder != old.Props.CustomDecoder {
			decoders.Evict(old.ID)
		}
	})

	triggers := trigger.NewRegistry()
	triggers.SetLogger(log.Component("triggers"))
	loadTriggers(triggers, cfg.Triggers, log)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetLogger(log.Component("influxdb"))
		registry.OnStateChange(func(d *device.Device, updates []device.StateUpdate) {
			influxClient.WriteState(statePoint(d, updates))
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	brokerID := fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	log.Info("MQTT connected", "broker", brokerID, "client_id", cfg.MQTT.Broker.ClientID)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	hub := api.NewHub(cfg.WebSocket, log.Component("api"))
	go hub.Run(ctx)
	registry.OnStateChange(hub.DeviceStateChanged)

	firer := trigger.NewFirer(mqttClient, hub)
	firer.SetLogger(log.Component("triggers"))
	if influxClient != nil {
		firer.SetRecorder(influxClient)
	}

	// The connector notifies the worker, which fetches from the connector.
	var worker *shim.Worker
	conn := connector.New(nil, brokerID, func(n shim.Notification) { worker.Enqueue(n) })
	conn.SetLogger(log.Component("connector"))

	dispatcher := shim.NewDispatcher(registry, schema, decoders, triggers, firer, log.Component("worker"))
	worker = shim.NewWorker(dispatcher, registry, conn, cfg.GetPollInterval(), log.Component("worker"))

	for _, mt := range cfg.Connector.MessageTypes {
		if addErr := conn.AddMessageType(connector.MessageType{
			Name:      mt.MessageType,
			Topics:    mt.Topics,
			QueueSize: mt.QueueSize,
		}); addErr != nil {
			return fmt.Errorf("adding message type %q: %w", mt.MessageType, addErr)
		}
	}
	if subErr := conn.Resubscribe(mqttClient); subErr != nil {
		return fmt.Errorf("subscribing message types: %w", subErr)
	}
	log.Info("connector subscribed", "message_types", len(cfg.Connector.MessageTypes))

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if runErr := worker.Run(workerCtx); runErr != nil {
			log.Error("shim worker stopped", "error", runErr)
		}
	}()
	defer func() {
		log.Info("stopping shim worker")
		stopWorker()
		<-workerDone
	}()

	commander := shim.NewCommander(registry, conn, log.Component("commands"))

	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		Registry:     registry,
		History:      history,
		Commander:    commander,
		Injector:     worker,
		Connector:    conn,
		Triggers:     triggers,
		Broker:       mqttClient,
		TemplateDirs: cfg.Shims.TemplateDirs,
		DecoderDirs:  cfg.Shims.DecoderDirs,
		ExternalHub:  hub,
		Version:      version,
	}
	if influxClient != nil {
		deps.Mirror = influxClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Shims.HistoryRetention > 0 {
		retention := time.Duration(cfg.Shims.HistoryRetention) * 24 * time.Hour
		go pruneHistory(ctx, history, retention, log)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if influxClient != nil {
		influxClient.Flush()
	}

	log.Info("Gray Logic Shims stopped")
	return nil
}

// loadTriggers starts processing the configured triggers. Invalid entries
// are logged and skipped.
func loadTriggers(reg *trigger.Registry, entries []config.TriggerConfig, log *logging.Logger) {
	for _, tc := range entries {
		t := trigger.Trigger{
			ID:          tc.ID,
			Name:        tc.Name,
			Kind:        trigger.Kind(tc.Kind),
			DeviceID:    tc.DeviceID,
			DeviceState: tc.DeviceState,
			Enabled:     tc.Enabled == nil || *tc.Enabled,
		}
		if t.ID == "" {
			t.ID = trigger.GenerateID()
		}
		if err := reg.StartProcessing(t); err != nil {
			log.Warn("skipping trigger", "trigger_id", t.ID, "error", err)
		}
	}
	log.Info("triggers loaded", "count", reg.Count())
}

// statePoint converts a state write into an InfluxDB point.
func statePoint(d *device.Device, updates []device.StateUpdate) influxdb.StatePoint {
	values := make(map[string]any, len(updates))
	for _, u := range updates {
		values[u.Key] = u.Value
	}
	return influxdb.StatePoint{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		DeviceType: string(d.Type),
		Values:     values,
		Time:       time.Now().UTC(),
	}
}

// historyPruner removes old state snapshots.
type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistory removes snapshots older than retention once at startup and
// then every pruneInterval until ctx is cancelled.
func pruneHistory(ctx context.Context, p historyPruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if n, err := p.PruneHistory(ctx, retention); err != nil {
			log.Warn("pruning state history failed", "error", err)
		} else if n > 0 {
			log.Info("state history pruned", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
