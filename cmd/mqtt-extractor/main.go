// MQTT Extractor - MQTT to time-series bridge
//
// This is the main entry point for the extractor. It subscribes to the
// configured MQTT topics, parses each message into data points and uploads
// them to a time-series store (CDF or InfluxDB), with Prometheus metrics and
// an optional extraction pipeline heartbeat.
//
// Usage:
//
//	mqtt-extractor [config.yaml]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/mqtt-extractor/internal/extractor"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/cdf"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/metrics"
	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-extractor/internal/upload"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar overrides the default configuration path.
	configEnvVar = "MQTT_EXTRACTOR_CONFIG"

	healthCheckTimeout = 5 * time.Second
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// store is the outbound time-series store as used by main.
type store interface {
	upload.Store
	extractor.RunReporter
	HealthCheck(ctx context.Context) error
	Close() error
}

// run is the application proper, split from main for testability. It returns
// nil after ctx is cancelled and every component has shut down. args exclude
// the program name.
func run(ctx context.Context, args []string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MQTT extractor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Resolve parsers before touching the network
	table, err := extractor.BuildTable(cfg.Subscriptions)
	if err != nil {
		return fmt.Errorf("building dispatch table: %w", err)
	}

	st, err := connectStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connecting to %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		log.Info("closing store")
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store connected", "type", cfg.Store.Type)

	m := metrics.New()
	if regErr := m.Register(); regErr != nil {
		return fmt.Errorf("registering metrics: %w", regErr)
	}

	// Pushers stop after the extractor's final flush so the last push
	// carries the final upload counters.
	if len(cfg.Metrics.PushGateways) > 0 {
		pushers := metrics.StartPushers(cfg.Metrics.PushGateways, m.Gatherer(), log.With("component", "push"))
		defer func() {
			log.Info("stopping metrics pushers")
			pushers.Stop()
		}()
		log.Info("metrics pushers started", "gateways", len(cfg.Metrics.PushGateways))
	}

	status := extractor.NewStatusReporter(extractor.StatusReporterConfig{
		Pipeline: cfg.Status.Pipeline,
		Interval: cfg.GetStatusInterval(),
		Reporter: st,
		Logger:   log.With("component", "status"),
	})

	ext, err := extractor.New(extractor.Options{
		Table:         table,
		Store:         st,
		Metrics:       m,
		Prefix:        cfg.Upload.ExternalIDPrefix,
		CreateMissing: cfg.Upload.CreateMissing,
		MaxQueueSize:  cfg.Upload.MaxQueueSize,
		Interval:      cfg.GetUploadInterval(),
		Status:        status,
		Logger:        log.With("component", "extractor"),
	})
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}
	ext.Start(ctx)
	defer func() {
		log.Info("flushing pending data points")
		if closeErr := ext.Close(); closeErr != nil {
			log.Error("error flushing pending data points", "error", closeErr)
		}
	}()

	// Routes go to Connect so messages from a stored session are handled
	// before the SUBACKs arrive.
	subs := table.Subscriptions()
	routes := make([]mqtt.Route, 0, len(subs))
	for _, sub := range subs {
		routes = append(routes, mqtt.Route{Topic: sub.Topic, QoS: sub.QoS, Handler: ext.HandleMessage})
		log.Info("MQTT subscribe", "topic", sub.Topic, "handler", sub.Handler, "qos", sub.QoS)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, log.With("component", "mqtt"), routes)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"session_present", mqttClient.SessionPresent(),
		"subscriptions", mqttClient.SubscriptionCount(),
	)

	health := func(ctx context.Context) error {
		return healthCheck(ctx, mqttClient, st)
	}

	if cfg.Metrics.Server.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Server.Host, cfg.Metrics.Server.Port, m.Gatherer(), health, log.With("component", "metrics"))
		if startErr := srv.Start(); startErr != nil {
			return fmt.Errorf("starting metrics server: %w", startErr)
		}
		defer func() {
			log.Info("stopping metrics server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping metrics server", "error", closeErr)
			}
		}()
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := healthCheck(checkCtx, mqttClient, st); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Metrics server
	// 2. MQTT (no further messages)
	// 3. Extractor (final flush)
	// 4. Metrics pushers (final push)
	// 5. Store

	log.Info("MQTT extractor stopped")
	return nil
}

// getConfigPath returns the configuration file path: the first argument,
// else MQTT_EXTRACTOR_CONFIG, else the default.
func getConfigPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectStore builds the configured store client and verifies it is reachable.
func connectStore(ctx context.Context, cfg config.StoreConfig) (store, error) {
	switch cfg.Type {
	case config.StoreCDF:
		client, err := cdf.Connect(ctx, cfg.CDF)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StoreInfluxDB:
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// healthCheck returns the first failure of the broker connection or the store.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, st store) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := st.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
