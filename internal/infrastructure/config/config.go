package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend identifiers accepted in store.type.
const (
	StoreCDF      = "cdf"
	StoreInfluxDB = "influxdb"
)

// DefaultHandler is the parser used by subscriptions that do not name one.
const DefaultHandler = "cdf"

// Config is the root configuration structure for the MQTT extractor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT          MQTTConfig           `yaml:"mqtt"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Upload        UploadConfig         `yaml:"upload"`
	Status        StatusConfig         `yaml:"status"`
	Store         StoreConfig          `yaml:"store"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// CleanSession starts every connection without broker-side session state.
	// The extractor defaults to a persistent session so QoS 1/2 messages
	// published while it was offline are delivered on reconnect.
	CleanSession bool `yaml:"clean_session"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SubscriptionConfig binds a broker topic to a payload parser.
type SubscriptionConfig struct {
	// Topic is the topic (or broker-side pattern) to subscribe to.
	Topic string `yaml:"topic"`

	// Handler names the registered payload parser, e.g. "cdf" or "triples".
	Handler string `yaml:"handler"`

	// QoS is the maximum quality of service for this subscription (0, 1 or 2).
	QoS int `yaml:"qos"`
}

// UploadConfig controls batching towards the time-series store.
type UploadConfig struct {
	// Interval is the maximum time between uploads (seconds).
	Interval int `yaml:"interval"`

	// CreateMissing creates unknown time series before uploading their points.
	CreateMissing bool `yaml:"create_missing"`

	// MaxQueueSize triggers an early upload once this many points are pending.
	MaxQueueSize int `yaml:"max_queue_size"`

	// ExternalIDPrefix is prepended to every series id before upload.
	ExternalIDPrefix string `yaml:"external_id_prefix"`
}

// StatusConfig controls the extraction pipeline heartbeat.
type StatusConfig struct {
	// Pipeline is the external id of the extraction pipeline. Empty disables
	// status reporting.
	Pipeline string `yaml:"pipeline"`

	// Interval is the minimum time between heartbeats (seconds).
	Interval int `yaml:"interval"`
}

// StoreConfig selects and configures the outbound time-series store.
type StoreConfig struct {
	Type     string         `yaml:"type"`
	CDF      CDFConfig      `yaml:"cdf"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// CDFConfig contains settings for the CDF-style REST store.
type CDFConfig struct {
	BaseURL string `yaml:"base_url"`
	Project string `yaml:"project"`

	// APIKey and Token are alternative credentials; Token (bearer) wins when both are set.
	APIKey string `yaml:"api_key"`
	Token  string `yaml:"token"`

	ClientName     string `yaml:"client_name"`
	Timeout        int    `yaml:"timeout"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Server       MetricsServerConfig `yaml:"server"`
	PushGateways []PushGatewayConfig `yaml:"push_gateways"`
}

// MetricsServerConfig configures the pull endpoint.
type MetricsServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// PushGatewayConfig configures one Prometheus push gateway target.
type PushGatewayConfig struct {
	URL      string `yaml:"url"`
	Job      string `yaml:"job"`
	Interval int    `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTT_EXTRACTOR_SECTION_KEY
// For example: MQTT_EXTRACTOR_MQTT_HOST, MQTT_EXTRACTOR_CDF_API_KEY
//
// The result has passed Validate.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applySubscriptionDefaults()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mqtt-extractor",
			},
			CleanSession: false,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Upload: UploadConfig{
			Interval:      1,
			CreateMissing: true,
			MaxQueueSize:  50000,
		},
		Status: StatusConfig{
			Interval: 60,
		},
		Store: StoreConfig{
			Type: StoreCDF,
			CDF: CDFConfig{
				BaseURL:        "https://api.cognitedata.com",
				ClientName:     "mqtt-extractor",
				Timeout:        30,
				MaxConcurrency: 4,
			},
		},
		Metrics: MetricsConfig{
			Server: MetricsServerConfig{
				Host: "0.0.0.0",
				Port: 9000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applySubscriptionDefaults fills in the parser for subscriptions that omit one.
func (c *Config) applySubscriptionDefaults() {
	for i := range c.Subscriptions {
		if c.Subscriptions[i].Handler == "" {
			c.Subscriptions[i].Handler = DefaultHandler
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTT_EXTRACTOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MQTT_EXTRACTOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_EXTRACTOR_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MQTT_EXTRACTOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_EXTRACTOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Store credentials
	if v := os.Getenv("MQTT_EXTRACTOR_CDF_PROJECT"); v != "" {
		cfg.Store.CDF.Project = v
	}
	if v := os.Getenv("MQTT_EXTRACTOR_CDF_API_KEY"); v != "" {
		cfg.Store.CDF.APIKey = v
	}
	if v := os.Getenv("MQTT_EXTRACTOR_CDF_TOKEN"); v != "" {
		cfg.Store.CDF.Token = v
	}
	if v := os.Getenv("MQTT_EXTRACTOR_INFLUXDB_TOKEN"); v != "" {
		cfg.Store.InfluxDB.Token = v
	}

	// Status
	if v := os.Getenv("MQTT_EXTRACTOR_STATUS_PIPELINE"); v != "" {
		cfg.Status.Pipeline = v
	}
}

// Validate reports every configuration problem in a single error.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Subscriptions
	if len(c.Subscriptions) == 0 {
		errs = append(errs, "at least one subscription is required")
	}
	for i, sub := range c.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].topic is required", i))
		}
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	// Upload
	if c.Upload.Interval < 1 {
		errs = append(errs, "upload.interval must be at least 1 second")
	}
	if c.Upload.MaxQueueSize < 0 {
		errs = append(errs, "upload.max_queue_size cannot be negative")
	}

	// Status
	if c.Status.Pipeline != "" && c.Status.Interval < 1 {
		errs = append(errs, "status.interval must be at least 1 second when status.pipeline is set")
	}

	// Store
	switch c.Store.Type {
	case StoreCDF:
		if c.Store.CDF.BaseURL == "" {
			errs = append(errs, "store.cdf.base_url is required")
		}
		if c.Store.CDF.Project == "" {
			errs = append(errs, "store.cdf.project is required")
		}
		if c.Store.CDF.APIKey == "" && c.Store.CDF.Token == "" {
			errs = append(errs, "store.cdf.api_key or store.cdf.token is required (set MQTT_EXTRACTOR_CDF_API_KEY)")
		}
	case StoreInfluxDB:
		if c.Store.InfluxDB.URL == "" {
			errs = append(errs, "store.influxdb.url is required")
		}
		if c.Store.InfluxDB.Bucket == "" {
			errs = append(errs, "store.influxdb.bucket is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.type must be %q or %q", StoreCDF, StoreInfluxDB))
	}

	// Metrics
	if c.Metrics.Server.Enabled && (c.Metrics.Server.Port < 1 || c.Metrics.Server.Port > 65535) {
		errs = append(errs, "metrics.server.port must be between 1 and 65535")
	}
	for i, gw := range c.Metrics.PushGateways {
		if gw.URL == "" {
			errs = append(errs, fmt.Sprintf("metrics.push_gateways[%d].url is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetUploadInterval returns the maximum upload interval as a Duration.
func (c *Config) GetUploadInterval() time.Duration {
	return time.Duration(c.Upload.Interval) * time.Second
}

// GetStatusInterval returns the minimum heartbeat spacing as a Duration.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.Status.Interval) * time.Second
}

// GetTimeout returns the CDF request timeout as a Duration.
func (c CDFConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetInterval returns the push interval as a Duration.
func (c PushGatewayConfig) GetInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}
