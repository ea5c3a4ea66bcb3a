package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "mqtt_extractor"

// Metrics holds the extractor's collectors.
type Metrics struct {
	mu         sync.Mutex
	registry   *prometheus.Registry
	registered bool

	Messages         prometheus.Counter
	Requests         prometheus.Counter
	RequestsFailed   prometheus.Counter
	DataPoints       prometheus.Counter
	MessageTimeStamp prometheus.Gauge
	StoreTimeStamp   prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors on a fresh registry. Call Register before
// serving or pushing.
func New() *Metrics {
	return &Metrics{
		registry:         prometheus.NewRegistry(),
		Messages:         newCounter("messages", "Number of MQTT messages received on subscribed topics"),
		Requests:         newCounter("requests", "Number of upload requests to the time-series store"),
		RequestsFailed:   newCounter("requests_failed", "Number of upload requests that uploaded nothing"),
		DataPoints:       newCounter("data_points", "Number of data points uploaded"),
		MessageTimeStamp: newGauge("message_time_stamp", "Largest timestamp (ms) seen in any MQTT message"),
		StoreTimeStamp:   newGauge("store_time_stamp", "Largest timestamp (ms) uploaded to the time-series store"),
	}
}

// Register registers the collectors plus Go runtime and process collectors.
// Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	cs := []prometheus.Collector{
		m.Messages,
		m.Requests,
		m.RequestsFailed,
		m.DataPoints,
		m.MessageTimeStamp,
		m.StoreTimeStamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Gatherer returns the registry backing these metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
