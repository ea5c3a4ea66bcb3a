// Package metrics exposes the extractor's Prometheus metrics.
//
// Collectors live on a dedicated registry so tests can build independent
// instances. The registry is served over HTTP (/metrics, /health) and can
// additionally be pushed to one or more Prometheus push gateways.
//
// Exported series (namespace mqtt_extractor):
//
//	messages            counter  MQTT messages received on a known topic
//	requests            counter  upload requests issued
//	requests_failed     counter  upload requests that uploaded nothing
//	data_points         counter  data points uploaded
//	message_time_stamp  gauge    largest timestamp seen in any message (ms)
//	store_time_stamp    gauge    largest timestamp uploaded to the store (ms)
package metrics
