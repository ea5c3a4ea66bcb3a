// Package extractor turns MQTT messages into uploaded time-series data points.
//
// It ties the pieces together:
//   - Table resolves a delivered topic to the payload parser configured for it
//   - Extractor parses each message, enqueues the valid points under the
//     configured external id prefix, tracks the largest timestamp seen and
//     forces an upload before returning
//   - StatusReporter sends a rate-limited "success" heartbeat to the
//     extraction pipeline after uploads that wrote data
//
// # Threading
//
// HandleMessage is called serially by the MQTT client. The upload queue's
// background loop may flush concurrently with it; the completion callback
// and the status reporter are safe under that race.
//
// # Usage
//
//	table, err := extractor.BuildTable(cfg.Subscriptions)
//	ext, err := extractor.New(extractor.Options{
//	    Table:   table,
//	    Store:   store,
//	    Metrics: m,
//	    Logger:  log,
//	})
//	ext.Start(ctx)
//	defer ext.Close()
//
//	for _, sub := range table.Subscriptions() {
//	    mqttClient.Subscribe(sub.Topic, sub.QoS, ext.HandleMessage)
//	}
package extractor
