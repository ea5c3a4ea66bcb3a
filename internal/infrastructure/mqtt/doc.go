// Package mqtt provides the broker connection for the MQTT extractor.
//
// It wraps paho.mqtt.golang and handles:
//   - Connection with auto-reconnect and exponential backoff
//   - Persistent or clean sessions (mqtt.clean_session)
//   - Subscriptions declared up front and replayed after every reconnect
//   - Panic recovery and error logging around message handlers
//
// # Delivery
//
// Message handlers run one at a time, in arrival order, on the client's
// router goroutine. A slow handler therefore throttles delivery from the
// broker. The extractor relies on this to apply backpressure from the
// time-series store.
//
// With a persistent session the broker may deliver queued messages as soon
// as it sends CONNACK, before any SUBACK. Routes passed to Connect are
// tracked before dialling, so those messages reach the handler whose filter
// matches their topic, wildcards included.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, logger, []mqtt.Route{
//	    {Topic: "sensors/+/cdf", QoS: 1, Handler: ext.HandleMessage},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
