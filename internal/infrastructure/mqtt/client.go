package mqtt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
)

// Client is a broker connection that owns its subscriptions. Routes given to
// Connect are known before the CONNECT packet is sent, so a resumed session
// can deliver queued messages straight away. All methods are safe for
// concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig
	logger  Logger

	// subscriptions is keyed by topic filter and replayed after a reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	// connects counts OnConnect callbacks; the first belongs to Connect.
	connects atomic.Int32

	sessionPresent bool
}

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives the concrete topic and payload of each message.
// Handlers run one at a time on the client's delivery goroutine. A returned
// error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Route is a subscription registered at connect time.
type Route struct {
	Topic   string
	QoS     byte
	Handler MessageHandler
}

// Connect dials the broker, subscribes to every route and returns once the
// broker has acknowledged them all. Routes are tracked before dialling so
// messages from a stored session are routed even if they arrive ahead of the
// SUBACKs. A persistent session that the broker did not resume is logged as
// a warning, since anything published while the extractor was away is gone.
func Connect(cfg config.MQTTConfig, logger Logger, routes []Route) (*Client, error) {
	c, err := newClient(cfg, logger, routes)
	if err != nil {
		return nil, err
	}

	c.client = pahomqtt.NewClient(c.options)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		c.sessionPresent = ct.SessionPresent()
	}
	if !cfg.CleanSession && !c.sessionPresent {
		c.logger.Warn("connected without stored session state; messages published while offline were not retained by the broker",
			"client_id", cfg.Broker.ClientID,
		)
	}

	// OnConnect runs on its own goroutine and may not have fired yet.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	for _, sub := range c.tracked() {
		if err := c.subscribe(sub); err != nil {
			c.client.Disconnect(defaultDisconnectQuiesce)
			return nil, err
		}
	}

	return c, nil
}

// newClient builds an unconnected client with its routes already tracked.
func newClient(cfg config.MQTTConfig, logger Logger, routes []Route) (*Client, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	c := &Client{
		cfg:           cfg,
		options:       buildClientOptions(cfg),
		logger:        logger,
		subscriptions: make(map[string]subscription, len(routes)),
	}
	for _, r := range routes {
		if err := validateRoute(r.Topic, r.QoS, r.Handler); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Topic, err)
		}
		c.subscriptions[r.Topic] = subscription{topic: r.Topic, qos: r.QoS, handler: r.Handler}
	}

	c.options.SetDefaultPublishHandler(c.routeUnmatched)
	c.options.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	c.options.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("reconnecting to MQTT broker")
	})
	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("connected to MQTT broker", "servers", c.options.Servers)

	// Connect subscribes synchronously on the first connection.
	if c.connects.Add(1) > 1 {
		c.restoreSubscriptions()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logger.Warn("lost connection to MQTT broker", "error", err)
}

// restoreSubscriptions replays tracked subscriptions after a reconnect. It
// does not wait for SUBACKs because it runs on paho's callback goroutine.
func (c *Client) restoreSubscriptions() {
	for _, sub := range c.tracked() {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// tracked returns the subscriptions sorted by topic filter.
func (c *Client) tracked() []subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].topic < subs[j].topic })
	return subs
}

// subscribe sends one SUBSCRIBE and waits for the broker to acknowledge it.
func (c *Client) subscribe(sub subscription) error {
	token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %q: timeout after %v", ErrSubscribeFailed, sub.topic, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, sub.topic, err)
	}
	c.logger.Info("subscribed", "topic", sub.topic, "qos", sub.qos)
	return nil
}

// routeUnmatched receives messages paho has no route for yet. That happens
// when a resumed session replays queued messages before the SUBACK for
// their filter has been processed. Each message goes to one matching
// subscription: an exact filter first, else the lowest sorting wildcard.
func (c *Client) routeUnmatched(client pahomqtt.Client, msg pahomqtt.Message) {
	sub, ok := c.match(msg.Topic())
	if !ok {
		c.logger.Debug("dropping MQTT message without subscription", "topic", msg.Topic())
		return
	}
	c.wrapHandler(sub.handler)(client, msg)
}

func (c *Client) match(topic string) (subscription, bool) {
	c.subMu.RLock()
	sub, ok := c.subscriptions[topic]
	c.subMu.RUnlock()
	if ok {
		return sub, true
	}

	for _, sub := range c.tracked() {
		if topicMatches(sub.topic, topic) {
			return sub, true
		}
	}
	return subscription{}, false
}

// Close disconnects from the broker. Closing a nil or closed client is a
// no-op.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck returns ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SessionPresent reports whether the broker resumed a stored session on the
// first connection.
func (c *Client) SessionPresent() bool {
	return c.sessionPresent
}

// wrapHandler adapts a MessageHandler to paho, logging its errors and
// recovering its panics so one bad message cannot stop delivery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
