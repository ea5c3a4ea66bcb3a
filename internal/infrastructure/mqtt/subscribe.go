package mqtt

import (
	"fmt"
)

// Subscribe adds a subscription on a connected client and waits for the
// SUBACK. The filter may contain + and # wildcards; the handler sees the
// concrete topic. A failed subscription is not tracked.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateRoute(topic, qos, handler); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Lock()
	c.subscriptions[topic] = sub
	c.subMu.Unlock()

	if err := c.subscribe(sub); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return err
	}
	return nil
}

func validateRoute(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	return nil
}

func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription compares filters literally; "a/+" does not cover "a/b".
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
