package extractor

import (
	"fmt"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-extractor/internal/parser"
)

// Subscription is a resolved subscription entry.
type Subscription struct {
	Topic   string
	Handler string
	QoS     byte
	Parser  parser.Parser
}

// Table maps delivered topics to parsers. It is immutable once built and
// safe for concurrent use.
type Table struct {
	routes map[string]parser.Parser
	subs   []Subscription
}

// BuildTable resolves every configured subscription, in declaration order.
// A topic declared twice is dispatched to the parser of its last declaration.
func BuildTable(subs []config.SubscriptionConfig) (*Table, error) {
	t := &Table{
		routes: make(map[string]parser.Parser, len(subs)),
		subs:   make([]Subscription, 0, len(subs)),
	}

	for i, sc := range subs {
		if sc.Topic == "" {
			return nil, fmt.Errorf("%w: subscriptions[%d]: topic is required", ErrInvalidSubscription, i)
		}
		if sc.QoS < 0 || sc.QoS > 2 {
			return nil, fmt.Errorf("%w: subscriptions[%d]: qos must be 0, 1 or 2, got %d", ErrInvalidSubscription, i, sc.QoS)
		}

		name := sc.Handler
		if name == "" {
			name = config.DefaultHandler
		}
		p, err := parser.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: subscriptions[%d] (%s): %w", ErrInvalidSubscription, i, sc.Topic, err)
		}

		t.routes[sc.Topic] = p
		t.subs = append(t.subs, Subscription{
			Topic:   sc.Topic,
			Handler: name,
			QoS:     byte(sc.QoS),
			Parser:  p,
		})
	}

	return t, nil
}

// Resolve returns the parser for an exact topic string.
func (t *Table) Resolve(topic string) (parser.Parser, bool) {
	p, ok := t.routes[topic]
	return p, ok
}

// Subscriptions returns the resolved subscriptions in declaration order.
func (t *Table) Subscriptions() []Subscription {
	out := make([]Subscription, len(t.subs))
	copy(out, t.subs)
	return out
}

// Len returns the number of distinct topics.
func (t *Table) Len() int {
	return len(t.routes)
}
