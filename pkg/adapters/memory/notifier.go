package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

const (
	subPending int32 = iota
	subFired
	subDisposed
)

type subscription struct {
	n       *Notifier
	topic   string
	handler func(domain.Notification)
	state   atomic.Int32
}

func (s *subscription) Dispose() {
	if s.state.CompareAndSwap(subPending, subDisposed) {
		s.n.remove(s)
	}
}

// Notifier implements ports.Notifier in process. Every publish is delivered
// to all subscriptions registered on the topic at that moment.
type Notifier struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	logger *slog.Logger
}

// NotifierOption configures the Notifier.
type NotifierOption func(*Notifier)

// WithLogger configures a logger for deliveries.
func WithLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates an in-process notifier.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		subs:   make(map[string][]*subscription),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) Publish(ctx context.Context, topic string, msg domain.Notification) error {
	msg.Topic = topic
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	subs := n.subs[topic]
	delete(n.subs, topic)
	n.mu.Unlock()

	n.logger.Debug("notification published", "topic", topic, "subscribers", len(subs))
	for _, s := range subs {
		if s.state.CompareAndSwap(subPending, subFired) {
			go s.handler(msg)
		}
	}
	return nil
}

func (n *Notifier) SubscribeOnce(ctx context.Context, topic string, handler func(domain.Notification)) (ports.Subscription, error) {
	s := &subscription{n: n, topic: topic, handler: handler}
	n.mu.Lock()
	n.subs[topic] = append(n.subs[topic], s)
	n.mu.Unlock()
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (n *Notifier) Subscribers(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[topic])
}

func (n *Notifier) remove(s *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[s.topic]
	for i, cur := range list {
		if cur == s {
			n.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(n.subs[s.topic]) == 0 {
		delete(n.subs, s.topic)
	}
}
