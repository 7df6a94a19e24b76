package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Notifier implements ports.Notifier over Redis pub/sub, so notifications
// published by one engine reach the subscriptions of every other.
//
// Each subscription owns a pub/sub connection for the time it waits.
// Messages published while no subscriber listens are lost, as with any
// Redis channel.
type Notifier struct {
	client *backend.Client
	opts   options
}

// NewNotifier creates a notifier on an existing client.
func NewNotifier(client *backend.Client, opts ...Option) *Notifier {
	return &Notifier{client: client, opts: newOptions(opts)}
}

func (n *Notifier) channel(topic string) string {
	return n.opts.prefix + "topic:" + topic
}

func (n *Notifier) Publish(ctx context.Context, topic string, msg domain.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// SubscribeOnce returns after Redis confirmed the subscription.
func (n *Notifier) SubscribeOnce(ctx context.Context, topic string, handler func(domain.Notification)) (ports.Subscription, error) {
	ps := n.client.Subscribe(ctx, n.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	var once sync.Once
	dispose := func() { once.Do(func() { _ = ps.Close() }) }
	msgs := ps.Channel()
	go func() {
		for m := range msgs {
			var msg domain.Notification
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				n.opts.logger.Warn("dropping malformed notification", "topic", topic, "error", err)
				continue
			}
			fired := false
			once.Do(func() {
				fired = true
				_ = ps.Close()
			})
			if fired {
				handler(msg)
			}
			return
		}
	}()
	return ports.SubscriptionFunc(dispose), nil
}
