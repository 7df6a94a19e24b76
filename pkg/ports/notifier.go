package ports

import (
	"context"

	"github.com/aretw0/processengine/pkg/domain"
)

// Subscription is a live registration on the notification channel.
type Subscription interface {
	// Dispose removes the registration. After Dispose returns the handler is
	// never invoked. Dispose is idempotent.
	Dispose()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Dispose() { f() }

// Notifier is the notification channel consumed by the engine.
type Notifier interface {
	Publish(ctx context.Context, topic string, n domain.Notification) error

	// SubscribeOnce registers handler for the next notification on topic.
	// The handler runs at most once, on a goroutine owned by the notifier.
	// The subscription is active when SubscribeOnce returns.
	SubscribeOnce(ctx context.Context, topic string, handler func(domain.Notification)) (Subscription, error)
}
