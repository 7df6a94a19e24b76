package ports

import (
	"context"
	"time"

	"github.com/aretw0/processengine/pkg/domain"
)

// ExpressionEvaluator evaluates user-authored expressions in a sandbox.
// Implementations bound the time and size of an evaluation.
type ExpressionEvaluator interface {
	Evaluate(ctx context.Context, expr string, vars map[string]any) (any, error)
}

// ServiceInvoker executes the module/method a service task is bound to.
type ServiceInvoker interface {
	Invoke(ctx context.Context, module, method string, params map[string]any, identity domain.Identity) (any, error)
}

// TimerService schedules a callback after a delay.
type TimerService interface {
	// Schedule calls fire once after d unless the returned subscription is
	// disposed first or ctx is done.
	Schedule(ctx context.Context, d time.Duration, fire func()) Subscription
}

// IdentityProvider resolves the opaque identity handle of a caller.
type IdentityProvider interface {
	Identify(ctx context.Context, token string) (domain.Identity, error)
}

// StaticIdentity is an IdentityProvider that returns the same identity for every token.
type StaticIdentity domain.Identity

func (s StaticIdentity) Identify(_ context.Context, token string) (domain.Identity, error) {
	id := domain.Identity(s)
	if id.Token == "" {
		id.Token = token
	}
	return id, nil
}
