package runtime

import (
	"context"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// OutcomeState is the terminal state of a process instance.
type OutcomeState string

const (
	OutcomeCompleted OutcomeState = "completed"
	OutcomeFailed    OutcomeState = "failed"
)

// Outcome is the terminal result of a process instance.
type Outcome struct {
	ProcessInstanceID string
	State             OutcomeState
	// Token is the final token: the last ended lineage with the history of
	// every other ended lineage merged in.
	Token domain.ProcessToken
	Err   error
}

// Instance is a handle on a live process instance.
type Instance struct {
	ID             string
	ProcessModelID string
	CorrelationID  string

	root   *scope
	unlock ports.UnlockFunc

	once    sync.Once
	done    chan struct{}
	outcome *Outcome
}

func newInstance(id, processModelID, correlationID string) *Instance {
	return &Instance{
		ID:             id,
		ProcessModelID: processModelID,
		CorrelationID:  correlationID,
		done:           make(chan struct{}),
	}
}

// Done is closed once the instance reached its outcome.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Wait blocks until the instance completes or fails, or ctx is done.
// A failed instance returns its outcome together with the failure.
func (i *Instance) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-i.done:
		return i.outcome, i.outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (i *Instance) complete(out *Outcome) bool {
	ok := false
	i.once.Do(func() {
		i.outcome = out
		close(i.done)
		ok = true
	})
	return ok
}
