package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// Repository implements ports.FlowNodeInstanceRepository in memory.
// Safe for concurrent use.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*domain.FlowNodeInstance
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*domain.FlowNodeInstance)}
}

func (r *Repository) PersistOnEnter(ctx context.Context, inst *domain.FlowNodeInstance) error {
	rec, err := clone(ports.NewRunning(inst))
	if err != nil {
		return fmt.Errorf("failed to copy flow node instance: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.data[inst.ID]; ok {
		return &domain.InvalidTransitionError{FlowNodeInstanceID: inst.ID, From: existing.State, To: domain.StateRunning}
	}
	r.data[inst.ID] = rec
	return nil
}

func (r *Repository) PersistOnExit(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ports.Transition(id, domain.StateFinished, token, nil))
}

func (r *Repository) PersistOnSuspend(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ports.Transition(id, domain.StateSuspended, token, nil))
}

func (r *Repository) PersistOnResume(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ports.Transition(id, domain.StateRunning, token, nil))
}

func (r *Repository) PersistOnError(ctx context.Context, id string, token domain.ProcessToken, cause error) error {
	return r.apply(ports.Transition(id, domain.StateError, token, cause))
}

func (r *Repository) PersistOnCancel(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ports.Transition(id, domain.StateCancelled, token, nil))
}

func (r *Repository) apply(t domain.Transition) error {
	tok, err := clone(t.Token)
	if err != nil {
		return fmt.Errorf("failed to copy token: %w", err)
	}
	t.Token = tok

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.data[t.FlowNodeInstanceID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrFlowNodeInstanceNotFound, t.FlowNodeInstanceID)
	}
	return t.Apply(rec)
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.FlowNodeInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.data[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNodeInstanceNotFound, id)
	}
	return clone(rec)
}

func (r *Repository) QueryByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(func(i *domain.FlowNodeInstance) bool { return i.CorrelationID == correlationID })
}

func (r *Repository) QueryByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(func(i *domain.FlowNodeInstance) bool { return i.ProcessModelID == processModelID })
}

func (r *Repository) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(func(i *domain.FlowNodeInstance) bool { return i.ProcessInstanceID == processInstanceID })
}

func (r *Repository) QuerySuspendedByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(func(i *domain.FlowNodeInstance) bool {
		return i.CorrelationID == correlationID && i.State == domain.StateSuspended
	})
}

func (r *Repository) QuerySuspendedByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(func(i *domain.FlowNodeInstance) bool {
		return i.ProcessModelID == processModelID && i.State == domain.StateSuspended
	})
}

func (r *Repository) query(match func(*domain.FlowNodeInstance) bool) ([]*domain.FlowNodeInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.FlowNodeInstance, 0)
	for _, rec := range r.data {
		if !match(rec) {
			continue
		}
		cp, err := clone(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	ports.SortInstances(out)
	return out, nil
}
