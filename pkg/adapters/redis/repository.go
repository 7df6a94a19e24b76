package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Repository implements ports.FlowNodeInstanceRepository using Redis.
//
// Each record is a JSON string. Sets index record ids by process instance,
// process model and correlation; two more sets hold the suspended ones.
type Repository struct {
	client *backend.Client
	opts   options
}

// NewRepository creates a repository on an existing client.
func NewRepository(client *backend.Client, opts ...Option) *Repository {
	return &Repository{client: client, opts: newOptions(opts)}
}

func (r *Repository) key(id string) string {
	return r.opts.prefix + "fni:" + id
}

func (r *Repository) index(kind, value string) string {
	return r.opts.prefix + "idx:" + kind + ":" + value
}

func (r *Repository) PersistOnEnter(ctx context.Context, inst *domain.FlowNodeInstance) error {
	rec := ports.NewRunning(inst)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal flow node instance: %w", err)
	}

	key := r.key(rec.ID)
	return watch(ctx, r.client, r.opts, func(tx *backend.Tx) error {
		existing, err := r.load(ctx, tx, rec.ID)
		if err == nil {
			return &domain.InvalidTransitionError{FlowNodeInstanceID: rec.ID, From: existing.State, To: domain.StateRunning}
		}
		if !errors.Is(err, domain.ErrFlowNodeInstanceNotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.index("pi", rec.ProcessInstanceID), rec.ID)
			pipe.SAdd(ctx, r.index("pm", rec.ProcessModelID), rec.ID)
			pipe.SAdd(ctx, r.index("corr", rec.CorrelationID), rec.ID)
			return nil
		})
		return err
	}, key)
}

func (r *Repository) PersistOnExit(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ctx, ports.Transition(id, domain.StateFinished, token, nil))
}

func (r *Repository) PersistOnSuspend(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ctx, ports.Transition(id, domain.StateSuspended, token, nil))
}

func (r *Repository) PersistOnResume(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ctx, ports.Transition(id, domain.StateRunning, token, nil))
}

func (r *Repository) PersistOnError(ctx context.Context, id string, token domain.ProcessToken, cause error) error {
	return r.apply(ctx, ports.Transition(id, domain.StateError, token, cause))
}

func (r *Repository) PersistOnCancel(ctx context.Context, id string, token domain.ProcessToken) error {
	return r.apply(ctx, ports.Transition(id, domain.StateCancelled, token, nil))
}

func (r *Repository) apply(ctx context.Context, t domain.Transition) error {
	key := r.key(t.FlowNodeInstanceID)
	return watch(ctx, r.client, r.opts, func(tx *backend.Tx) error {
		inst, err := r.load(ctx, tx, t.FlowNodeInstanceID)
		if err != nil {
			return err
		}
		was := inst.State
		if err := t.Apply(inst); err != nil {
			return err
		}
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("failed to marshal flow node instance: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			switch {
			case inst.State == domain.StateSuspended:
				pipe.SAdd(ctx, r.index("susp:pm", inst.ProcessModelID), inst.ID)
				pipe.SAdd(ctx, r.index("susp:corr", inst.CorrelationID), inst.ID)
			case was == domain.StateSuspended:
				pipe.SRem(ctx, r.index("susp:pm", inst.ProcessModelID), inst.ID)
				pipe.SRem(ctx, r.index("susp:corr", inst.CorrelationID), inst.ID)
			}
			return nil
		})
		return err
	}, key)
}

// load reads one record through c, a client or a transaction.
func (r *Repository) load(ctx context.Context, c backend.Cmdable, id string) (*domain.FlowNodeInstance, error) {
	val, err := c.Get(ctx, r.key(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrFlowNodeInstanceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var inst domain.FlowNodeInstance
	if err := json.Unmarshal([]byte(val), &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow node instance: %w", err)
	}
	return &inst, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.FlowNodeInstance, error) {
	return r.load(ctx, r.client, id)
}

func (r *Repository) QueryByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(ctx, r.index("corr", correlationID), false)
}

func (r *Repository) QueryByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(ctx, r.index("pm", processModelID), false)
}

func (r *Repository) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(ctx, r.index("pi", processInstanceID), false)
}

func (r *Repository) QuerySuspendedByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(ctx, r.index("susp:corr", correlationID), true)
}

func (r *Repository) QuerySuspendedByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(ctx, r.index("susp:pm", processModelID), true)
}

func (r *Repository) query(ctx context.Context, index string, suspendedOnly bool) ([]*domain.FlowNodeInstance, error) {
	ids, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	out := make([]*domain.FlowNodeInstance, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var inst domain.FlowNodeInstance
		if err := json.Unmarshal([]byte(s), &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flow node instance: %w", err)
		}
		// The index may lag behind a transition committed after SMEMBERS.
		if suspendedOnly && inst.State != domain.StateSuspended {
			continue
		}
		out = append(out, &inst)
	}
	ports.SortInstances(out)
	return out, nil
}
