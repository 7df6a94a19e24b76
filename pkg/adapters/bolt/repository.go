package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"go.etcd.io/bbolt"
)

// Index names. Each index is a bucket of buckets: one per value, holding
// the ids of the matching records as keys.
var (
	byInstance             = []byte("process_instance")
	byModel                = []byte("process_model")
	byCorrelation          = []byte("correlation")
	suspendedByModel       = []byte("suspended_process_model")
	suspendedByCorrelation = []byte("suspended_correlation")
)

// Repository implements ports.FlowNodeInstanceRepository on bbolt.
type Repository struct {
	db *bbolt.DB
}

// NewRepository creates the buckets the repository needs.
func NewRepository(db *bbolt.DB) (*Repository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := createBucket(tx, instancesBucket); err != nil {
			return err
		}
		_, err := createBucket(tx, indexBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository buckets: %w", err)
	}
	return &Repository{db: db}, nil
}

// indexValue keeps bucket names non-empty.
func indexValue(v string) []byte {
	return []byte("v:" + v)
}

func addIndex(tx *bbolt.Tx, name []byte, value, id string) error {
	b, err := createBucket(tx, indexBucket, name, indexValue(value))
	if err != nil {
		return err
	}
	return b.Put([]byte(id), nil)
}

func removeIndex(tx *bbolt.Tx, name []byte, value, id string) error {
	b := bucket(tx, indexBucket, name, indexValue(value))
	if b == nil {
		return nil
	}
	return b.Delete([]byte(id))
}

func get(tx *bbolt.Tx, id string) (*domain.FlowNodeInstance, error) {
	data := tx.Bucket(instancesBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNodeInstanceNotFound, id)
	}
	var inst domain.FlowNodeInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow node instance %s: %w", id, err)
	}
	return &inst, nil
}

func put(tx *bbolt.Tx, inst *domain.FlowNodeInstance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal flow node instance: %w", err)
	}
	return tx.Bucket(instancesBucket).Put([]byte(inst.ID), data)
}

func (r *Repository) PersistOnEnter(ctx context.Context, inst *domain.FlowNodeInstance) error {
	rec := ports.NewRunning(inst)
	return r.db.Update(func(tx *bbolt.Tx) error {
		if existing, err := get(tx, rec.ID); err == nil {
			return &domain.InvalidTransitionError{FlowNodeInstanceID: rec.ID, From: existing.State, To: domain.StateRunning}
		}
		if err := put(tx, rec); err != nil {
			return err
		}
		for name, value := range map[string]string{
			string(byInstance):    rec.ProcessInstanceID,
			string(byModel):       rec.ProcessModelID,
			string(byCorrelation): rec.CorrelationID,
		} {
			if err := addIndex(tx, []byte(name), value, rec.ID); err != nil {
				return err
			}
		}
		return nil
	})
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
	return r.db.Update(func(tx *bbolt.Tx) error {
		inst, err := get(tx, t.FlowNodeInstanceID)
		if err != nil {
			return err
		}
		was := inst.State
		if err := t.Apply(inst); err != nil {
			return err
		}
		if err := put(tx, inst); err != nil {
			return err
		}

		update := addIndex
		switch {
		case inst.State == domain.StateSuspended:
		case was == domain.StateSuspended:
			update = removeIndex
		default:
			return nil
		}
		if err := update(tx, suspendedByModel, inst.ProcessModelID, inst.ID); err != nil {
			return err
		}
		return update(tx, suspendedByCorrelation, inst.CorrelationID, inst.ID)
	})
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.FlowNodeInstance, error) {
	var inst *domain.FlowNodeInstance
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		inst, err = get(tx, id)
		return err
	})
	return inst, err
}

func (r *Repository) QueryByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(byCorrelation, correlationID)
}

func (r *Repository) QueryByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(byModel, processModelID)
}

func (r *Repository) QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(byInstance, processInstanceID)
}

func (r *Repository) QuerySuspendedByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(suspendedByCorrelation, correlationID)
}

func (r *Repository) QuerySuspendedByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return r.query(suspendedByModel, processModelID)
}

func (r *Repository) query(index []byte, value string) ([]*domain.FlowNodeInstance, error) {
	out := make([]*domain.FlowNodeInstance, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := bucket(tx, indexBucket, index, indexValue(value))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			inst, err := get(tx, string(k))
			if err != nil {
				return err
			}
			out = append(out, inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ports.SortInstances(out)
	return out, nil
}
