package ports

import (
	"context"

	"github.com/aretw0/processengine/pkg/domain"
)

// FlowNodeInstanceRepository persists the lifecycle of every node execution.
//
// Every PersistOn* call after PersistOnEnter validates the transition with
// domain.CanTransition and returns an error matching domain.ErrInvalidTransition
// when it is not allowed. Unknown ids yield domain.ErrFlowNodeInstanceNotFound.
// Query results are ordered by EnteredAt, then by id.
type FlowNodeInstanceRepository interface {
	// PersistOnEnter stores a new record in the running state.
	// Storing an id twice is an invalid transition.
	PersistOnEnter(ctx context.Context, inst *domain.FlowNodeInstance) error
	PersistOnExit(ctx context.Context, flowNodeInstanceID string, token domain.ProcessToken) error
	PersistOnSuspend(ctx context.Context, flowNodeInstanceID string, token domain.ProcessToken) error
	PersistOnResume(ctx context.Context, flowNodeInstanceID string, token domain.ProcessToken) error
	PersistOnError(ctx context.Context, flowNodeInstanceID string, token domain.ProcessToken, cause error) error
	PersistOnCancel(ctx context.Context, flowNodeInstanceID string, token domain.ProcessToken) error

	GetByID(ctx context.Context, flowNodeInstanceID string) (*domain.FlowNodeInstance, error)
	QueryByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error)
	QueryByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error)
	QueryByProcessInstance(ctx context.Context, processInstanceID string) ([]*domain.FlowNodeInstance, error)
	QuerySuspendedByCorrelation(ctx context.Context, correlationID string) ([]*domain.FlowNodeInstance, error)
	QuerySuspendedByProcessModel(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error)
}
