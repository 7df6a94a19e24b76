package ports

import (
	"context"

	"github.com/aretw0/processengine/pkg/domain"
)

// ModelProvider retrieves parsed process models.
// Returned models must be treated as immutable by every caller.
type ModelProvider interface {
	// GetProcessModel returns domain.ErrProcessModelNotFound for unknown ids.
	GetProcessModel(ctx context.Context, processModelID string) (*domain.ProcessModel, error)

	// ListProcessModels returns the ids of all known models. The recovery sweep uses it.
	ListProcessModels(ctx context.Context) ([]string, error)
}
