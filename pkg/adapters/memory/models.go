package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
)

// ModelProvider implements ports.ModelProvider over a fixed set of models.
type ModelProvider struct {
	mu     sync.RWMutex
	models map[string]*domain.ProcessModel
}

// NewModelProvider registers the given models by id.
func NewModelProvider(models ...*domain.ProcessModel) *ModelProvider {
	p := &ModelProvider{models: make(map[string]*domain.ProcessModel)}
	for _, m := range models {
		p.models[m.ID] = m
	}
	return p
}

// Add registers or replaces a model.
func (p *ModelProvider) Add(m *domain.ProcessModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models[m.ID] = m
}

func (p *ModelProvider) GetProcessModel(ctx context.Context, id string) (*domain.ProcessModel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProcessModelNotFound, id)
	}
	return m, nil
}

func (p *ModelProvider) ListProcessModels(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.models))
	for id := range p.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
