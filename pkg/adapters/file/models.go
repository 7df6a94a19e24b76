// Package file loads process models from a directory of YAML documents.
//
// Each file holds one serialized domain.ProcessModel. JSON files are read
// with the same decoder, JSON being a subset of YAML.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"gopkg.in/yaml.v3"
)

// ModelProvider implements ports.ModelProvider over a directory.
type ModelProvider struct {
	BasePath string

	mu     sync.RWMutex
	models map[string]*domain.ProcessModel
}

// NewModelProvider reads every model file in basePath.
func NewModelProvider(basePath string) (*ModelProvider, error) {
	p := &ModelProvider{BasePath: basePath}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the directory. On error the previous models stay in place.
func (p *ModelProvider) Reload() error {
	entries, err := os.ReadDir(p.BasePath)
	if err != nil {
		return fmt.Errorf("failed to read model directory: %w", err)
	}

	models := make(map[string]*domain.ProcessModel)
	sources := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !isModelFile(e.Name()) {
			continue
		}
		path := filepath.Join(p.BasePath, e.Name())
		m, err := ReadModel(path)
		if err != nil {
			return err
		}
		if prev, ok := sources[m.ID]; ok {
			return fmt.Errorf("process model %q defined in both %s and %s", m.ID, prev, path)
		}
		sources[m.ID] = path
		models[m.ID] = m
	}

	p.mu.Lock()
	p.models = models
	p.mu.Unlock()
	return nil
}

func isModelFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ReadModel decodes one model file. A missing id defaults to the file name
// without extension; missing flow ids default to "source->target".
func ReadModel(path string) (*domain.ProcessModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// ParseModel decodes a serialized model.
func ParseModel(data []byte) (*domain.ProcessModel, error) {
	var m domain.ProcessModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse process model: %w", err)
	}
	normalize(&m)
	return &m, nil
}

func normalize(m *domain.ProcessModel) {
	for i := range m.Flows {
		f := &m.Flows[i]
		if f.ID == "" {
			f.ID = f.SourceRef + "->" + f.TargetRef
		}
	}
	for i := range m.Nodes {
		if sub := m.Nodes[i].SubProcess; sub != nil {
			if sub.ID == "" {
				sub.ID = m.Nodes[i].ID
			}
			normalize(sub)
		}
	}
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
