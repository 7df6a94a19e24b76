package dsl

import (
	"fmt"

	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/pkg/domain"
)

// Builder manages the model construction.
type Builder struct {
	id      string
	name    string
	version string
	order   []string
	nodes   map[string]*NodeBuilder
	flows   []domain.SequenceFlow
}

// New creates a builder for the model id.
func New(id string) *Builder {
	return &Builder{
		id:    id,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Name sets the display name of the model.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Version sets the model version.
func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

// Add creates a new node in the model.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.FlowNode{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Model assembles the model without validating it.
func (b *Builder) Model() *domain.ProcessModel {
	m := &domain.ProcessModel{
		ID:      b.id,
		Name:    b.name,
		Version: b.version,
		Nodes:   make([]domain.FlowNode, 0, len(b.order)),
		Flows:   append([]domain.SequenceFlow(nil), b.flows...),
	}
	for _, id := range b.order {
		m.Nodes = append(m.Nodes, b.nodes[id].Build())
	}
	return m
}

// Build assembles and validates the model.
func (b *Builder) Build() (*domain.ProcessModel, error) {
	for _, id := range b.order {
		if b.nodes[id].node.Kind == "" {
			return nil, domain.NewModelValidationError(id, "node has no kind")
		}
	}
	m := b.Model()
	if err := model.New(m).Validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", b.id, err)
	}
	return m, nil
}

// MustBuild is Build for models known to be valid. It panics otherwise.
func (b *Builder) MustBuild() *domain.ProcessModel {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func (b *Builder) connect(source, target, condition string) string {
	id := source + "->" + target
	b.flows = append(b.flows, domain.SequenceFlow{
		ID:        id,
		SourceRef: source,
		TargetRef: target,
		Condition: condition,
	})
	return id
}
