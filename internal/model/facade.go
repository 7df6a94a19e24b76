// Package model provides the read-only query surface over an immutable
// process graph.
package model

import (
	"context"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
)

// ConditionEvaluator evaluates a sequence flow condition on behalf of a node.
// The token facade implements it.
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, flowNodeID, expr string) (bool, error)
}

// Facade indexes a ProcessModel for fast lookups. It never mutates the model.
type Facade struct {
	model      *domain.ProcessModel
	nodes      map[string]*domain.FlowNode
	flows      map[string]*domain.SequenceFlow
	outgoing   map[string][]*domain.SequenceFlow
	incoming   map[string][]*domain.SequenceFlow
	boundaries map[string][]*domain.FlowNode

	subMu sync.Mutex
	subs  map[string]*Facade
}

// New builds a Facade for m.
func New(m *domain.ProcessModel) *Facade {
	f := &Facade{
		model:      m,
		nodes:      make(map[string]*domain.FlowNode, len(m.Nodes)),
		flows:      make(map[string]*domain.SequenceFlow, len(m.Flows)),
		outgoing:   make(map[string][]*domain.SequenceFlow),
		incoming:   make(map[string][]*domain.SequenceFlow),
		boundaries: make(map[string][]*domain.FlowNode),
		subs:       make(map[string]*Facade),
	}
	for i := range m.Nodes {
		n := &m.Nodes[i]
		f.nodes[n.ID] = n
		if n.Kind == domain.KindBoundaryEvent && n.AttachedTo != "" {
			f.boundaries[n.AttachedTo] = append(f.boundaries[n.AttachedTo], n)
		}
	}
	for i := range m.Flows {
		fl := &m.Flows[i]
		f.flows[fl.ID] = fl
	}

	// Declaration order is the node's own Outgoing/Incoming list when present,
	// otherwise the order of the flows in the model.
	for i := range m.Nodes {
		n := &m.Nodes[i]
		f.outgoing[n.ID] = f.ordered(n.Outgoing, func(fl *domain.SequenceFlow) bool { return fl.SourceRef == n.ID })
		f.incoming[n.ID] = f.ordered(n.Incoming, func(fl *domain.SequenceFlow) bool { return fl.TargetRef == n.ID })
	}
	return f
}

func (f *Facade) ordered(ids []string, match func(*domain.SequenceFlow) bool) []*domain.SequenceFlow {
	var out []*domain.SequenceFlow
	if len(ids) > 0 {
		for _, id := range ids {
			if fl, ok := f.flows[id]; ok && match(fl) {
				out = append(out, fl)
			}
		}
		return out
	}
	for i := range f.model.Flows {
		if fl := &f.model.Flows[i]; match(fl) {
			out = append(out, fl)
		}
	}
	return out
}

// Model returns the underlying model.
func (f *Facade) Model() *domain.ProcessModel { return f.model }

// ProcessModelID returns the model id.
func (f *Facade) ProcessModelID() string { return f.model.ID }

// NodeByID returns the node with id, or nil.
func (f *Facade) NodeByID(id string) *domain.FlowNode { return f.nodes[id] }

// StartNodes returns every declared start event, in declaration order.
func (f *Facade) StartNodes() []*domain.FlowNode {
	var out []*domain.FlowNode
	for i := range f.model.Nodes {
		if n := &f.model.Nodes[i]; n.Kind == domain.KindStartEvent {
			out = append(out, n)
		}
	}
	return out
}

// OutgoingFlowsFor returns the outgoing flows of node in declaration order.
func (f *Facade) OutgoingFlowsFor(node *domain.FlowNode) []*domain.SequenceFlow {
	return f.outgoing[node.ID]
}

// IncomingFlowsFor returns the incoming flows of node in declaration order.
func (f *Facade) IncomingFlowsFor(node *domain.FlowNode) []*domain.SequenceFlow {
	return f.incoming[node.ID]
}

// BoundaryEventsFor returns the boundary events attached to node in declaration order.
func (f *Facade) BoundaryEventsFor(node *domain.FlowNode) []*domain.FlowNode {
	return f.boundaries[node.ID]
}

// LinkCatchEventsByName returns every intermediate link catch event named name.
func (f *Facade) LinkCatchEventsByName(name string) []*domain.FlowNode {
	var out []*domain.FlowNode
	for i := range f.model.Nodes {
		n := &f.model.Nodes[i]
		if n.Kind == domain.KindIntermediateCatchEvent && n.EventKind() == domain.EventLink && n.EventName() == name {
			out = append(out, n)
		}
	}
	return out
}

// LinkCatchEventByName resolves the unique link catch event named name.
// Zero or several matches are a ModelValidationError attributed to throwID.
func (f *Facade) LinkCatchEventByName(throwID, name string) (*domain.FlowNode, error) {
	matches := f.LinkCatchEventsByName(name)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, domain.NewModelValidationError(throwID, "no link catch event named %q", name)
	default:
		return nil, domain.NewModelValidationError(throwID, "%d link catch events named %q", len(matches), name)
	}
}

// NextNodesFor returns the nodes following node.
//
// For an exclusive gateway the outgoing conditions are evaluated in
// declaration order and the first satisfied flow wins; a flow without a
// condition is satisfied. The default flow is only taken when nothing else
// holds. Every other node kind returns all outgoing targets.
func (f *Facade) NextNodesFor(ctx context.Context, node *domain.FlowNode, cond ConditionEvaluator) ([]*domain.FlowNode, error) {
	flows := f.outgoing[node.ID]
	if node.Kind != domain.KindExclusiveGateway {
		out := make([]*domain.FlowNode, 0, len(flows))
		for _, fl := range flows {
			target, err := f.target(node, fl)
			if err != nil {
				return nil, err
			}
			out = append(out, target)
		}
		return out, nil
	}

	var def *domain.SequenceFlow
	for _, fl := range flows {
		if fl.ID == node.DefaultFlow {
			def = fl
			continue
		}
		ok := true
		if fl.Condition != "" {
			var err error
			if ok, err = cond.EvaluateCondition(ctx, node.ID, fl.Condition); err != nil {
				return nil, err
			}
		}
		if ok {
			target, err := f.target(node, fl)
			if err != nil {
				return nil, err
			}
			return []*domain.FlowNode{target}, nil
		}
	}
	if def != nil {
		target, err := f.target(node, def)
		if err != nil {
			return nil, err
		}
		return []*domain.FlowNode{target}, nil
	}
	return nil, domain.NewModelValidationError(node.ID, "no satisfiable outgoing flow")
}

func (f *Facade) target(node *domain.FlowNode, fl *domain.SequenceFlow) (*domain.FlowNode, error) {
	t, ok := f.nodes[fl.TargetRef]
	if !ok {
		return nil, domain.NewModelValidationError(node.ID, "sequence flow %s targets unknown node %q", fl.ID, fl.TargetRef)
	}
	return t, nil
}

// SubProcessFacade returns the facade of the graph embedded in a sub process node.
func (f *Facade) SubProcessFacade(node *domain.FlowNode) (*Facade, error) {
	if node.Kind != domain.KindSubProcess || node.SubProcess == nil {
		return nil, domain.NewModelValidationError(node.ID, "not a sub process with an embedded model")
	}
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if sub, ok := f.subs[node.ID]; ok {
		return sub, nil
	}
	sub := New(node.SubProcess)
	f.subs[node.ID] = sub
	return sub, nil
}

// Locate finds the facade (this one or a nested sub process) that declares
// flowNodeID, searching depth first.
func (f *Facade) Locate(flowNodeID string) (*Facade, *domain.FlowNode) {
	if n := f.nodes[flowNodeID]; n != nil {
		return f, n
	}
	for i := range f.model.Nodes {
		n := &f.model.Nodes[i]
		if n.Kind != domain.KindSubProcess || n.SubProcess == nil {
			continue
		}
		sub, err := f.SubProcessFacade(n)
		if err != nil {
			continue
		}
		if owner, found := sub.Locate(flowNodeID); found != nil {
			return owner, found
		}
	}
	return nil, nil
}
