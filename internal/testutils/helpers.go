// Package testutils builds process models for tests without a definition file.
package testutils

import (
	"github.com/aretw0/processengine/pkg/domain"
)

// NodeOption customizes a node built by Node.
type NodeOption func(*domain.FlowNode)

// Node builds a flow node of the given kind.
func Node(id string, kind domain.FlowNodeKind, opts ...NodeOption) domain.FlowNode {
	n := domain.FlowNode{ID: id, Kind: kind}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// Event sets the event definition kind and name.
func Event(kind domain.EventDefinitionKind, name string) NodeOption {
	return func(n *domain.FlowNode) {
		if n.Event == nil {
			n.Event = &domain.EventDefinition{}
		}
		n.Event.Kind = kind
		n.Event.Name = name
	}
}

// Timer makes the node a timer event firing after duration.
func Timer(duration string) NodeOption {
	return func(n *domain.FlowNode) {
		n.Event = &domain.EventDefinition{Kind: domain.EventTimer, Timer: &domain.TimerDefinition{Duration: duration}}
	}
}

// ErrorCode makes the node an error event with code.
func ErrorCode(code string) NodeOption {
	return func(n *domain.FlowNode) {
		n.Event = &domain.EventDefinition{Kind: domain.EventError, ErrorCode: code}
	}
}

// Script sets the script task expression.
func Script(expr string) NodeOption {
	return func(n *domain.FlowNode) { n.Script = expr }
}

// Default sets the default flow of a gateway.
func Default(flowID string) NodeOption {
	return func(n *domain.FlowNode) { n.DefaultFlow = flowID }
}

// AttachedTo attaches a boundary event to the activity id.
func AttachedTo(id string) NodeOption {
	return func(n *domain.FlowNode) { n.AttachedTo = id }
}

// Extensions sets the node extension properties.
func Extensions(ext map[string]any) NodeOption {
	return func(n *domain.FlowNode) { n.Extensions = ext }
}

// SubProcess embeds m into a sub process node.
func SubProcess(m *domain.ProcessModel) NodeOption {
	return func(n *domain.FlowNode) { n.SubProcess = m }
}

// FlowID is the id Flow assigns to the flow from -> to.
func FlowID(from, to string) string { return from + "->" + to }

// Flow connects from to to without a condition.
func Flow(from, to string) domain.SequenceFlow {
	return domain.SequenceFlow{ID: FlowID(from, to), SourceRef: from, TargetRef: to}
}

// When connects from to to guarded by cond.
func When(from, to, cond string) domain.SequenceFlow {
	f := Flow(from, to)
	f.Condition = cond
	return f
}

// Model assembles a process model.
func Model(id string, nodes []domain.FlowNode, flows ...domain.SequenceFlow) *domain.ProcessModel {
	return &domain.ProcessModel{ID: id, Version: "1", Nodes: nodes, Flows: flows}
}

// Nodes is a readability shorthand for a node slice.
func Nodes(nodes ...domain.FlowNode) []domain.FlowNode { return nodes }
