package dsl

import "github.com/aretw0/processengine/pkg/domain"

// NodeBuilder provides a fluent API for configuring a flow node.
type NodeBuilder struct {
	node    domain.FlowNode
	builder *Builder
}

func (n *NodeBuilder) kind(k domain.FlowNodeKind) *NodeBuilder {
	n.node.Kind = k
	return n
}

func (n *NodeBuilder) event(k domain.FlowNodeKind, def domain.EventDefinition) *NodeBuilder {
	n.node.Kind = k
	n.node.Event = &def
	return n
}

// Name sets the display name of the node.
func (n *NodeBuilder) Name(name string) *NodeBuilder {
	n.node.Name = name
	return n
}

// Extension sets a vendor extension property.
func (n *NodeBuilder) Extension(key string, value any) *NodeBuilder {
	if n.node.Extensions == nil {
		n.node.Extensions = make(map[string]any)
	}
	n.node.Extensions[key] = value
	return n
}

// StartEvent makes the node a none start event.
func (n *NodeBuilder) StartEvent() *NodeBuilder { return n.kind(domain.KindStartEvent) }

// EndEvent makes the node a none end event.
func (n *NodeBuilder) EndEvent() *NodeBuilder { return n.kind(domain.KindEndEvent) }

// Terminate makes the node an end event that stops every other branch.
func (n *NodeBuilder) Terminate() *NodeBuilder {
	return n.kind(domain.KindEndEvent).Extension("terminate", true)
}

// ErrorEnd makes the node an error end event raising code.
func (n *NodeBuilder) ErrorEnd(code, message string) *NodeBuilder {
	return n.event(domain.KindEndEvent, domain.EventDefinition{
		Kind:         domain.EventError,
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// ExclusiveGateway makes the node an exclusive (XOR) gateway.
func (n *NodeBuilder) ExclusiveGateway() *NodeBuilder { return n.kind(domain.KindExclusiveGateway) }

// ParallelGateway makes the node a parallel (AND) split or join.
func (n *NodeBuilder) ParallelGateway() *NodeBuilder { return n.kind(domain.KindParallelGateway) }

// Script makes the node a script task evaluating expr.
func (n *NodeBuilder) Script(expr string) *NodeBuilder {
	n.node.Script = expr
	return n.kind(domain.KindScriptTask)
}

// Service makes the node a service task bound to module.method. String
// params starting with "=" are evaluated against the token.
func (n *NodeBuilder) Service(module, method string, params map[string]any) *NodeBuilder {
	binding := map[string]any{"module": module, "method": method}
	if params != nil {
		binding["params"] = params
	}
	return n.kind(domain.KindServiceTask).Extension("service", binding)
}

// UserTask makes the node a user task.
func (n *NodeBuilder) UserTask() *NodeBuilder { return n.kind(domain.KindUserTask) }

// SendTask makes the node a task publishing message.
func (n *NodeBuilder) SendTask(message string) *NodeBuilder {
	return n.event(domain.KindSendTask, domain.EventDefinition{Kind: domain.EventMessage, Name: message})
}

// ReceiveTask makes the node a task waiting for message.
func (n *NodeBuilder) ReceiveTask(message string) *NodeBuilder {
	return n.event(domain.KindReceiveTask, domain.EventDefinition{Kind: domain.EventMessage, Name: message})
}

// CatchMessage makes the node an intermediate event waiting for message.
func (n *NodeBuilder) CatchMessage(message string) *NodeBuilder {
	return n.event(domain.KindIntermediateCatchEvent, domain.EventDefinition{Kind: domain.EventMessage, Name: message})
}

// CatchSignal makes the node an intermediate event waiting for signal.
func (n *NodeBuilder) CatchSignal(signal string) *NodeBuilder {
	return n.event(domain.KindIntermediateCatchEvent, domain.EventDefinition{Kind: domain.EventSignal, Name: signal})
}

// Timer makes the node an intermediate timer event.
// duration accepts Go and ISO-8601 durations.
func (n *NodeBuilder) Timer(duration string) *NodeBuilder {
	return n.event(domain.KindIntermediateCatchEvent, domain.EventDefinition{
		Kind:  domain.EventTimer,
		Timer: &domain.TimerDefinition{Duration: duration},
	})
}

// ThrowMessage makes the node an intermediate event publishing message.
func (n *NodeBuilder) ThrowMessage(message string) *NodeBuilder {
	return n.event(domain.KindIntermediateThrowEvent, domain.EventDefinition{Kind: domain.EventMessage, Name: message})
}

// ThrowSignal makes the node an intermediate event broadcasting signal.
func (n *NodeBuilder) ThrowSignal(signal string) *NodeBuilder {
	return n.event(domain.KindIntermediateThrowEvent, domain.EventDefinition{Kind: domain.EventSignal, Name: signal})
}

// LinkThrow jumps to the link catch event named name.
func (n *NodeBuilder) LinkThrow(name string) *NodeBuilder {
	return n.event(domain.KindIntermediateThrowEvent, domain.EventDefinition{Kind: domain.EventLink, Name: name})
}

// LinkCatch is the target of the link throw events named name.
func (n *NodeBuilder) LinkCatch(name string) *NodeBuilder {
	return n.event(domain.KindIntermediateCatchEvent, domain.EventDefinition{Kind: domain.EventLink, Name: name})
}

// BoundaryError catches errors with code raised by host. An empty code
// catches every error.
func (n *NodeBuilder) BoundaryError(host, code string) *NodeBuilder {
	n.node.AttachedTo = host
	return n.event(domain.KindBoundaryEvent, domain.EventDefinition{Kind: domain.EventError, ErrorCode: code})
}

// BoundaryTimer interrupts host after duration.
func (n *NodeBuilder) BoundaryTimer(host, duration string) *NodeBuilder {
	n.node.AttachedTo = host
	return n.event(domain.KindBoundaryEvent, domain.EventDefinition{
		Kind:  domain.EventTimer,
		Timer: &domain.TimerDefinition{Duration: duration},
	})
}

// BoundaryMessage interrupts host when message arrives.
func (n *NodeBuilder) BoundaryMessage(host, message string) *NodeBuilder {
	n.node.AttachedTo = host
	return n.event(domain.KindBoundaryEvent, domain.EventDefinition{Kind: domain.EventMessage, Name: message})
}

// BoundarySignal interrupts host when signal is broadcast.
func (n *NodeBuilder) BoundarySignal(host, signal string) *NodeBuilder {
	n.node.AttachedTo = host
	return n.event(domain.KindBoundaryEvent, domain.EventDefinition{Kind: domain.EventSignal, Name: signal})
}

// SubProcess makes the node an embedded sub process running sub.
func (n *NodeBuilder) SubProcess(sub *Builder) *NodeBuilder {
	n.node.SubProcess = sub.Model()
	return n.kind(domain.KindSubProcess)
}

// Go adds an unconditional sequence flow to target.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.builder.connect(n.node.ID, target, "")
	return n
}

// Branch adds a sequence flow to target guarded by condition.
func (n *NodeBuilder) Branch(condition, target string) *NodeBuilder {
	n.builder.connect(n.node.ID, target, condition)
	return n
}

// Default adds the flow an exclusive gateway takes when no branch holds.
func (n *NodeBuilder) Default(target string) *NodeBuilder {
	n.node.DefaultFlow = n.builder.connect(n.node.ID, target, "")
	return n
}

// Build returns the underlying domain.FlowNode.
func (n *NodeBuilder) Build() domain.FlowNode {
	return n.node
}
