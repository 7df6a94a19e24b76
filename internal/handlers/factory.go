package handlers

import (
	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/pkg/domain"
)

// Factory resolves flow nodes to handlers.
type Factory struct {
	deps *Deps
}

// NewFactory creates a factory whose handlers share deps.
func NewFactory(deps *Deps) *Factory {
	return &Factory{deps: deps}
}

// Deps returns the collaborators handed to every handler.
func (f *Factory) Deps() *Deps { return f.deps }

// HandlerFor returns the handler of node within m, wrapped in a
// BoundaryDecorator when boundary events are attached to it.
func (f *Factory) HandlerFor(m *model.Facade, node *domain.FlowNode) (Handler, error) {
	h, err := f.handler(node)
	if err != nil {
		return nil, err
	}
	boundaries := m.BoundaryEventsFor(node)
	if len(boundaries) == 0 {
		return h, nil
	}
	for _, b := range boundaries {
		if !b.Interrupting() {
			return nil, domain.NewModelValidationError(b.ID, "non-interrupting boundary events are not supported")
		}
		switch b.EventKind() {
		case domain.EventTimer, domain.EventMessage, domain.EventSignal, domain.EventError:
		default:
			return nil, domain.NewModelValidationError(b.ID, "unsupported boundary event kind %s", b.EventKind())
		}
	}
	return NewBoundaryDecorator(f.deps, h, boundaries), nil
}

func (f *Factory) handler(node *domain.FlowNode) (Handler, error) {
	b := base{Deps: f.deps, node: node}
	ek := node.EventKind()

	switch node.Kind {
	case domain.KindStartEvent:
		if ek == domain.EventNone {
			return &StartEvent{b}, nil
		}
	case domain.KindEndEvent:
		switch ek {
		case domain.EventNone, domain.EventMessage, domain.EventSignal, domain.EventError:
			return &EndEvent{b}, nil
		}
	case domain.KindExclusiveGateway:
		return &ExclusiveGateway{b}, nil
	case domain.KindParallelGateway:
		return &ParallelGateway{b}, nil
	case domain.KindScriptTask:
		return &ScriptTask{b}, nil
	case domain.KindServiceTask:
		return &ServiceTask{b}, nil
	case domain.KindSendTask:
		return &SendTask{b}, nil
	case domain.KindReceiveTask:
		return &ReceiveTask{b}, nil
	case domain.KindUserTask:
		return &UserTask{b}, nil
	case domain.KindSubProcess:
		return &SubProcess{b}, nil
	case domain.KindIntermediateCatchEvent:
		switch ek {
		case domain.EventMessage, domain.EventSignal:
			return &CatchEvent{b}, nil
		case domain.EventTimer:
			return &TimerEvent{b}, nil
		case domain.EventNone, domain.EventLink:
			return &PassThroughEvent{b}, nil
		}
	case domain.KindIntermediateThrowEvent:
		switch ek {
		case domain.EventNone, domain.EventMessage, domain.EventSignal:
			return &ThrowEvent{b}, nil
		case domain.EventLink:
			return &LinkThrowEvent{b}, nil
		}
	case domain.KindBoundaryEvent:
		return nil, domain.NewModelValidationError(node.ID, "boundary events run with the activity they are attached to")
	default:
		return nil, domain.NewModelValidationError(node.ID, "unsupported flow node kind %q", node.Kind)
	}
	return nil, domain.NewModelValidationError(node.ID, "unsupported %s event definition on %s", ek, node.Kind)
}
