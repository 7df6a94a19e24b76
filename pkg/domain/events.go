package domain

import (
	"context"
	"time"
)

// FlowNodeEvent is emitted on every persisted lifecycle transition.
type FlowNodeEvent struct {
	Timestamp          time.Time             `json:"timestamp"`
	State              FlowNodeInstanceState `json:"state"`
	FlowNodeID         string                `json:"flow_node_id"`
	FlowNodeKind       FlowNodeKind          `json:"flow_node_kind"`
	FlowNodeInstanceID string                `json:"flow_node_instance_id"`
	ProcessModelID     string                `json:"process_model_id"`
	ProcessInstanceID  string                `json:"process_instance_id"`
	Err                error                 `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Any of them may be nil.
type LifecycleHooks struct {
	OnFlowNodeEnter   func(context.Context, *FlowNodeEvent)
	OnFlowNodeExit    func(context.Context, *FlowNodeEvent)
	OnFlowNodeSuspend func(context.Context, *FlowNodeEvent)
	OnFlowNodeResume  func(context.Context, *FlowNodeEvent)
	OnFlowNodeError   func(context.Context, *FlowNodeEvent)
	OnFlowNodeCancel  func(context.Context, *FlowNodeEvent)
}

// Fire dispatches ev to the hook matching its state.
func (h LifecycleHooks) Fire(ctx context.Context, ev *FlowNodeEvent, resumed bool) {
	var fn func(context.Context, *FlowNodeEvent)
	switch ev.State {
	case StateRunning:
		fn = h.OnFlowNodeEnter
		if resumed {
			fn = h.OnFlowNodeResume
		}
	case StateSuspended:
		fn = h.OnFlowNodeSuspend
	case StateFinished:
		fn = h.OnFlowNodeExit
	case StateError:
		fn = h.OnFlowNodeError
	case StateCancelled:
		fn = h.OnFlowNodeCancel
	}
	if fn != nil {
		fn(ctx, ev)
	}
}

// Combine returns hooks that call every non-nil hook of each argument in order.
func Combine(hooks ...LifecycleHooks) LifecycleHooks {
	pick := func(sel func(LifecycleHooks) func(context.Context, *FlowNodeEvent)) func(context.Context, *FlowNodeEvent) {
		var fns []func(context.Context, *FlowNodeEvent)
		for _, h := range hooks {
			if fn := sel(h); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(ctx context.Context, ev *FlowNodeEvent) {
			for _, fn := range fns {
				fn(ctx, ev)
			}
		}
	}
	return LifecycleHooks{
		OnFlowNodeEnter:   pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeEnter }),
		OnFlowNodeExit:    pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeExit }),
		OnFlowNodeSuspend: pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeSuspend }),
		OnFlowNodeResume:  pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeResume }),
		OnFlowNodeError:   pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeError }),
		OnFlowNodeCancel:  pick(func(h LifecycleHooks) func(context.Context, *FlowNodeEvent) { return h.OnFlowNodeCancel }),
	}
}
