package handlers

import (
	"context"
	"strings"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// ScriptTask evaluates its script and records the value.
type ScriptTask struct{ base }

func (h *ScriptTask) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		if strings.TrimSpace(h.node.Script) == "" {
			return nil, domain.NewModelValidationError(h.node.ID, "script task has no script")
		}
		v, err := ec.Token.Evaluate(ctx, h.node.ID, h.node.Script)
		if err != nil {
			return nil, err
		}
		ec.Token.AddResult(h.node.ID, ec.FlowNodeInstanceID, v)
		return h.next(ctx, ec)
	})
}

// ServiceBinding is the "service" extension property of a service task.
// String parameters starting with "=" are expressions evaluated against the token.
type ServiceBinding struct {
	Module string         `mapstructure:"module"`
	Method string         `mapstructure:"method"`
	Params map[string]any `mapstructure:"params"`
}

// DecodeServiceBinding reads the binding of node.
func DecodeServiceBinding(node *domain.FlowNode) (*ServiceBinding, error) {
	raw, ok := node.Extension("service")
	if !ok {
		return nil, domain.NewModelValidationError(node.ID, "missing service binding")
	}
	var b ServiceBinding
	if err := mapstructure.Decode(raw, &b); err != nil {
		return nil, domain.NewModelValidationError(node.ID, "invalid service binding: %v", err)
	}
	if b.Module == "" || b.Method == "" {
		return nil, domain.NewModelValidationError(node.ID, "service binding needs module and method")
	}
	return &b, nil
}

// ServiceTask invokes the module method it is bound to.
type ServiceTask struct{ base }

func (h *ServiceTask) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		binding, err := DecodeServiceBinding(h.node)
		if err != nil {
			return nil, err
		}
		if h.Services == nil {
			return nil, domain.NewModelValidationError(h.node.ID, "no service invoker configured")
		}
		params, err := h.params(ctx, ec, binding.Params)
		if err != nil {
			return nil, err
		}

		h.log(ec).Debug("invoking service", "module", binding.Module, "method", binding.Method)
		out, err := h.Services.Invoke(ctx, binding.Module, binding.Method, params, ec.Identity)
		if err != nil {
			return nil, &domain.ServiceInvocationError{
				FlowNodeID: h.node.ID,
				Module:     binding.Module,
				Method:     binding.Method,
				Err:        err,
			}
		}
		if out == nil {
			out = ec.Token.Payload()
		}
		ec.Token.AddResult(h.node.ID, ec.FlowNodeInstanceID, out)
		return h.next(ctx, ec)
	})
}

func (h *ServiceTask) params(ctx context.Context, ec *ExecutionContext, in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "=") {
			out[k] = v
			continue
		}
		val, err := ec.Token.Evaluate(ctx, h.node.ID, strings.TrimPrefix(s, "="))
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// SendTask publishes its message with the current payload.
type SendTask struct{ base }

func (h *SendTask) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		if err := h.throw(ctx, ec); err != nil {
			return nil, err
		}
		return h.passThrough(ctx, ec)
	})
}

// ReceiveTask waits for its message and acknowledges it on the reply topic.
type ReceiveTask struct{ base }

func (h *ReceiveTask) suspension(ec *ExecutionContext) (waiter, error) {
	topic, err := h.eventTopic()
	if err != nil {
		return waiter{}, err
	}
	return waiter{
		arm: h.subscribe(topic),
		onResume: func(ctx context.Context, t trigger) ([]*domain.FlowNode, error) {
			h.recordNotification(ec, t.Notification)
			reply := h.notification(ec, ec.Token.Payload())
			if err := h.Notifier.Publish(ctx, domain.MessageReplyTopic(h.eventName()), reply); err != nil {
				return nil, err
			}
			return h.next(ctx, ec)
		},
	}, nil
}

func (h *ReceiveTask) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := h.enter(ctx, ec); err != nil {
		return nil, err
	}
	wt, err := h.suspension(ec)
	if err != nil {
		return nil, h.fail(ctx, ec, err)
	}
	return h.suspend(ctx, ec, wt, true)
}

func (h *ReceiveTask) Rearm(ctx context.Context, ec *ExecutionContext, _ *domain.FlowNodeInstance) error {
	wt, err := h.suspension(ec)
	if err != nil {
		return err
	}
	return h.rearm(ctx, ec, wt)
}

// UserTask announces itself on user_task_waiting and waits for the finish
// notification addressed to its instance id. A finish notification carrying
// an error fails the task with a BPMNError.
type UserTask struct{ base }

func (h *UserTask) suspension(ec *ExecutionContext) waiter {
	return waiter{
		arm: h.subscribe(domain.UserTaskFinishTopic(ec.FlowNodeInstanceID)),
		afterSuspend: func(ctx context.Context) error {
			n := h.notification(ec, ec.Token.Payload())
			return h.Notifier.Publish(ctx, domain.TopicUserTaskWaiting, n)
		},
		onResume: func(ctx context.Context, t trigger) ([]*domain.FlowNode, error) {
			if n := t.Notification; n != nil && (n.Error != "" || n.ErrorCode != "") {
				return nil, &domain.BPMNError{Code: n.ErrorCode, Name: h.node.Name, Message: n.Error}
			}
			h.recordNotification(ec, t.Notification)
			done := h.notification(ec, ec.Token.Payload())
			if err := h.Notifier.Publish(ctx, domain.TopicUserTaskDone, done); err != nil {
				h.log(ec).Warn("failed to publish user task completion", "error", err)
			}
			return h.next(ctx, ec)
		},
	}
}

func (h *UserTask) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.await(ctx, ec, h.suspension(ec))
}

func (h *UserTask) Rearm(ctx context.Context, ec *ExecutionContext, _ *domain.FlowNodeInstance) error {
	return h.rearm(ctx, ec, h.suspension(ec))
}
