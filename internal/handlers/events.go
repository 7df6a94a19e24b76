package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// StartEvent publishes process_started for the root scope and continues.
type StartEvent struct{ base }

func (h *StartEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		if ec.ParentFlowNodeInstanceID == "" {
			n := h.notification(ec, ec.Token.Payload())
			if err := h.Notifier.Publish(ctx, domain.TopicProcessStarted, n); err != nil {
				return nil, fmt.Errorf("publish process started: %w", err)
			}
		}
		return h.passThrough(ctx, ec)
	})
}

// endOptions are the extension properties understood by end events.
type endOptions struct {
	Terminate bool `mapstructure:"terminate"`
}

// EndEvent ends the lineage. Error end events raise a BPMNError instead.
type EndEvent struct{ base }

func (h *EndEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if h.node.EventKind() == domain.EventError {
		if err := h.enter(ctx, ec); err != nil {
			return nil, err
		}
		return nil, h.fail(ctx, ec, &domain.BPMNError{
			Code:    h.node.Event.ErrorCode,
			Name:    h.node.Name,
			Message: h.node.Event.ErrorMessage,
		})
	}

	var opts endOptions
	if len(h.node.Extensions) > 0 {
		if err := mapstructure.WeakDecode(h.node.Extensions, &opts); err != nil {
			if eerr := h.enter(ctx, ec); eerr != nil {
				return nil, eerr
			}
			return nil, h.fail(ctx, ec, domain.NewModelValidationError(h.node.ID, "invalid end event extensions: %v", err))
		}
	}

	res, err := h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		switch h.node.EventKind() {
		case domain.EventMessage, domain.EventSignal:
			if err := h.throw(ctx, ec); err != nil {
				return nil, err
			}
		}
		ec.Token.AddResult(h.node.ID, ec.FlowNodeInstanceID, ec.Token.Payload())
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	res.Terminate = opts.Terminate

	n := h.notification(ec, ec.Token.Payload())
	if err := h.Notifier.Publish(ctx, domain.TopicEndEventReached, n); err != nil {
		h.log(ec).Warn("failed to publish end event notification", "error", err)
	}
	return res, nil
}

// throw publishes the message or signal named by the node.
func (h *base) throw(ctx context.Context, ec *ExecutionContext) error {
	topic, err := h.eventTopic()
	if err != nil {
		return err
	}
	return h.Notifier.Publish(ctx, topic, h.notification(ec, ec.Token.Payload()))
}

func (h *base) eventTopic() (string, error) {
	name := h.eventName()
	switch h.node.Kind {
	case domain.KindSendTask, domain.KindReceiveTask:
		if name == "" {
			return "", domain.NewModelValidationError(h.node.ID, "missing message definition")
		}
		return domain.MessageTopic(name), nil
	}
	switch h.node.EventKind() {
	case domain.EventMessage:
		if name == "" {
			return "", domain.NewModelValidationError(h.node.ID, "missing message definition")
		}
		return domain.MessageTopic(name), nil
	case domain.EventSignal:
		if name == "" {
			return "", domain.NewModelValidationError(h.node.ID, "missing signal definition")
		}
		return domain.SignalTopic(name), nil
	}
	return "", domain.NewModelValidationError(h.node.ID, "event kind %s has no topic", h.node.EventKind())
}

// eventName is the event definition name, or for send and receive tasks the
// "message" extension property when no definition is attached.
func (h *base) eventName() string {
	if name := h.node.EventName(); name != "" {
		return name
	}
	if v, ok := h.node.Extension("message"); ok {
		name, _ := v.(string)
		return name
	}
	return ""
}

// ThrowEvent is an intermediate throw event with a message, signal or no definition.
type ThrowEvent struct{ base }

func (h *ThrowEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		if h.node.EventKind() == domain.EventNone {
			n := h.notification(ec, ec.Token.Payload())
			if err := h.Notifier.Publish(ctx, domain.TopicIntermediateEventReached, n); err != nil {
				return nil, err
			}
		} else if err := h.throw(ctx, ec); err != nil {
			return nil, err
		}
		return h.passThrough(ctx, ec)
	})
}

// PassThroughEvent covers none and link catch events: Enter, Exit, continue.
type PassThroughEvent struct{ base }

func (h *PassThroughEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		return h.passThrough(ctx, ec)
	})
}

// LinkThrowEvent routes to the node after the uniquely named link catch event.
type LinkThrowEvent struct{ base }

func (h *LinkThrowEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		catch, err := ec.Model.LinkCatchEventByName(h.node.ID, h.node.EventName())
		if err != nil {
			return nil, err
		}
		ec.Token.AddResult(h.node.ID, ec.FlowNodeInstanceID, ec.Token.Payload())
		return ec.Model.NextNodesFor(ctx, catch, ec.Token)
	})
}

// CatchEvent waits for a message or signal.
type CatchEvent struct{ base }

func (h *CatchEvent) suspension(ctx context.Context, ec *ExecutionContext) (waiter, error) {
	topic, err := h.eventTopic()
	if err != nil {
		return waiter{}, err
	}
	return waiter{
		arm: h.subscribe(topic),
		onResume: func(ctx context.Context, t trigger) ([]*domain.FlowNode, error) {
			h.recordNotification(ec, t.Notification)
			return h.next(ctx, ec)
		},
	}, nil
}

func (h *CatchEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := h.enter(ctx, ec); err != nil {
		return nil, err
	}
	wt, err := h.suspension(ctx, ec)
	if err != nil {
		return nil, h.fail(ctx, ec, err)
	}
	return h.suspend(ctx, ec, wt, true)
}

func (h *CatchEvent) Rearm(ctx context.Context, ec *ExecutionContext, _ *domain.FlowNodeInstance) error {
	wt, err := h.suspension(ctx, ec)
	if err != nil {
		return err
	}
	return h.rearm(ctx, ec, wt)
}

// TimerEvent waits for its timer definition to elapse.
type TimerEvent struct{ base }

func (h *TimerEvent) suspension(ec *ExecutionContext, d time.Duration) waiter {
	return waiter{
		arm: h.schedule(d),
		onResume: func(ctx context.Context, _ trigger) ([]*domain.FlowNode, error) {
			return h.passThrough(ctx, ec)
		},
	}
}

func (h *TimerEvent) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	if err := h.enter(ctx, ec); err != nil {
		return nil, err
	}
	d, err := h.node.Event.Timer.TimerDelay(h.Now())
	if err != nil {
		return nil, h.fail(ctx, ec, fmt.Errorf("timer %s: %w", h.node.ID, err))
	}
	return h.suspend(ctx, ec, h.suspension(ec, d), true)
}

// Rearm schedules the time left since the instance suspended.
func (h *TimerEvent) Rearm(ctx context.Context, ec *ExecutionContext, inst *domain.FlowNodeInstance) error {
	d, err := remainingDelay(h.node, inst.SuspendedAt, h.Now())
	if err != nil {
		return err
	}
	return h.rearm(ctx, ec, h.suspension(ec, d))
}

// remainingDelay is the delay of a timer node that started counting at since.
// Date timers do not depend on since.
func remainingDelay(node *domain.FlowNode, since, now time.Time) (time.Duration, error) {
	if node.Event == nil || node.Event.Timer == nil {
		return 0, fmt.Errorf("timer %s: %w", node.ID, domain.ErrMissingTimerDefinition)
	}
	t := node.Event.Timer
	if t.Date != "" || since.IsZero() {
		return t.TimerDelay(now)
	}
	d, err := t.TimerDelay(now)
	if err != nil {
		return 0, err
	}
	if left := d - now.Sub(since); left > 0 {
		return left, nil
	}
	return 0, nil
}

func (b *base) schedule(d time.Duration) func(ctx context.Context, fire func(trigger)) (ports.Subscription, error) {
	return func(ctx context.Context, fire func(trigger)) (ports.Subscription, error) {
		return b.Timers.Schedule(context.WithoutCancel(ctx), d, func() { fire(trigger{}) }), nil
	}
}
