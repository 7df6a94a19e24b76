package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// errPreempted is returned by a decorated node whose boundary event won the race.
var errPreempted = errors.New("flow node preempted by boundary event")

// trigger is what woke a suspended node up.
type trigger struct {
	Notification *domain.Notification
	Token        *domain.ProcessToken
	Err          error
}

// waiter describes one suspension.
type waiter struct {
	// arm registers the external subscription. fire may be called from any
	// goroutine, at most once is honoured.
	arm func(ctx context.Context, fire func(trigger)) (ports.Subscription, error)
	// afterSuspend runs once the suspension is persisted. Optional.
	afterSuspend func(ctx context.Context) error
	// onResume computes the next nodes once the node is running again.
	onResume func(ctx context.Context, t trigger) ([]*domain.FlowNode, error)
}

// base holds the lifecycle helpers every handler is built from.
type base struct {
	*Deps
	node *domain.FlowNode
}

func (b *base) Node() *domain.FlowNode { return b.node }

func (b *base) log(ec *ExecutionContext) *slog.Logger {
	return b.Logger.With(
		"process_instance_id", ec.Token.ProcessInstanceID(),
		"flow_node_id", b.node.ID,
		"flow_node_instance_id", ec.FlowNodeInstanceID,
	)
}

func (b *base) fire(ctx context.Context, ec *ExecutionContext, state domain.FlowNodeInstanceState, resumed bool, cause error) {
	b.Hooks.Fire(ctx, &domain.FlowNodeEvent{
		Timestamp:          b.Now(),
		State:              state,
		FlowNodeID:         b.node.ID,
		FlowNodeKind:       b.node.Kind,
		FlowNodeInstanceID: ec.FlowNodeInstanceID,
		ProcessModelID:     ec.Token.ProcessModelID(),
		ProcessInstanceID:  ec.Token.ProcessInstanceID(),
		Err:                cause,
	}, resumed)
}

func (b *base) enter(ctx context.Context, ec *ExecutionContext) error {
	if halted(ctx) {
		return context.Cause(ctx)
	}
	inst := &domain.FlowNodeInstance{
		ID:                         ec.FlowNodeInstanceID,
		FlowNodeID:                 b.node.ID,
		FlowNodeKind:               b.node.Kind,
		ProcessModelID:             ec.Token.ProcessModelID(),
		ProcessInstanceID:          ec.Token.ProcessInstanceID(),
		CorrelationID:              ec.Token.CorrelationID(),
		PreviousFlowNodeInstanceID: ec.PreviousFlowNodeInstanceID,
		ParentFlowNodeInstanceID:   ec.ParentFlowNodeInstanceID,
		Identity:                   ec.Identity,
		Token:                      ec.Token.Snapshot(),
		EnteredAt:                  b.Now(),
	}
	if err := b.Repository.PersistOnEnter(ctx, inst); err != nil {
		return fmt.Errorf("persist enter of %s: %w", b.node.ID, err)
	}
	b.log(ec).Debug("flow node entered", "kind", b.node.Kind)
	b.fire(ctx, ec, domain.StateRunning, false, nil)

	if ec.afterEnter != nil {
		if err := ec.afterEnter(ctx); err != nil {
			return b.fail(ctx, ec, err)
		}
	}
	return nil
}

func (b *base) exit(ctx context.Context, ec *ExecutionContext) error {
	if ec.claim != nil && !ec.claim() {
		return errPreempted
	}
	if halted(ctx) {
		return b.halt(ctx, ec)
	}
	if err := b.Repository.PersistOnExit(context.WithoutCancel(ctx), ec.FlowNodeInstanceID, ec.Token.Snapshot()); err != nil {
		return fmt.Errorf("persist exit of %s: %w", b.node.ID, err)
	}
	b.log(ec).Debug("flow node exited")
	b.fire(ctx, ec, domain.StateFinished, false, nil)
	return nil
}

// fail persists the error transition and returns cause.
func (b *base) fail(ctx context.Context, ec *ExecutionContext, cause error) error {
	if ec.claim != nil && !ec.claim() {
		return errPreempted
	}
	if halted(ctx) {
		return b.halt(ctx, ec)
	}
	pctx := context.WithoutCancel(ctx)
	if err := b.Repository.PersistOnError(pctx, ec.FlowNodeInstanceID, ec.Token.Snapshot(), cause); err != nil {
		b.log(ec).Error("failed to persist flow node error", "error", err)
	}
	b.log(ec).Warn("flow node failed", "error", cause)
	b.fire(ctx, ec, domain.StateError, false, cause)
	return cause
}

func (b *base) cancel(ctx context.Context, ec *ExecutionContext) error {
	pctx := context.WithoutCancel(ctx)
	if err := b.Repository.PersistOnCancel(pctx, ec.FlowNodeInstanceID, ec.Token.Snapshot()); err != nil {
		return fmt.Errorf("persist cancel of %s: %w", b.node.ID, err)
	}
	b.log(ec).Debug("flow node cancelled")
	b.fire(ctx, ec, domain.StateCancelled, false, nil)
	return nil
}

// halted reports whether the scope running the node was stopped by a
// terminate end event, a failure elsewhere or a cancellation.
func halted(ctx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(context.Cause(ctx), errPreempted)
}

// halt records a node interrupted by its stopped scope as cancelled and
// returns the reason the scope stopped.
func (b *base) halt(ctx context.Context, ec *ExecutionContext) error {
	// A suspension already cancelled by the scope is rejected as a repeated transition.
	if err := b.cancel(ctx, ec); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		b.log(ec).Error("failed to cancel interrupted flow node", "error", err)
	}
	return context.Cause(ctx)
}

func (b *base) next(ctx context.Context, ec *ExecutionContext) ([]*domain.FlowNode, error) {
	return ec.Model.NextNodesFor(ctx, b.node, ec.Token)
}

// passThrough records the current payload as the node result, leaving the
// payload untouched, and returns the outgoing targets.
func (b *base) passThrough(ctx context.Context, ec *ExecutionContext) ([]*domain.FlowNode, error) {
	ec.Token.AddResult(b.node.ID, ec.FlowNodeInstanceID, ec.Token.Payload())
	return b.next(ctx, ec)
}

// run executes the synchronous lifecycle Enter -> work -> Exit | Error.
func (b *base) run(ctx context.Context, ec *ExecutionContext, work func(ctx context.Context) ([]*domain.FlowNode, error)) (*Result, error) {
	if err := b.enter(ctx, ec); err != nil {
		return nil, err
	}
	next, err := work(ctx)
	if err != nil {
		return nil, b.fail(ctx, ec, err)
	}
	if err := b.exit(ctx, ec); err != nil {
		return nil, err
	}
	return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Next: next}, nil
}

// await enters the node and suspends it.
func (b *base) await(ctx context.Context, ec *ExecutionContext, wt waiter) (*Result, error) {
	if err := b.enter(ctx, ec); err != nil {
		return nil, err
	}
	return b.suspend(ctx, ec, wt, true)
}

// rearm restores the subscription of a node that is already suspended.
func (b *base) rearm(ctx context.Context, ec *ExecutionContext, wt waiter) error {
	_, err := b.suspend(ctx, ec, wt, false)
	return err
}

func (b *base) suspend(ctx context.Context, ec *ExecutionContext, wt waiter, persist bool) (*Result, error) {
	ready := make(chan struct{})
	var done atomic.Bool

	fire := func(t trigger) {
		<-ready
		if !done.CompareAndSwap(false, true) {
			return
		}
		if ec.claim != nil && !ec.claim() {
			// A boundary event won; it cancels this instance through the tracker.
			return
		}
		ec.Suspensions.Untrack(ec.FlowNodeInstanceID)
		res, err := b.resume(ctx, ec, wt, t)
		ec.Continue(ctx, res, err)
	}

	sub, err := wt.arm(ctx, fire)
	if err != nil {
		done.Store(true)
		close(ready)
		return nil, b.fail(ctx, ec, err)
	}
	abort := func(err error) (*Result, error) {
		done.Store(true)
		close(ready)
		sub.Dispose()
		return nil, b.fail(ctx, ec, err)
	}

	if persist {
		if err := b.Repository.PersistOnSuspend(ctx, ec.FlowNodeInstanceID, ec.Token.Snapshot()); err != nil {
			return abort(fmt.Errorf("persist suspend of %s: %w", b.node.ID, err))
		}
		b.log(ec).Debug("flow node suspended")
		b.fire(ctx, ec, domain.StateSuspended, false, nil)
	}

	ec.Suspensions.Track(ec.FlowNodeInstanceID, func(cctx context.Context) error {
		done.Store(true)
		sub.Dispose()
		return b.cancel(cctx, ec)
	})
	if errors.Is(context.Cause(ctx), errPreempted) {
		// A boundary event won while the suspension was being recorded and
		// has already cancelled this instance.
		ec.Suspensions.Untrack(ec.FlowNodeInstanceID)
		done.Store(true)
		close(ready)
		sub.Dispose()
		return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Suspended: true}, nil
	}

	if persist && wt.afterSuspend != nil {
		if err := wt.afterSuspend(ctx); err != nil {
			ec.Suspensions.Untrack(ec.FlowNodeInstanceID)
			return abort(err)
		}
	}
	close(ready)
	return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Suspended: true}, nil
}

func (b *base) resume(ctx context.Context, ec *ExecutionContext, wt waiter, t trigger) (*Result, error) {
	if halted(ctx) {
		return nil, b.halt(ctx, ec)
	}
	if err := b.Repository.PersistOnResume(ctx, ec.FlowNodeInstanceID, ec.Token.Snapshot()); err != nil {
		return nil, fmt.Errorf("persist resume of %s: %w", b.node.ID, err)
	}
	b.log(ec).Debug("flow node resumed")
	b.fire(ctx, ec, domain.StateRunning, true, nil)

	next, err := wt.onResume(ctx, t)
	if err != nil {
		return nil, b.fail(ctx, ec, err)
	}
	if err := b.exit(ctx, ec); err != nil {
		return nil, err
	}
	return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Next: next}, nil
}

// subscribe arms a SubscribeOnce on topic.
func (b *base) subscribe(topic string) func(ctx context.Context, fire func(trigger)) (ports.Subscription, error) {
	return func(ctx context.Context, fire func(trigger)) (ports.Subscription, error) {
		return b.Notifier.SubscribeOnce(ctx, topic, func(n domain.Notification) {
			fire(trigger{Notification: &n})
		})
	}
}

// notification builds an envelope describing the current node.
func (b *base) notification(ec *ExecutionContext, payload any) domain.Notification {
	return domain.Notification{
		ProcessModelID:     ec.Token.ProcessModelID(),
		ProcessInstanceID:  ec.Token.ProcessInstanceID(),
		CorrelationID:      ec.Token.CorrelationID(),
		FlowNodeID:         b.node.ID,
		FlowNodeInstanceID: ec.FlowNodeInstanceID,
		Payload:            payload,
		Timestamp:          b.Now(),
	}
}

// recordNotification stores the payload carried by n, or the current payload
// when n carries none.
func (b *base) recordNotification(ec *ExecutionContext, n *domain.Notification) {
	result := ec.Token.Payload()
	if n != nil && n.Payload != nil {
		result = n.Payload
	}
	ec.Token.AddResult(b.node.ID, ec.FlowNodeInstanceID, result)
}
