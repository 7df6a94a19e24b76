package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

const (
	raceOpen int32 = iota
	raceInner
	raceBoundary
)

// raceGroup decides the single outcome of a decorated node.
type raceGroup struct {
	winner atomic.Int32

	mu       sync.Mutex
	armed    []ports.Subscription
	disarmed bool

	cancelInner context.CancelCauseFunc
}

// claimInner is idempotent for the inner handler: exit, error and resume may
// all ask.
func (g *raceGroup) claimInner() bool {
	return g.winner.CompareAndSwap(raceOpen, raceInner) || g.winner.Load() == raceInner
}

func (g *raceGroup) claimBoundary() bool {
	return g.winner.CompareAndSwap(raceOpen, raceBoundary)
}

func (g *raceGroup) add(s ports.Subscription) {
	g.mu.Lock()
	if !g.disarmed {
		g.armed = append(g.armed, s)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	s.Dispose()
}

func (g *raceGroup) disarm() {
	g.mu.Lock()
	armed := g.armed
	g.armed = nil
	g.disarmed = true
	g.mu.Unlock()
	for _, s := range armed {
		s.Dispose()
	}
}

// raceTracker disarms the boundary events when the inner suspension is cancelled.
type raceTracker struct {
	SuspensionTracker
	g *raceGroup
}

func (t raceTracker) Track(id string, cancel func(ctx context.Context) error) {
	t.SuspensionTracker.Track(id, func(ctx context.Context) error {
		t.g.disarm()
		return cancel(ctx)
	})
}

// BoundaryDecorator wraps the handler of an activity with every boundary
// event attached to it. Error boundaries redirect matching failures of the
// activity; timer, message and signal boundaries race the activity and the
// first to resolve wins. The loser is cancelled.
type BoundaryDecorator struct {
	*Deps
	inner      Handler
	boundaries []*domain.FlowNode
}

// NewBoundaryDecorator wraps inner with boundaries.
func NewBoundaryDecorator(deps *Deps, inner Handler, boundaries []*domain.FlowNode) *BoundaryDecorator {
	return &BoundaryDecorator{Deps: deps, inner: inner, boundaries: boundaries}
}

func (d *BoundaryDecorator) Node() *domain.FlowNode { return d.inner.Node() }

// Inner returns the decorated handler.
func (d *BoundaryDecorator) Inner() Handler { return d.inner }

func (d *BoundaryDecorator) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	g, ic, ictx := d.prepare(ctx, ec)
	ic.afterEnter = func(context.Context) error {
		return d.arm(ctx, ec, g, nil)
	}
	res, err := d.inner.Execute(ictx, ic)
	return d.settle(ctx, ec, g, res, err)
}

// Rearm restores the boundary events and the inner subscription of a
// suspended activity.
func (d *BoundaryDecorator) Rearm(ctx context.Context, ec *ExecutionContext, inst *domain.FlowNodeInstance) error {
	r, ok := d.inner.(Resumable)
	if !ok {
		return domain.NewModelValidationError(d.Node().ID, "flow node kind %s cannot be resumed", d.Node().Kind)
	}
	g, ic, ictx := d.prepare(ctx, ec)
	if err := d.arm(ctx, ec, g, inst); err != nil {
		return err
	}
	if err := r.Rearm(ictx, ic, inst); err != nil {
		g.disarm()
		return err
	}
	return nil
}

func (d *BoundaryDecorator) prepare(ctx context.Context, ec *ExecutionContext) (*raceGroup, *ExecutionContext, context.Context) {
	g := &raceGroup{}
	ictx, cancel := context.WithCancelCause(ctx)
	g.cancelInner = cancel

	ic := *ec
	ic.claim = g.claimInner
	ic.Suspensions = raceTracker{SuspensionTracker: ec.Suspensions, g: g}
	ic.Continue = func(cctx context.Context, res *Result, err error) {
		res, err = d.settle(ctx, ec, g, res, err)
		if err == nil && res != nil && res.Suspended {
			return
		}
		ec.Continue(cctx, res, err)
	}
	return g, &ic, ictx
}

// settle turns the outcome of the inner handler into the outcome of the
// decorated node.
func (d *BoundaryDecorator) settle(ctx context.Context, ec *ExecutionContext, g *raceGroup, res *Result, err error) (*Result, error) {
	if g.winner.Load() == raceBoundary {
		return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Suspended: true}, nil
	}
	if err != nil {
		if !g.claimInner() {
			return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Suspended: true}, nil
		}
		g.disarm()
		g.cancelInner(nil)
		if b := d.errorBoundary(ctx, err); b != nil {
			d.log(ec).Info("error caught by boundary event", "boundary_id", b.ID, "error", err)
			return d.runBoundary(ctx, ec, b, errorPayload(ec.Token.Payload(), err))
		}
		return nil, err
	}
	if res != nil && res.Suspended {
		return res, nil
	}
	g.disarm()
	g.cancelInner(nil)
	return res, nil
}

func (d *BoundaryDecorator) errorBoundary(ctx context.Context, err error) *domain.FlowNode {
	if ctx.Err() != nil || errors.Is(err, domain.ErrInstanceCancelled) {
		return nil
	}
	code := domain.ErrorCodeOf(err)
	for _, b := range d.boundaries {
		if b.EventKind() != domain.EventError {
			continue
		}
		if want := b.Event.ErrorCode; want == "" || want == code {
			return b
		}
	}
	return nil
}

func errorPayload(payload any, err error) any {
	out := make(map[string]any)
	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if payload != nil {
		out["payload"] = payload
	}
	out["error"] = err.Error()
	if code := domain.ErrorCodeOf(err); code != "" {
		out["error_code"] = code
	}
	return out
}

// arm subscribes every timer, message and signal boundary. With inst set the
// timers only wait for what is left since the activity was entered.
func (d *BoundaryDecorator) arm(ctx context.Context, ec *ExecutionContext, g *raceGroup, inst *domain.FlowNodeInstance) error {
	for _, b := range d.boundaries {
		var (
			sub ports.Subscription
			err error
		)
		switch b.EventKind() {
		case domain.EventError:
			continue
		case domain.EventTimer:
			var delay time.Duration
			if inst != nil {
				delay, err = remainingDelay(b, inst.EnteredAt, d.Now())
			} else {
				delay, err = b.Event.Timer.TimerDelay(d.Now())
			}
			if err != nil {
				err = fmt.Errorf("boundary timer %s: %w", b.ID, err)
				break
			}
			sub = d.Timers.Schedule(context.WithoutCancel(ctx), delay, func() {
				d.fire(ctx, ec, g, b, nil)
			})
		case domain.EventMessage, domain.EventSignal:
			topic := domain.MessageTopic(b.EventName())
			if b.EventKind() == domain.EventSignal {
				topic = domain.SignalTopic(b.EventName())
			}
			sub, err = d.Notifier.SubscribeOnce(ctx, topic, func(n domain.Notification) {
				d.fire(ctx, ec, g, b, &n)
			})
		default:
			err = domain.NewModelValidationError(b.ID, "unsupported boundary event kind %s", b.EventKind())
		}
		if err != nil {
			g.disarm()
			return err
		}
		g.add(sub)
	}
	return nil
}

// fire is called when a timer, message or signal boundary resolves.
func (d *BoundaryDecorator) fire(ctx context.Context, ec *ExecutionContext, g *raceGroup, b *domain.FlowNode, n *domain.Notification) {
	if ctx.Err() != nil || !g.claimBoundary() {
		return
	}
	g.disarm()
	g.cancelInner(errPreempted)

	log := d.log(ec).With("boundary_id", b.ID)
	log.Info("boundary event fired")

	pctx := context.WithoutCancel(ctx)
	ok, err := ec.Suspensions.Cancel(pctx, ec.FlowNodeInstanceID)
	if err != nil {
		log.Error("failed to cancel suspended activity", "error", err)
	}
	if !ok {
		inner := &base{Deps: d.Deps, node: d.Node()}
		if err := inner.cancel(pctx, ec); err != nil {
			log.Error("failed to cancel running activity", "error", err)
		}
	}

	payload := ec.Token.Payload()
	if n != nil && n.Payload != nil {
		payload = n.Payload
	}
	res, err := d.runBoundary(ctx, ec, b, payload)
	ec.Continue(ctx, res, err)
}

// runBoundary records the boundary event as its own instance following the
// activity and returns the nodes after it.
func (d *BoundaryDecorator) runBoundary(ctx context.Context, ec *ExecutionContext, b *domain.FlowNode, payload any) (*Result, error) {
	bc := ec.Derive(ec.Token)
	bh := &base{Deps: d.Deps, node: b}
	return bh.run(ctx, bc, func(ctx context.Context) ([]*domain.FlowNode, error) {
		ec.Token.AddResult(b.ID, bc.FlowNodeInstanceID, payload)
		return bh.next(ctx, bc)
	})
}

func (d *BoundaryDecorator) log(ec *ExecutionContext) *slog.Logger {
	return (&base{Deps: d.Deps, node: d.Node()}).log(ec)
}
