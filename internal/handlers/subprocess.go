package handlers

import (
	"context"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// SubProcess runs its embedded graph in a child scope and stays suspended
// until the child scope drains or fails.
type SubProcess struct{ base }

func (h *SubProcess) suspension(ec *ExecutionContext, resume bool) waiter {
	return waiter{
		arm: func(ctx context.Context, fire func(trigger)) (ports.Subscription, error) {
			if ec.SubProcesses == nil {
				return nil, domain.NewModelValidationError(h.node.ID, "sub processes are not supported here")
			}
			done := func(tok domain.ProcessToken, err error) {
				fire(trigger{Token: &tok, Err: err})
			}
			if resume {
				return ec.SubProcesses.ResumeSubProcess(ctx, ec, h.node, done)
			}
			return ec.SubProcesses.StartSubProcess(ctx, ec, h.node, done)
		},
		onResume: func(ctx context.Context, t trigger) ([]*domain.FlowNode, error) {
			if t.Err != nil {
				return nil, t.Err
			}
			ec.Token.MergeToken(*t.Token)
			ec.Token.AddResult(h.node.ID, ec.FlowNodeInstanceID, t.Token.Payload)
			return h.next(ctx, ec)
		},
	}
}

func (h *SubProcess) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.await(ctx, ec, h.suspension(ec, false))
}

func (h *SubProcess) Rearm(ctx context.Context, ec *ExecutionContext, _ *domain.FlowNodeInstance) error {
	return h.rearm(ctx, ec, h.suspension(ec, true))
}
