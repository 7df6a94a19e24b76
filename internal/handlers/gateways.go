package handlers

import (
	"context"

	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// ExclusiveGateway takes the first outgoing flow whose condition holds.
type ExclusiveGateway struct{ base }

func (h *ExclusiveGateway) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
		return h.passThrough(ctx, ec)
	})
}

// ParallelGateway forks on every outgoing flow and, when it has several
// incoming flows, waits for every live branch of the split its lineage
// belongs to. Forking itself is done by the runtime for any Result with
// more than one next node.
type ParallelGateway struct{ base }

func (h *ParallelGateway) isJoin(ec *ExecutionContext) bool {
	return len(ec.Model.IncomingFlowsFor(h.node)) > 1
}

func (h *ParallelGateway) Execute(ctx context.Context, ec *ExecutionContext) (*Result, error) {
	splitID := ec.Token.SplitID()
	if !h.isJoin(ec) || splitID == "" {
		return h.run(ctx, ec, func(ctx context.Context) ([]*domain.FlowNode, error) {
			return h.passThrough(ctx, ec)
		})
	}

	if err := h.enter(ctx, ec); err != nil {
		return nil, err
	}
	st, done, err := h.Joins.Arrive(ctx, splitID, h.node.ID, ports.JoinArrival{
		BranchID:           ec.Token.BranchID(),
		FlowNodeInstanceID: ec.FlowNodeInstanceID,
		Token:              ec.Token.Snapshot(),
	})
	if err != nil {
		return nil, h.fail(ctx, ec, err)
	}
	if !done {
		h.log(ec).Debug("branch arrived at join", "split_id", splitID, "pending", st.Pending())
		if err := h.exit(ctx, ec); err != nil {
			return nil, err
		}
		return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Joined: true}, nil
	}

	jc := *ec
	jc.Token = MergeJoin(st, h.Evaluator, ec.Identity)
	next, err := h.passThrough(ctx, &jc)
	if err != nil {
		return nil, h.fail(ctx, &jc, err)
	}
	if err := h.exit(ctx, &jc); err != nil {
		return nil, err
	}
	h.forget(ctx, &jc, st)
	return &Result{FlowNodeInstanceID: ec.FlowNodeInstanceID, Next: next, Token: jc.Token}, nil
}

// CompleteJoin continues a join completed by the release of its last
// pending branch. It records a fresh instance of the join gateway.
func (h *ParallelGateway) CompleteJoin(ctx context.Context, ec *ExecutionContext, st *ports.JoinState) (*Result, error) {
	jc := *ec
	jc.Token = MergeJoin(st, h.Evaluator, ec.Identity)
	res, err := h.run(ctx, &jc, func(ctx context.Context) ([]*domain.FlowNode, error) {
		return h.passThrough(ctx, &jc)
	})
	if err != nil {
		return nil, err
	}
	h.forget(ctx, &jc, st)
	res.Token = jc.Token
	return res, nil
}

func (h *ParallelGateway) forget(ctx context.Context, ec *ExecutionContext, st *ports.JoinState) {
	if err := h.Joins.Delete(ctx, st.SplitID); err != nil {
		h.log(ec).Warn("failed to delete join record", "split_id", st.SplitID, "error", err)
	}
}

// MergeJoin builds the token that leaves a completed join: the parent token
// of the split with the history of every arrival merged in arrival order.
func MergeJoin(st *ports.JoinState, eval ports.ExpressionEvaluator, identity domain.Identity) *token.Facade {
	merged := token.New(st.Parent, eval, identity)
	arrivals := make([]domain.ProcessToken, 0, len(st.Arrivals))
	for _, a := range st.Arrivals {
		merged.MergeToken(a.Token)
		arrivals = append(arrivals, a.Token)
	}
	merged.SetPayload(token.MergePayloads(st.Parent.Payload, arrivals))
	return merged
}
