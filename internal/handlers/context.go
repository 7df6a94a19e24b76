// Package handlers implements one FlowNodeHandler per BPMN node type.
//
// Every handler follows the same persisted lifecycle:
//
//	Enter -> [Suspend <-> Resume]* -> Exit | Error   (| Cancelled)
//
// A handler that waits on an external trigger never blocks: it persists the
// suspension, keeps a live subscription and returns a suspended Result. When
// the trigger fires the handler resumes on the notifier's goroutine and hands
// its outcome to ExecutionContext.Continue.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/google/uuid"
)

// Handler executes one flow node.
type Handler interface {
	Node() *domain.FlowNode
	Execute(ctx context.Context, ec *ExecutionContext) (*Result, error)
}

// Resumable is implemented by handlers that can suspend. Rearm rebuilds the
// live subscription of a persisted suspended instance after a restart,
// without running the node again.
type Resumable interface {
	Rearm(ctx context.Context, ec *ExecutionContext, inst *domain.FlowNodeInstance) error
}

// Joiner is implemented by parallel gateways. CompleteJoin continues a join
// whose last live branch was released rather than arriving.
type Joiner interface {
	CompleteJoin(ctx context.Context, ec *ExecutionContext, st *ports.JoinState) (*Result, error)
}

// SuspensionTracker records how to cancel every suspended instance of a scope.
type SuspensionTracker interface {
	Track(flowNodeInstanceID string, cancel func(ctx context.Context) error)
	Untrack(flowNodeInstanceID string)
	// Cancel runs and forgets the cancel function of flowNodeInstanceID.
	// It reports false when nothing was tracked.
	Cancel(ctx context.Context, flowNodeInstanceID string) (bool, error)
}

// SubProcessRunner runs the embedded graph of a sub process in a child scope.
// done is called once with the final token of the child scope or its error.
// Disposing the returned subscription cancels the child scope.
type SubProcessRunner interface {
	StartSubProcess(ctx context.Context, ec *ExecutionContext, node *domain.FlowNode, done func(domain.ProcessToken, error)) (ports.Subscription, error)
	// ResumeSubProcess reattaches done to a child scope rebuilt from persisted records.
	ResumeSubProcess(ctx context.Context, ec *ExecutionContext, node *domain.FlowNode, done func(domain.ProcessToken, error)) (ports.Subscription, error)
}

// ExecutionContext carries everything a handler needs for one execution.
// Identity and correlation are passed explicitly, never through globals.
type ExecutionContext struct {
	Token    *token.Facade
	Model    *model.Facade
	Identity domain.Identity

	// FlowNodeInstanceID is allocated by the caller before Execute, so a
	// decorator can refer to the record of the node it wraps.
	FlowNodeInstanceID         string
	PreviousFlowNodeInstanceID string
	// ParentFlowNodeInstanceID is the sub process instance owning the scope.
	ParentFlowNodeInstanceID string

	// Continue receives the outcome of a node that resumed asynchronously.
	Continue func(ctx context.Context, res *Result, err error)

	Suspensions  SuspensionTracker
	SubProcesses SubProcessRunner

	// claim decides the race between a decorated node and its boundary events.
	claim func() bool
	// afterEnter runs once the enter transition is persisted.
	afterEnter func(ctx context.Context) error
}

// Derive returns a context for the node following this one on the same lineage.
func (ec *ExecutionContext) Derive(tok *token.Facade) *ExecutionContext {
	return &ExecutionContext{
		Token:                      tok,
		Model:                      ec.Model,
		Identity:                   ec.Identity,
		FlowNodeInstanceID:         NewInstanceID(),
		PreviousFlowNodeInstanceID: ec.FlowNodeInstanceID,
		ParentFlowNodeInstanceID:   ec.ParentFlowNodeInstanceID,
		Continue:                   ec.Continue,
		Suspensions:                ec.Suspensions,
		SubProcesses:               ec.SubProcesses,
	}
}

// Result is the outcome of Execute.
type Result struct {
	FlowNodeInstanceID string

	// Next lists the nodes to run. Empty ends the lineage. More than one
	// node forks the lineage into concurrent branches.
	Next []*domain.FlowNode

	// Suspended means the lineage continues later through Continue.
	Suspended bool

	// Joined means the lineage arrived at a join that is still waiting.
	Joined bool

	// Terminate ends the whole scope.
	Terminate bool

	// Token replaces the lineage token for the following nodes.
	Token *token.Facade
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Repository ports.FlowNodeInstanceRepository
	Notifier   ports.Notifier
	Joins      ports.JoinStore
	Services   ports.ServiceInvoker
	Timers     ports.TimerService
	Evaluator  ports.ExpressionEvaluator
	Hooks      domain.LifecycleHooks
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewInstanceID allocates a flow node instance id.
func NewInstanceID() string { return uuid.NewString() }
