package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/processengine/internal/handlers"
	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

var errTerminated = errors.New("scope terminated by end event")

// scope is a process instance or the child graph of a sub process instance.
// It counts its live lineages and completes when the count drops to zero.
type scope struct {
	e        *Engine
	inst     *Instance
	model    *model.Facade
	parentID string
	identity domain.Identity
	logger   *slog.Logger

	ctx         context.Context
	cancel      context.CancelCauseFunc
	suspensions *suspensions

	// done replaces the instance outcome for child scopes.
	done func(domain.ProcessToken, error)

	// recovered indexes suspended records by parent while the instance is
	// being rebuilt after a restart.
	recovered map[string][]*domain.FlowNodeInstance
	// exited indexes finished records by parent for the same rebuild.
	exited map[string][]*domain.FlowNodeInstance

	mu       sync.Mutex
	live     int
	finished bool
	ended    []domain.ProcessToken
}

func (e *Engine) newScope(parent context.Context, inst *Instance, mf *model.Facade, parentID string, identity domain.Identity, done func(domain.ProcessToken, error)) *scope {
	sctx, cancel := context.WithCancelCause(parent)
	logger := e.logger.With("process_instance_id", inst.ID)
	if parentID != "" {
		logger = logger.With("sub_process_instance_id", parentID)
	}
	return &scope{
		e:           e,
		inst:        inst,
		model:       mf,
		parentID:    parentID,
		identity:    identity,
		logger:      logger,
		ctx:         sctx,
		cancel:      cancel,
		suspensions: newSuspensions(logger),
		done:        done,
	}
}

// child creates the scope of the sub process instance parentID.
func (s *scope) child(mf *model.Facade, parentID string, done func(domain.ProcessToken, error)) *scope {
	c := s.e.newScope(s.ctx, s.inst, mf, parentID, s.identity, done)
	c.recovered = s.recovered
	c.exited = s.exited
	// The child dies with its parent.
	context.AfterFunc(s.ctx, func() { c.abort(context.Cause(s.ctx)) })
	return c
}

// start runs every start node. Several start events fork the token as the
// branches of a split keyed by splitID.
func (s *scope) start(tok *token.Facade, splitID string) error {
	starts := s.model.StartNodes()
	if len(starts) == 0 {
		return domain.NewModelValidationError(s.parentID, "process model %s has no start event", s.model.ProcessModelID())
	}
	s.mu.Lock()
	s.live = len(starts)
	s.mu.Unlock()

	prev := s.parentID
	if len(starts) == 1 {
		go s.drive(s.newContext(tok, prev), starts[0])
		return nil
	}
	if splitID == "" {
		splitID = tok.ProcessInstanceID()
	}
	if err := s.e.joins.Register(s.ctx, &ports.JoinState{
		SplitID:           splitID,
		ProcessInstanceID: tok.ProcessInstanceID(),
		Branches:          len(starts),
		Parent:            tok.Snapshot(),
	}); err != nil {
		return fmt.Errorf("register start split: %w", err)
	}
	for _, n := range starts {
		go s.drive(s.newContext(tok.SnapshotForBranch(splitID), prev), n)
	}
	return nil
}

func (s *scope) newContext(tok *token.Facade, prev string) *handlers.ExecutionContext {
	ec := &handlers.ExecutionContext{
		Token:                      tok,
		Model:                      s.model,
		Identity:                   s.identity,
		FlowNodeInstanceID:         handlers.NewInstanceID(),
		PreviousFlowNodeInstanceID: prev,
		ParentFlowNodeInstanceID:   s.parentID,
		Suspensions:                s.suspensions,
		SubProcesses:               s,
	}
	ec.Continue = func(_ context.Context, res *handlers.Result, err error) {
		go func() {
			next, node := s.advance(ec, res, err)
			s.drive(next, node)
		}()
	}
	return ec
}

// drive runs one lineage until it suspends, ends or forks away.
func (s *scope) drive(ec *handlers.ExecutionContext, node *domain.FlowNode) {
	for node != nil {
		if s.ctx.Err() != nil {
			return
		}
		h, err := s.e.factory.HandlerFor(s.model, node)
		if err != nil {
			s.recordInvalid(ec, node, err)
			s.fail(err)
			return
		}
		res, err := h.Execute(s.ctx, ec)
		ec, node = s.advance(ec, res, err)
	}
}

// recordInvalid persists an error record for a node that has no handler.
func (s *scope) recordInvalid(ec *handlers.ExecutionContext, node *domain.FlowNode, cause error) {
	inst := &domain.FlowNodeInstance{
		ID:                         ec.FlowNodeInstanceID,
		FlowNodeID:                 node.ID,
		FlowNodeKind:               node.Kind,
		ProcessModelID:             ec.Token.ProcessModelID(),
		ProcessInstanceID:          ec.Token.ProcessInstanceID(),
		CorrelationID:              ec.Token.CorrelationID(),
		PreviousFlowNodeInstanceID: ec.PreviousFlowNodeInstanceID,
		ParentFlowNodeInstanceID:   ec.ParentFlowNodeInstanceID,
		Identity:                   ec.Identity,
		Token:                      ec.Token.Snapshot(),
		EnteredAt:                  s.e.now(),
	}
	ctx := context.WithoutCancel(s.ctx)
	if err := s.e.repo.PersistOnEnter(ctx, inst); err != nil {
		s.logger.Error("failed to record invalid flow node", "flow_node_id", node.ID, "error", err)
		return
	}
	if err := s.e.repo.PersistOnError(ctx, inst.ID, domain.ProcessToken{}, cause); err != nil {
		s.logger.Error("failed to record invalid flow node", "flow_node_id", node.ID, "error", err)
	}
}

// advance applies the result of a node to its lineage and returns what the
// current goroutine runs next, if anything.
func (s *scope) advance(ec *handlers.ExecutionContext, res *handlers.Result, err error) (*handlers.ExecutionContext, *domain.FlowNode) {
	if err != nil {
		s.fail(err)
		return nil, nil
	}
	if res == nil || res.Suspended {
		return nil, nil
	}
	tok := ec.Token
	if res.Token != nil {
		tok = res.Token
	}

	switch {
	case res.Terminate:
		s.terminate(tok)
		return nil, nil
	case res.Joined:
		s.decrement()
		return nil, nil
	case len(res.Next) == 0:
		return s.endLineage(ec, tok)
	case len(res.Next) == 1:
		return s.newContext(tok, res.FlowNodeInstanceID), res.Next[0]
	}

	splitID := res.FlowNodeInstanceID
	if err := s.e.joins.Register(s.ctx, &ports.JoinState{
		SplitID:           splitID,
		ProcessInstanceID: tok.ProcessInstanceID(),
		Branches:          len(res.Next),
		Parent:            tok.Snapshot(),
	}); err != nil {
		s.fail(fmt.Errorf("register split %s: %w", splitID, err))
		return nil, nil
	}
	if !s.add(len(res.Next) - 1) {
		return nil, nil
	}
	for _, n := range res.Next[1:] {
		go s.drive(s.newContext(tok.SnapshotForBranch(splitID), splitID), n)
	}
	return s.newContext(tok.SnapshotForBranch(splitID), splitID), res.Next[0]
}

// endLineage releases the join slot of a lineage that ended without
// reaching a join. A release may complete the join, in which case this
// lineage continues from it. A split whose every branch ended this way
// ends its parent lineage too.
func (s *scope) endLineage(ec *handlers.ExecutionContext, tok *token.Facade) (*handlers.ExecutionContext, *domain.FlowNode) {
	snap := tok.Snapshot()
	s.mu.Lock()
	s.ended = append(s.ended, snap)
	s.mu.Unlock()

	splitID, branchID := snap.SplitID, snap.BranchID
	for splitID != "" {
		st, done, err := s.e.joins.Release(s.ctx, splitID, branchID)
		if errors.Is(err, domain.ErrJoinNotFound) {
			break
		}
		if err != nil {
			s.fail(fmt.Errorf("release branch %s of split %s: %w", branchID, splitID, err))
			return nil, nil
		}
		if done {
			return s.completeJoin(ec, st)
		}
		if !st.Drained() {
			break
		}
		if err := s.e.joins.Delete(s.ctx, splitID); err != nil {
			s.logger.Warn("failed to delete drained join record", "split_id", splitID, "error", err)
		}
		splitID, branchID = st.Parent.SplitID, st.Parent.BranchID
	}
	s.decrement()
	return nil, nil
}

func (s *scope) completeJoin(ec *handlers.ExecutionContext, st *ports.JoinState) (*handlers.ExecutionContext, *domain.FlowNode) {
	node := s.model.NodeByID(st.JoinNodeID)
	if node == nil {
		s.fail(domain.NewModelValidationError(st.JoinNodeID, "join gateway of split %s not found", st.SplitID))
		return nil, nil
	}
	h, err := s.e.factory.HandlerFor(s.model, node)
	if err != nil {
		s.fail(err)
		return nil, nil
	}
	j, ok := h.(handlers.Joiner)
	if !ok {
		s.fail(domain.NewModelValidationError(node.ID, "flow node kind %s cannot join branches", node.Kind))
		return nil, nil
	}
	jec := s.newContext(ec.Token, ec.FlowNodeInstanceID)
	res, err := j.CompleteJoin(s.ctx, jec, st)
	return s.advance(jec, res, err)
}

// add registers n more lineages. It reports false once the scope is over.
func (s *scope) add(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.live += n
	return true
}

func (s *scope) decrement() {
	s.mu.Lock()
	s.live--
	last := s.live <= 0 && !s.finished
	if last {
		s.finished = true
	}
	s.mu.Unlock()
	if last {
		s.cancel(nil)
		s.end(s.finalToken(), nil)
	}
}

// stop marks the scope finished, cancels its running lineages and every
// suspended instance. It reports false when the scope was already over.
func (s *scope) stop(cause error) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.finished = true
	s.mu.Unlock()

	s.cancel(cause)
	if err := s.suspensions.CancelAll(context.WithoutCancel(s.ctx)); err != nil {
		s.logger.Error("failed to cancel suspended flow nodes", "error", err)
	}
	return true
}

// fail ends the scope with its first uncaught error.
func (s *scope) fail(err error) {
	if !s.stop(domain.ErrInstanceCancelled) {
		return
	}
	s.logger.Warn("scope failed", "error", err)
	s.end(domain.ProcessToken{}, err)
}

// terminate ends the scope successfully on a terminate end event.
func (s *scope) terminate(tok *token.Facade) {
	snap := tok.Snapshot()
	if !s.stop(errTerminated) {
		return
	}
	s.logger.Info("scope terminated")
	s.mu.Lock()
	s.ended = append(s.ended, snap)
	s.mu.Unlock()
	s.end(s.finalToken(), nil)
}

// abort stops a child scope whose sub process instance was cancelled.
func (s *scope) abort(cause error) {
	if s.stop(cause) {
		s.logger.Debug("sub process scope aborted", "cause", cause)
	}
}

func (s *scope) end(tok domain.ProcessToken, err error) {
	if s.done != nil {
		s.done(tok, err)
		return
	}
	out := &Outcome{ProcessInstanceID: s.inst.ID, State: OutcomeCompleted, Token: tok, Err: err}
	if err != nil {
		out.State = OutcomeFailed
	}
	s.e.finish(s.inst, out)
}

func (s *scope) finalToken() domain.ProcessToken {
	s.mu.Lock()
	ended := append([]domain.ProcessToken(nil), s.ended...)
	s.mu.Unlock()
	if len(ended) == 0 {
		return domain.ProcessToken{}
	}
	last := ended[len(ended)-1]
	f := token.New(last, s.e.evaluator, s.identity)
	for _, t := range ended[:len(ended)-1] {
		f.MergeToken(t)
	}
	return f.Snapshot()
}

// StartSubProcess runs the embedded graph of node in a child scope.
func (s *scope) StartSubProcess(ctx context.Context, ec *handlers.ExecutionContext, node *domain.FlowNode, done func(domain.ProcessToken, error)) (ports.Subscription, error) {
	mf, err := ec.Model.SubProcessFacade(node)
	if err != nil {
		return nil, err
	}
	child := s.child(mf, ec.FlowNodeInstanceID, done)

	root := ec.Token.Snapshot()
	root.SplitID = ""
	root.BranchID = ec.FlowNodeInstanceID
	root.BranchStart = len(root.History)
	if err := child.start(token.New(root, s.e.evaluator, ec.Identity), ec.FlowNodeInstanceID); err != nil {
		child.abort(err)
		return nil, err
	}
	return ports.SubscriptionFunc(func() { child.abort(domain.ErrInstanceCancelled) }), nil
}

// ResumeSubProcess rebuilds the child scope of a suspended sub process
// instance from the suspended records that name it as their parent.
func (s *scope) ResumeSubProcess(ctx context.Context, ec *handlers.ExecutionContext, node *domain.FlowNode, done func(domain.ProcessToken, error)) (ports.Subscription, error) {
	mf, err := ec.Model.SubProcessFacade(node)
	if err != nil {
		return nil, err
	}
	child := s.child(mf, ec.FlowNodeInstanceID, done)
	if err := child.resume(s.recovered[ec.FlowNodeInstanceID]); err != nil {
		child.abort(err)
		return nil, err
	}
	return ports.SubscriptionFunc(func() { child.abort(domain.ErrInstanceCancelled) }), nil
}
