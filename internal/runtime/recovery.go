package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/processengine/internal/handlers"
	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/dogmatiq/linger"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrLocked is returned when another engine holds the lock of an instance.
var ErrLocked = errors.New("process instance locked by another engine")

// Recover resumes every process instance that has suspended flow node
// instances, for every model the provider lists. Instances are resumed
// concurrently; a failing instance does not stop the others.
func (e *Engine) Recover(ctx context.Context) error {
	modelIDs, err := e.models.ListProcessModels(ctx)
	if err != nil {
		return fmt.Errorf("list process models: %w", err)
	}

	var (
		order []string
		seen  = make(map[string]struct{})
	)
	for _, id := range modelIDs {
		recs, err := e.repo.QuerySuspendedByProcessModel(ctx, id)
		if err != nil {
			return fmt.Errorf("query suspended instances of %s: %w", id, err)
		}
		for _, r := range recs {
			if _, ok := seen[r.ProcessInstanceID]; !ok {
				seen[r.ProcessInstanceID] = struct{}{}
				order = append(order, r.ProcessInstanceID)
			}
		}
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
	)
	g.SetLimit(e.recoveryConcurrency)
	for _, id := range order {
		g.Go(func() error {
			_, err := e.resume(ctx, id)
			switch {
			case err == nil, errors.Is(err, ErrInstanceExists):
				return nil
			case errors.Is(err, ErrLocked):
				e.logger.Info("skipping locked process instance", "process_instance_id", id)
				return nil
			}
			e.logger.Error("failed to resume process instance", "process_instance_id", id, "error", err)
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("resume %s: %w", id, err))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	e.logger.Info("recovery finished", "instances", len(order))
	return errs
}

// ResumeFlowNodeInstance rebuilds the process instance owning a suspended
// flow node instance and re-arms its subscriptions. Resuming an instance
// that is already live returns it unchanged.
func (e *Engine) ResumeFlowNodeInstance(ctx context.Context, flowNodeInstanceID string) (*Instance, error) {
	rec, err := e.repo.GetByID(ctx, flowNodeInstanceID)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StateSuspended {
		return nil, fmt.Errorf("%w: %s is %s, not suspended", domain.ErrInvalidTransition, rec.ID, rec.State)
	}
	inst, err := e.resume(ctx, rec.ProcessInstanceID)
	if errors.Is(err, ErrInstanceExists) {
		return inst, nil
	}
	return inst, err
}

// resume rebuilds one process instance from its suspended records.
func (e *Engine) resume(ctx context.Context, processInstanceID string) (*Instance, error) {
	if inst, ok := e.Instance(processInstanceID); ok {
		return inst, ErrInstanceExists
	}

	var unlock ports.UnlockFunc
	if e.locker != nil {
		lctx, cancel := linger.ContextWithTimeout(ctx, e.lockWait, DefaultLockWait)
		var err error
		unlock, err = e.locker.Lock(lctx, "process-instance:"+processInstanceID, e.lockTTL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLocked, err)
		}
	}
	release := func() {
		if unlock != nil {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("failed to release instance lock", "process_instance_id", processInstanceID, "error", err)
			}
		}
	}

	all, err := e.repo.QueryByProcessInstance(ctx, processInstanceID)
	if err != nil {
		release()
		return nil, err
	}
	var suspended, finished []*domain.FlowNodeInstance
	for _, r := range all {
		switch r.State {
		case domain.StateSuspended:
			suspended = append(suspended, r)
		case domain.StateFinished:
			finished = append(finished, r)
		case domain.StateRunning:
			e.logger.Warn("flow node instance left running by a previous engine, not resumed",
				"process_instance_id", processInstanceID, "flow_node_instance_id", r.ID, "flow_node_id", r.FlowNodeID)
		}
	}
	if len(suspended) == 0 {
		release()
		return nil, fmt.Errorf("%w: no suspended flow node instances in %s", domain.ErrFlowNodeInstanceNotFound, processInstanceID)
	}

	first := suspended[0]
	mf, err := e.facade(ctx, first.ProcessModelID)
	if err != nil {
		release()
		return nil, err
	}
	inst, err := e.register(processInstanceID, first.ProcessModelID, first.CorrelationID)
	if err != nil {
		release()
		return inst, err
	}
	inst.unlock = unlock

	byParent := make(map[string][]*domain.FlowNodeInstance)
	for _, r := range suspended {
		byParent[r.ParentFlowNodeInstanceID] = append(byParent[r.ParentFlowNodeInstanceID], r)
	}
	sort.SliceStable(finished, func(i, j int) bool { return finished[i].ExitedAt.Before(finished[j].ExitedAt) })
	exited := make(map[string][]*domain.FlowNodeInstance)
	for _, r := range finished {
		exited[r.ParentFlowNodeInstanceID] = append(exited[r.ParentFlowNodeInstanceID], r)
	}
	root := e.newScope(context.WithoutCancel(ctx), inst, mf, "", first.Identity, nil)
	root.recovered = byParent
	root.exited = exited
	inst.root = root

	e.logger.Info("resuming process instance",
		"process_instance_id", processInstanceID, "suspended", len(suspended))
	if err := root.resume(byParent[""]); err != nil {
		root.fail(err)
		return inst, err
	}
	return inst, nil
}

// resume re-arms the suspended records of this scope. Each one is a live lineage.
func (s *scope) resume(records []*domain.FlowNodeInstance) error {
	if len(records) == 0 {
		return domain.NewModelValidationError(s.parentID, "no suspended flow node instances to resume")
	}
	s.mu.Lock()
	s.live = len(records)
	s.ended = append(s.ended, s.endedLineages()...)
	s.mu.Unlock()

	for _, rec := range records {
		if err := s.rearm(rec); err != nil {
			return fmt.Errorf("rearm %s (%s): %w", rec.ID, rec.FlowNodeID, err)
		}
	}
	return nil
}

// endedLineages returns the tokens of the lineages of this scope that ended
// before the restart: finished nodes with no outgoing flow.
func (s *scope) endedLineages() []domain.ProcessToken {
	var out []domain.ProcessToken
	for _, rec := range s.exited[s.parentID] {
		node := s.model.NodeByID(rec.FlowNodeID)
		if node == nil || len(s.model.OutgoingFlowsFor(node)) > 0 {
			continue
		}
		out = append(out, rec.Token)
	}
	return out
}

func (s *scope) rearm(rec *domain.FlowNodeInstance) error {
	node := s.model.NodeByID(rec.FlowNodeID)
	if node == nil {
		return domain.NewModelValidationError(rec.FlowNodeID, "flow node not found in model %s", s.model.ProcessModelID())
	}
	h, err := s.e.factory.HandlerFor(s.model, node)
	if err != nil {
		return err
	}
	r, ok := h.(handlers.Resumable)
	if !ok {
		return domain.NewModelValidationError(node.ID, "flow node kind %s cannot be resumed", node.Kind)
	}

	ec := s.newContext(token.New(rec.Token, s.e.evaluator, rec.Identity), rec.PreviousFlowNodeInstanceID)
	ec.FlowNodeInstanceID = rec.ID
	ec.Identity = rec.Identity
	if err := r.Rearm(s.ctx, ec, rec); err != nil {
		return err
	}
	s.logger.Debug("flow node instance re-armed", "flow_node_instance_id", rec.ID, "flow_node_id", rec.FlowNodeID)
	return nil
}
