// Package token owns the payload and result history of one execution lineage.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/google/uuid"
)

// Facade wraps one ProcessToken. It is safe for concurrent use, but a facade
// belongs to exactly one lineage: parallel branches get their own snapshot.
type Facade struct {
	mu       sync.Mutex
	token    domain.ProcessToken
	index    map[string]struct{}
	merged   map[string]struct{}
	eval     ports.ExpressionEvaluator
	identity domain.Identity
}

// New wraps tok. The history index is rebuilt from tok, so New doubles as the
// restore path for persisted snapshots.
func New(tok domain.ProcessToken, eval ports.ExpressionEvaluator, identity domain.Identity) *Facade {
	f := &Facade{
		token:    copyToken(tok),
		index:    make(map[string]struct{}, len(tok.History)),
		merged:   make(map[string]struct{}),
		eval:     eval,
		identity: identity,
	}
	for _, e := range f.token.History {
		f.index[e.FlowNodeInstanceID] = struct{}{}
	}
	return f
}

// ProcessInstanceID returns the id of the owning process instance.
func (f *Facade) ProcessInstanceID() string { return f.token.ProcessInstanceID }

// ProcessModelID returns the id of the executed model.
func (f *Facade) ProcessModelID() string { return f.token.ProcessModelID }

// CorrelationID returns the correlation id of the instance.
func (f *Facade) CorrelationID() string { return f.token.CorrelationID }

// Identity returns the identity threaded through this lineage.
func (f *Facade) Identity() domain.Identity { return f.identity }

// BranchID returns the lineage id; empty for the root lineage.
func (f *Facade) BranchID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token.BranchID
}

// SplitID returns the split the lineage belongs to, if any.
func (f *Facade) SplitID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token.SplitID
}

// Payload returns a deep copy of the current payload.
func (f *Facade) Payload() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return deepCopy(f.token.Payload)
}

// SetPayload replaces the current payload.
func (f *Facade) SetPayload(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token.Payload = deepCopy(v)
}

// AddResult appends result to the history and makes it the current payload.
// A flowNodeInstanceID already present is ignored and AddResult returns false.
func (f *Facade) AddResult(flowNodeID, flowNodeInstanceID string, result any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.index[flowNodeInstanceID]; ok {
		return false
	}
	f.index[flowNodeInstanceID] = struct{}{}
	result = deepCopy(result)
	f.token.History = append(f.token.History, domain.ResultEntry{
		FlowNodeID:         flowNodeID,
		FlowNodeInstanceID: flowNodeInstanceID,
		Result:             result,
	})
	f.token.Payload = result
	return true
}

// History returns a copy of the result history.
func (f *Facade) History() []domain.ResultEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyToken(domain.ProcessToken{History: f.token.History}).History
}

// BranchLocalHistory returns the entries recorded since the lineage forked.
func (f *Facade) BranchLocalHistory() []domain.ResultEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.token.BranchStart
	if start > len(f.token.History) {
		start = len(f.token.History)
	}
	return copyToken(domain.ProcessToken{History: f.token.History[start:]}).History
}

// ResultFor returns the last result recorded for flowNodeID.
func (f *Facade) ResultFor(flowNodeID string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.token.History) - 1; i >= 0; i-- {
		if f.token.History[i].FlowNodeID == flowNodeID {
			return deepCopy(f.token.History[i].Result), true
		}
	}
	return nil, false
}

// Snapshot returns a deep copy of the token for persistence.
func (f *Facade) Snapshot() domain.ProcessToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyToken(f.token)
}

// SnapshotForBranch returns an independent facade for one outgoing flow of a
// parallel split. The branch shares the payload and history at fork time.
func (f *Facade) SnapshotForBranch(splitID string) *Facade {
	f.mu.Lock()
	tok := copyToken(f.token)
	f.mu.Unlock()

	tok.BranchID = uuid.NewString()
	tok.SplitID = splitID
	tok.BranchStart = len(tok.History)
	return New(tok, f.eval, f.identity)
}

// MergeFrom folds the history of branch into this facade. Entries already
// present are skipped, so inherited history is never duplicated. Each branch
// id is merged at most once; MergeFrom reports whether anything was merged.
func (f *Facade) MergeFrom(branch *Facade) bool {
	return f.MergeToken(branch.Snapshot())
}

// MergeToken is MergeFrom for a persisted branch token.
func (f *Facade) MergeToken(branch domain.ProcessToken) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := branch.BranchID
	if key != "" {
		if _, done := f.merged[key]; done {
			return false
		}
		f.merged[key] = struct{}{}
	}
	for _, e := range branch.History {
		if _, ok := f.index[e.FlowNodeInstanceID]; ok {
			continue
		}
		f.index[e.FlowNodeInstanceID] = struct{}{}
		e.Result = deepCopy(e.Result)
		f.token.History = append(f.token.History, e)
	}
	return true
}

// Evaluate evaluates expr for flowNodeID. The expression sees the top-level
// payload fields, plus payload, history (flow node id -> last result) and
// identity. Failures are wrapped in a ScriptEvaluationError.
func (f *Facade) Evaluate(ctx context.Context, flowNodeID, expr string) (any, error) {
	if f.eval == nil {
		return nil, &domain.ScriptEvaluationError{FlowNodeID: flowNodeID, Expression: expr, Err: fmt.Errorf("no expression evaluator configured")}
	}
	v, err := f.eval.Evaluate(ctx, expr, f.variables())
	if err != nil {
		return nil, &domain.ScriptEvaluationError{FlowNodeID: flowNodeID, Expression: expr, Err: err}
	}
	return v, nil
}

// EvaluateCondition evaluates a boolean sequence flow condition.
func (f *Facade) EvaluateCondition(ctx context.Context, flowNodeID, expr string) (bool, error) {
	v, err := f.Evaluate(ctx, flowNodeID, expr)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &domain.ScriptEvaluationError{
			FlowNodeID: flowNodeID,
			Expression: expr,
			Err:        fmt.Errorf("condition evaluated to %T, want bool", v),
		}
	}
	return b, nil
}

func (f *Facade) variables() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	vars := make(map[string]any)
	if m, ok := f.token.Payload.(map[string]any); ok {
		for k, v := range m {
			vars[k] = v
		}
	}
	history := make(map[string]any)
	for _, e := range f.token.History {
		history[e.FlowNodeID] = e.Result
	}
	claims := make(map[string]any, len(f.identity.Claims))
	for k, v := range f.identity.Claims {
		claims[k] = v
	}
	vars["payload"] = f.token.Payload
	vars["history"] = history
	vars["identity"] = map[string]any{"user_id": f.identity.UserID, "claims": claims}
	return vars
}
