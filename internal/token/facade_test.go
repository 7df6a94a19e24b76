package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/processengine/internal/expression"
	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFacade(payload any) *token.Facade {
	return token.New(domain.ProcessToken{
		ProcessInstanceID: "pi",
		ProcessModelID:    "pm",
		CorrelationID:     "corr",
		Payload:           payload,
	}, expression.New(), domain.Identity{UserID: "alice", Claims: map[string]string{"role": "clerk"}})
}

func TestAddResult_Idempotent(t *testing.T) {
	f := newFacade(nil)

	assert.True(t, f.AddResult("task", "fni-1", map[string]any{"n": 1}))
	assert.False(t, f.AddResult("task", "fni-1", map[string]any{"n": 2}))

	h := f.History()
	require.Len(t, h, 1)
	assert.Equal(t, map[string]any{"n": 1}, h[0].Result)
	assert.Equal(t, map[string]any{"n": 1}, f.Payload(), "the duplicate must not change the payload")
}

func TestAddResult_AppendOnly(t *testing.T) {
	f := newFacade(nil)
	f.AddResult("a", "1", "x")
	f.AddResult("b", "2", "y")
	f.AddResult("a", "3", "z")

	h := f.History()
	require.Len(t, h, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{h[0].FlowNodeInstanceID, h[1].FlowNodeInstanceID, h[2].FlowNodeInstanceID})

	last, ok := f.ResultFor("a")
	require.True(t, ok)
	assert.Equal(t, "z", last)
}

func TestSnapshotForBranch_Independent(t *testing.T) {
	parent := newFacade(map[string]any{"shared": "v"})
	parent.AddResult("start", "s1", map[string]any{"shared": "v"})

	a := parent.SnapshotForBranch("split-1")
	b := parent.SnapshotForBranch("split-1")
	assert.NotEqual(t, a.BranchID(), b.BranchID())
	assert.Equal(t, "split-1", a.SplitID())

	a.AddResult("A", "a1", map[string]any{"a": true})
	a.SetPayload(map[string]any{"shared": "changed"})

	assert.Equal(t, map[string]any{"shared": "v"}, b.Payload())
	assert.Equal(t, map[string]any{"shared": "v"}, parent.Payload())
	assert.Len(t, parent.History(), 1)
	assert.Len(t, a.BranchLocalHistory(), 1)
	assert.Empty(t, b.BranchLocalHistory())
}

func TestMergeFrom_OncePerBranch(t *testing.T) {
	parent := newFacade(nil)
	parent.AddResult("start", "s1", nil)

	var branches []*token.Facade
	for _, id := range []string{"A", "B", "C"} {
		br := parent.SnapshotForBranch("split")
		br.AddResult(id, "fni-"+id, id)
		branches = append(branches, br)
	}

	for _, br := range branches {
		assert.True(t, parent.MergeFrom(br))
	}
	assert.False(t, parent.MergeFrom(branches[0]), "a branch is merged exactly once")

	h := parent.History()
	require.Len(t, h, 4, "inherited entries are not duplicated")
	assert.Equal(t, "start", h[0].FlowNodeID)
	assert.Equal(t, []string{"A", "B", "C"}, []string{h[1].FlowNodeID, h[2].FlowNodeID, h[3].FlowNodeID})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	f := newFacade(map[string]any{"x": 5})
	f.AddResult("check", "c1", map[string]any{"x": 5, "ok": true})

	v, err := f.Evaluate(ctx, "script", `x * 2`)
	require.NoError(t, err)
	assert.Equal(t, float64(10), v)

	v, err = f.Evaluate(ctx, "script", `history.check.ok && identity.user_id == "alice" && identity.claims.role == "clerk"`)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	ok, err := f.EvaluateCondition(ctx, "gw", "x > 10")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_ErrorsAreAttributed(t *testing.T) {
	ctx := context.Background()
	f := newFacade(map[string]any{"x": 5})

	_, err := f.Evaluate(ctx, "script-1", "unknown_var + 1")
	var se *domain.ScriptEvaluationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "script-1", se.FlowNodeID)
	assert.Equal(t, "unknown_var + 1", se.Expression)

	_, err = f.EvaluateCondition(ctx, "gw", "x + 1")
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "gw", se.FlowNodeID)
}

func TestRestoreFromSnapshot(t *testing.T) {
	f := newFacade(nil)
	f.AddResult("a", "1", "x")

	restored := token.New(f.Snapshot(), nil, domain.Identity{})
	assert.False(t, restored.AddResult("a", "1", "again"))
	assert.True(t, restored.AddResult("b", "2", "y"))
}

func TestMergePayloads(t *testing.T) {
	got := token.MergePayloads(
		map[string]any{"base": 1, "a": "old"},
		[]domain.ProcessToken{
			{Payload: map[string]any{"a": "new"}},
			{Payload: "plain", History: []domain.ResultEntry{{FlowNodeID: "B"}}},
			{Payload: nil},
		},
	)
	assert.Equal(t, map[string]any{"base": 1, "a": "new", "B": "plain"}, got)
}
