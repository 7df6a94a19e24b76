package model_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/processengine/internal/model"
	tu "github.com/aretw0/processengine/internal/testutils"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloadEvaluator resolves conditions of the form "x>N" against a fixed x.
type payloadEvaluator struct {
	x     int
	calls []string
	err   error
}

func (p *payloadEvaluator) EvaluateCondition(_ context.Context, _ string, expr string) (bool, error) {
	p.calls = append(p.calls, expr)
	if p.err != nil {
		return false, p.err
	}
	var n int
	if _, err := fmt.Sscanf(expr, "x>%d", &n); err != nil {
		return false, err
	}
	return p.x > n, nil
}

func gatewayModel(withDefault bool) *domain.ProcessModel {
	var opts []tu.NodeOption
	if withDefault {
		opts = append(opts, tu.Default(tu.FlowID("gw", "C")))
	}
	return tu.Model("gw",
		tu.Nodes(
			tu.Node("start", domain.KindStartEvent),
			tu.Node("gw", domain.KindExclusiveGateway, opts...),
			tu.Node("A", domain.KindEndEvent),
			tu.Node("B", domain.KindEndEvent),
			tu.Node("C", domain.KindEndEvent),
		),
		tu.Flow("start", "gw"),
		tu.When("gw", "A", "x>10"),
		tu.When("gw", "B", "x>5"),
		tu.Flow("gw", "C"),
	)
}

func TestNextNodesFor_ExclusiveGateway(t *testing.T) {
	ctx := context.Background()
	f := model.New(gatewayModel(true))
	gw := f.NodeByID("gw")

	tests := []struct {
		x    int
		want string
	}{
		{x: 20, want: "A"},
		{x: 7, want: "B"},
		{x: 1, want: "C"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("x=%d", tt.x), func(t *testing.T) {
			next, err := f.NextNodesFor(ctx, gw, &payloadEvaluator{x: tt.x})
			require.NoError(t, err)
			require.Len(t, next, 1)
			assert.Equal(t, tt.want, next[0].ID)
		})
	}
}

func TestNextNodesFor_DeclarationOrder(t *testing.T) {
	ev := &payloadEvaluator{x: 20}
	f := model.New(gatewayModel(true))

	next, err := f.NextNodesFor(context.Background(), f.NodeByID("gw"), ev)
	require.NoError(t, err)
	assert.Equal(t, "A", next[0].ID)
	assert.Equal(t, []string{"x>10"}, ev.calls, "evaluation stops at the first satisfied flow")
}

func TestNextNodesFor_DefaultWhenNothingHolds(t *testing.T) {
	m := tu.Model("gw",
		tu.Nodes(
			tu.Node("gw", domain.KindExclusiveGateway, tu.Default(tu.FlowID("gw", "B"))),
			tu.Node("A", domain.KindEndEvent),
			tu.Node("B", domain.KindEndEvent),
		),
		tu.When("gw", "A", "x>10"),
		tu.Flow("gw", "B"),
	)
	f := model.New(m)
	next, err := f.NextNodesFor(context.Background(), f.NodeByID("gw"), &payloadEvaluator{x: 5})
	require.NoError(t, err)
	assert.Equal(t, "B", next[0].ID)
}

func TestNextNodesFor_NoSatisfiableFlow(t *testing.T) {
	m := tu.Model("gw",
		tu.Nodes(
			tu.Node("gw", domain.KindExclusiveGateway),
			tu.Node("A", domain.KindEndEvent),
		),
		tu.When("gw", "A", "x>10"),
	)
	f := model.New(m)
	_, err := f.NextNodesFor(context.Background(), f.NodeByID("gw"), &payloadEvaluator{x: 5})

	var mve *domain.ModelValidationError
	require.True(t, errors.As(err, &mve))
	assert.Equal(t, "gw", mve.FlowNodeID)
	assert.Contains(t, mve.Reason, "no satisfiable outgoing flow")
}

func TestNextNodesFor_ConditionError(t *testing.T) {
	f := model.New(gatewayModel(true))
	boom := errors.New("boom")
	_, err := f.NextNodesFor(context.Background(), f.NodeByID("gw"), &payloadEvaluator{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestNextNodesFor_AllTargets(t *testing.T) {
	m := tu.Model("split",
		tu.Nodes(
			tu.Node("split", domain.KindParallelGateway),
			tu.Node("A", domain.KindEndEvent),
			tu.Node("B", domain.KindEndEvent),
			tu.Node("C", domain.KindEndEvent),
		),
		tu.Flow("split", "A"),
		tu.Flow("split", "B"),
		tu.Flow("split", "C"),
	)
	f := model.New(m)
	next, err := f.NextNodesFor(context.Background(), f.NodeByID("split"), nil)
	require.NoError(t, err)
	assert.Len(t, next, 3)
	assert.Equal(t, "A", next[0].ID)
	assert.Equal(t, "C", next[2].ID)
}

func TestStartAndBoundaryEvents(t *testing.T) {
	m := tu.Model("multi",
		tu.Nodes(
			tu.Node("s1", domain.KindStartEvent),
			tu.Node("task", domain.KindUserTask),
			tu.Node("s2", domain.KindStartEvent),
			tu.Node("b1", domain.KindBoundaryEvent, tu.Timer("1m"), tu.AttachedTo("task")),
			tu.Node("b2", domain.KindBoundaryEvent, tu.ErrorCode("E1"), tu.AttachedTo("task")),
		),
	)
	f := model.New(m)

	starts := f.StartNodes()
	require.Len(t, starts, 2)
	assert.Equal(t, "s1", starts[0].ID)
	assert.Equal(t, "s2", starts[1].ID)

	bs := f.BoundaryEventsFor(f.NodeByID("task"))
	require.Len(t, bs, 2)
	assert.Equal(t, "b1", bs[0].ID)
	assert.Equal(t, "b2", bs[1].ID)
	assert.Empty(t, f.BoundaryEventsFor(f.NodeByID("s1")))
}

func TestLinkCatchEventByName(t *testing.T) {
	m := tu.Model("links",
		tu.Nodes(
			tu.Node("throw", domain.KindIntermediateThrowEvent, tu.Event(domain.EventLink, "jump")),
			tu.Node("catch", domain.KindIntermediateCatchEvent, tu.Event(domain.EventLink, "jump")),
			tu.Node("dup1", domain.KindIntermediateCatchEvent, tu.Event(domain.EventLink, "twice")),
			tu.Node("dup2", domain.KindIntermediateCatchEvent, tu.Event(domain.EventLink, "twice")),
		),
	)
	f := model.New(m)

	n, err := f.LinkCatchEventByName("throw", "jump")
	require.NoError(t, err)
	assert.Equal(t, "catch", n.ID)

	var mve *domain.ModelValidationError
	_, err = f.LinkCatchEventByName("throw", "nowhere")
	assert.True(t, errors.As(err, &mve))

	_, err = f.LinkCatchEventByName("throw", "twice")
	assert.True(t, errors.As(err, &mve))
	assert.Len(t, f.LinkCatchEventsByName("twice"), 2)
}

func TestSubProcessFacadeAndLocate(t *testing.T) {
	inner := tu.Model("inner",
		tu.Nodes(tu.Node("is", domain.KindStartEvent), tu.Node("ie", domain.KindEndEvent)),
		tu.Flow("is", "ie"),
	)
	m := tu.Model("outer",
		tu.Nodes(
			tu.Node("start", domain.KindStartEvent),
			tu.Node("sub", domain.KindSubProcess, tu.SubProcess(inner)),
		),
		tu.Flow("start", "sub"),
	)
	f := model.New(m)

	sub, err := f.SubProcessFacade(f.NodeByID("sub"))
	require.NoError(t, err)
	assert.Equal(t, "inner", sub.ProcessModelID())

	again, err := f.SubProcessFacade(f.NodeByID("sub"))
	require.NoError(t, err)
	assert.Same(t, sub, again)

	owner, node := f.Locate("ie")
	require.NotNil(t, node)
	assert.Same(t, sub, owner)

	_, err = f.SubProcessFacade(f.NodeByID("start"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := gatewayModel(true)
	assert.NoError(t, model.New(ok).Validate())

	broken := tu.Model("broken",
		tu.Nodes(
			tu.Node("task", domain.KindServiceTask, tu.Default("missing")),
			tu.Node("orphan", domain.KindEndEvent),
			tu.Node("b", domain.KindBoundaryEvent, tu.Timer("1m"), tu.AttachedTo("ghost")),
			tu.Node("throw", domain.KindIntermediateThrowEvent, tu.Event(domain.EventLink, "nowhere")),
		),
		tu.Flow("task", "ghost"),
	)
	err := model.New(broken).Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "no start event")
	assert.Contains(t, msg, "unknown target")
	assert.Contains(t, msg, "default flow")
	assert.Contains(t, msg, "attached to unknown node")
	assert.Contains(t, msg, "exactly one catch event")
	assert.Contains(t, msg, "unreachable")
}
