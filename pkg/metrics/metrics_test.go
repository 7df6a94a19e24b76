package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/internal/testutils"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample sums the value of every series of name whose labels include want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.New(reg)
	require.NoError(t, err)

	_, err = metrics.New(reg)
	assert.Error(t, err)
}

func TestHooks_CountTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	model := testutils.Model("approval",
		testutils.Nodes(
			testutils.Node("start", domain.KindStartEvent),
			testutils.Node("review", domain.KindUserTask),
			testutils.Node("end", domain.KindEndEvent),
		),
		testutils.Flow("start", "review"),
		testutils.Flow("review", "end"),
	)
	e := runtime.New(memory.NewModelProvider(model), runtime.WithLifecycleHooks(m.Hooks()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inst, err := e.Start(ctx, "approval", map[string]any{}, domain.Identity{UserID: "alice"})
	require.NoError(t, err)

	var tasks []*domain.FlowNodeInstance
	require.Eventually(t, func() bool {
		tasks, err = e.SuspendedUserTasks(ctx, "approval")
		return err == nil && len(tasks) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return sample(t, reg, "processengine_flow_nodes_suspended", map[string]string{"flow_node_kind": "userTask"}) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.FinishUserTask(ctx, tasks[0].ID, map[string]any{"ok": true}))
	out, err := e.Await(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeCompleted, out.State)

	assert.Equal(t, 0.0, sample(t, reg, "processengine_flow_nodes_suspended", nil))
	assert.Equal(t, 3.0, sample(t, reg, "processengine_flow_node_transitions_total", map[string]string{
		"process_model_id": "approval",
		"state":            string(domain.StateFinished),
	}))
	assert.Equal(t, 1.0, sample(t, reg, "processengine_flow_node_transitions_total", map[string]string{
		"flow_node_kind": "userTask",
		"state":          string(domain.StateSuspended),
	}))
	assert.Equal(t, 3.0, sample(t, reg, "processengine_flow_node_duration_seconds", map[string]string{
		"process_model_id": "approval",
	}))
}
