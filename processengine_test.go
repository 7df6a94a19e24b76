package processengine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/processengine"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approvalModel = `
id: approval
nodes:
  - {id: start, kind: startEvent}
  - {id: review, kind: userTask}
  - {id: check, kind: exclusiveGateway, default_flow: check->rejected}
  - {id: approved, kind: endEvent}
  - {id: rejected, kind: endEvent}
flows:
  - {source: start, target: review}
  - {source: review, target: check}
  - {source: check, target: approved, condition: "approved == true"}
  - {source: check, target: rejected}
`

func writeModels(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestNew_RequiresModels(t *testing.T) {
	_, err := processengine.New("")
	assert.Error(t, err)

	_, err = processengine.New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestEngine_UserTaskFromModelDirectory(t *testing.T) {
	var entered, exited atomic.Int32
	eng, err := processengine.New(writeModels(t, map[string]string{"approval.yaml": approvalModel}),
		processengine.WithLifecycleHooks(domain.LifecycleHooks{
			OnFlowNodeEnter: func(context.Context, *domain.FlowNodeEvent) { entered.Add(1) },
		}),
		processengine.WithLifecycleHooks(domain.LifecycleHooks{
			OnFlowNodeExit: func(context.Context, *domain.FlowNodeEvent) { exited.Add(1) },
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst, err := eng.Start(ctx, "approval", map[string]any{"amount": 10}, domain.Identity{UserID: "alice"},
		processengine.WithCorrelationID("order-7"))
	require.NoError(t, err)

	var tasks []*domain.FlowNodeInstance
	require.Eventually(t, func() bool {
		tasks, err = eng.SuspendedUserTasks(ctx, "approval")
		return err == nil && len(tasks) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "order-7", tasks[0].CorrelationID)

	require.NoError(t, eng.FinishUserTask(ctx, tasks[0].ID, map[string]any{"approved": true}))
	out, err := inst.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, processengine.OutcomeCompleted, out.State)
	assert.Equal(t, "approved", out.Token.History[len(out.Token.History)-1].FlowNodeID)

	assert.Equal(t, int32(4), entered.Load())
	assert.Equal(t, int32(4), exited.Load())
}

func TestEngine_UnknownModel(t *testing.T) {
	eng, err := processengine.New(writeModels(t, map[string]string{"approval.yaml": approvalModel}))
	require.NoError(t, err)

	_, err = eng.Execute(context.Background(), "nope", nil, domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrProcessModelNotFound)
}
