package bolt_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/internal/testutils"
	"github.com/aretw0/processengine/pkg/adapters/bolt"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func open(t *testing.T, path string) *bbolt.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := bolt.Open(ctx, path)
	require.NoError(t, err)
	return db
}

func TestRepository_Contract(t *testing.T) {
	db := open(t, filepath.Join(t.TempDir(), "engine.db"))
	defer db.Close()

	repo, err := bolt.NewRepository(db)
	require.NoError(t, err)
	ports.RunFlowNodeInstanceRepositoryContract(t, repo)
}

func TestJoinStore_Contract(t *testing.T) {
	db := open(t, filepath.Join(t.TempDir(), "engine.db"))
	defer db.Close()

	joins, err := bolt.NewJoinStore(db)
	require.NoError(t, err)
	ports.RunJoinStoreContract(t, joins)
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bolt.Open(ctx, filepath.Join(t.TempDir(), "engine.db"))
	assert.ErrorIs(t, err, context.Canceled)
}

// A suspended instance survives closing and reopening the database.
func TestEngine_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")
	m := testutils.Model("parallel-approval",
		testutils.Nodes(
			testutils.Node("start", domain.KindStartEvent),
			testutils.Node("split", domain.KindParallelGateway),
			testutils.Node("legal", domain.KindUserTask),
			testutils.Node("finance", domain.KindUserTask),
			testutils.Node("join", domain.KindParallelGateway),
			testutils.Node("end", domain.KindEndEvent),
		),
		testutils.Flow("start", "split"),
		testutils.Flow("split", "legal"), testutils.Flow("split", "finance"),
		testutils.Flow("legal", "join"), testutils.Flow("finance", "join"),
		testutils.Flow("join", "end"),
	)
	models := memory.NewModelProvider(m)

	engine := func(db *bbolt.DB) *runtime.Engine {
		repo, err := bolt.NewRepository(db)
		require.NoError(t, err)
		joins, err := bolt.NewJoinStore(db)
		require.NoError(t, err)
		return runtime.New(models, runtime.WithRepository(repo), runtime.WithJoinStore(joins))
	}

	db := open(t, path)
	before := engine(db)
	inst, err := before.Start(ctx, "parallel-approval", map[string]any{"contract": "c-1"}, domain.Identity{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tasks, err := before.SuspendedUserTasks(ctx, "parallel-approval")
		return err == nil && len(tasks) == 2
	}, 2*time.Second, 10*time.Millisecond)

	tasks, err := before.SuspendedUserTasks(ctx, "parallel-approval")
	require.NoError(t, err)
	require.NoError(t, before.FinishUserTask(ctx, tasks[0].ID, map[string]any{tasks[0].FlowNodeID: "ok"}))
	require.Eventually(t, func() bool {
		rec, err := before.Repository().GetByID(ctx, tasks[0].ID)
		return err == nil && rec.State == domain.StateFinished
	}, 2*time.Second, 10*time.Millisecond)
	// The finished branch parks at the join; give it time to arrive.
	require.Eventually(t, func() bool {
		recs, err := before.Repository().QueryByProcessInstance(ctx, inst.ID)
		if err != nil {
			return false
		}
		for _, r := range recs {
			if r.FlowNodeID == "join" && r.State == domain.StateFinished {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, db.Close())

	db = open(t, path)
	defer db.Close()
	after := engine(db)
	require.NoError(t, after.Recover(ctx))

	remaining, err := after.SuspendedUserTasks(ctx, "parallel-approval")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.NoError(t, after.FinishUserTask(ctx, remaining[0].ID, map[string]any{remaining[0].FlowNodeID: "ok"}))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := after.Await(waitCtx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"contract": "c-1", "legal": "ok", "finance": "ok"}, out.Token.Payload)
}
