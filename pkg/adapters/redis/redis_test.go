package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/internal/testutils"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/adapters/redis"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/aretw0/processengine/pkg/registry"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRepository_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunFlowNodeInstanceRepositoryContract(t, redis.NewRepository(client))
}

func TestJoinStore_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunJoinStoreContract(t, redis.NewJoinStore(client, redis.WithPrefix("test:")))
}

func TestNotifier_DeliversOnce(t *testing.T) {
	_, client := setup(t)
	n := redis.NewNotifier(client)
	ctx := context.Background()

	got := make(chan domain.Notification, 2)
	_, err := n.SubscribeOnce(ctx, "message:paid", func(msg domain.Notification) { got <- msg })
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, "message:paid", domain.Notification{Payload: map[string]any{"amount": "10"}}))
	require.NoError(t, n.Publish(ctx, "message:paid", domain.Notification{Payload: "second"}))

	select {
	case msg := <-got:
		assert.Equal(t, map[string]any{"amount": "10"}, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected second delivery: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifier_Dispose(t *testing.T) {
	_, client := setup(t)
	n := redis.NewNotifier(client)
	ctx := context.Background()

	got := make(chan domain.Notification, 1)
	sub, err := n.SubscribeOnce(ctx, "signal:stop", func(msg domain.Notification) { got <- msg })
	require.NoError(t, err)
	sub.Dispose()
	sub.Dispose()

	require.NoError(t, n.Publish(ctx, "signal:stop", domain.Notification{}))
	select {
	case <-got:
		t.Fatal("disposed subscription fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLocker_LockUnlock(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "resource1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:resource1"), "Lock key should be set in Redis")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:resource1"), "Lock key should be removed after unlock")
}

func TestLocker_Contention(t *testing.T) {
	_, client := setup(t)
	locker1 := redis.NewLocker(client, "test:")
	locker2 := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(waitCtx, "shared", 5*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)

	require.NoError(t, unlock1(ctx))
	unlock2, err := locker2.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestLocker_RefreshesWhileHeld(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "lease", 150*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = unlock(ctx) }()

	mr.SetTTL("test:lock:lease", time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("test:lock:lease") == 150*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_UserTaskAcrossEngines(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()
	m := testutils.Model("approval",
		testutils.Nodes(
			testutils.Node("start", domain.KindStartEvent),
			testutils.Node("review", domain.KindUserTask),
			testutils.Node("end", domain.KindEndEvent),
		),
		testutils.Flow("start", "review"),
		testutils.Flow("review", "end"),
	)
	models := memory.NewModelProvider(m)
	repo := redis.NewRepository(client)
	joins := redis.NewJoinStore(client)

	first := runtime.New(models,
		runtime.WithRepository(repo),
		runtime.WithJoinStore(joins),
		runtime.WithNotifier(redis.NewNotifier(client, redis.WithPrefix("first:"))),
	)
	inst, err := first.Start(ctx, "approval", map[string]any{"amount": "10"}, domain.Identity{UserID: "alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tasks, err := first.SuspendedUserTasks(ctx, "approval")
		return err == nil && len(tasks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	second := runtime.New(models,
		runtime.WithRepository(repo),
		runtime.WithJoinStore(joins),
		runtime.WithNotifier(redis.NewNotifier(client, redis.WithPrefix("second:"))),
		runtime.WithLocker(redis.NewLocker(client, "test:")),
	)
	require.NoError(t, second.Recover(ctx))
	tasks, err := second.SuspendedUserTasks(ctx, "approval")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, second.FinishUserTask(ctx, tasks[0].ID, map[string]any{"approved": true}))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := second.Await(waitCtx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeCompleted, out.State)
	assert.Equal(t, map[string]any{"approved": true}, out.Token.Payload)

	rec, err := repo.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFinished, rec.State)
}

func TestEngine_TerminateCancelsRunningService(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()
	m := testutils.Model("terminate",
		testutils.Nodes(
			testutils.Node("start", domain.KindStartEvent),
			testutils.Node("split", domain.KindParallelGateway),
			testutils.Node("svc", domain.KindServiceTask, testutils.Extensions(map[string]any{
				"service": map[string]any{"module": "slow", "method": "run"},
			})),
			testutils.Node("delay", domain.KindIntermediateCatchEvent, testutils.Timer("30ms")),
			testutils.Node("kill", domain.KindEndEvent, testutils.Extensions(map[string]any{"terminate": true})),
			testutils.Node("end", domain.KindEndEvent),
		),
		testutils.Flow("start", "split"),
		testutils.Flow("split", "svc"), testutils.Flow("split", "delay"),
		testutils.Flow("delay", "kill"),
		testutils.Flow("svc", "end"),
	)
	reg := registry.NewRegistry()
	reg.Register("slow", "run", func(context.Context, map[string]any, domain.Identity) (any, error) {
		time.Sleep(150 * time.Millisecond)
		return "late", nil
	})
	repo := redis.NewRepository(client)
	e := runtime.New(memory.NewModelProvider(m),
		runtime.WithRepository(repo),
		runtime.WithJoinStore(redis.NewJoinStore(client)),
		runtime.WithServiceInvoker(reg),
	)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := e.Execute(waitCtx, "terminate", nil, domain.Identity{})
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeCompleted, out.State)

	states := func() map[string]domain.FlowNodeInstanceState {
		recs, err := repo.QueryByProcessInstance(ctx, out.ProcessInstanceID)
		if err != nil {
			return nil
		}
		got := make(map[string]domain.FlowNodeInstanceState, len(recs))
		for _, r := range recs {
			got[r.FlowNodeID] = r.State
		}
		return got
	}
	require.Eventually(t, func() bool {
		return states()["svc"] == domain.StateCancelled
	}, 2*time.Second, 10*time.Millisecond)
	final := states()
	assert.Len(t, final, 5)
	for id, state := range final {
		assert.True(t, state.IsTerminal(), "%s is %s", id, state)
	}
}
