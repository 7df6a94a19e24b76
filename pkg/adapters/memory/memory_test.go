package memory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Contract(t *testing.T) {
	ports.RunFlowNodeInstanceRepositoryContract(t, memory.NewRepository())
}

func TestJoinStore_Contract(t *testing.T) {
	ports.RunJoinStoreContract(t, memory.NewJoinStore())
}

func TestRepository_Isolation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	payload := map[string]any{"a": "1"}
	inst := &domain.FlowNodeInstance{ID: "x", Token: domain.ProcessToken{ProcessInstanceID: "p", Payload: payload}}
	require.NoError(t, repo.PersistOnEnter(ctx, inst))

	payload["a"] = "mutated"
	got, err := repo.GetByID(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Token.Payload.(map[string]any)["a"])
}

func TestNotifier_SubscribeOnce(t *testing.T) {
	ctx := context.Background()
	n := memory.NewNotifier()

	got := make(chan domain.Notification, 2)
	_, err := n.SubscribeOnce(ctx, "topic", func(msg domain.Notification) { got <- msg })
	require.NoError(t, err)
	assert.Equal(t, 1, n.Subscribers("topic"))

	require.NoError(t, n.Publish(ctx, "topic", domain.Notification{Payload: "first"}))
	require.NoError(t, n.Publish(ctx, "topic", domain.Notification{Payload: "second"}))

	select {
	case msg := <-got:
		assert.Equal(t, "first", msg.Payload)
		assert.Equal(t, "topic", msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	select {
	case <-got:
		t.Fatal("handler must run at most once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_Dispose(t *testing.T) {
	ctx := context.Background()
	n := memory.NewNotifier()

	var calls atomic.Int32
	sub, err := n.SubscribeOnce(ctx, "topic", func(domain.Notification) { calls.Add(1) })
	require.NoError(t, err)
	sub.Dispose()
	sub.Dispose()
	assert.Equal(t, 0, n.Subscribers("topic"))

	require.NoError(t, n.Publish(ctx, "topic", domain.Notification{}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestModelProvider(t *testing.T) {
	ctx := context.Background()
	p := memory.NewModelProvider(&domain.ProcessModel{ID: "b"}, &domain.ProcessModel{ID: "a"})

	ids, err := p.ListProcessModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = p.GetProcessModel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProcessModelNotFound)
}
