package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/internal/testutils"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/persistence/middleware"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	key1 = bytes.Repeat([]byte{1}, 32)
	key2 = bytes.Repeat([]byte{2}, 32)
)

func encrypted(t *testing.T, next ports.FlowNodeInstanceRepository, cfg middleware.EncryptionConfig) ports.FlowNodeInstanceRepository {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return middleware.Chain(next, mw)
}

func TestEncryption_Contract(t *testing.T) {
	ports.RunFlowNodeInstanceRepositoryContract(t, encrypted(t, memory.NewRepository(), middleware.EncryptionConfig{ActiveKey: key1}))
}

func TestEncryption_RejectsShortKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)
}

func record(id string) *domain.FlowNodeInstance {
	return &domain.FlowNodeInstance{
		ID:                id,
		FlowNodeID:        "review",
		FlowNodeKind:      domain.KindUserTask,
		ProcessModelID:    "m",
		ProcessInstanceID: "p",
		Token: domain.ProcessToken{
			ProcessInstanceID: "p",
			ProcessModelID:    "m",
			Payload:           map[string]any{"ssn": "123-45-6789"},
			History:           []domain.ResultEntry{{FlowNodeID: "start", FlowNodeInstanceID: "s", Result: "secret"}},
		},
		EnteredAt: time.Now(),
	}
}

func TestEncryption_StoresCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRepository()
	repo := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key1})

	require.NoError(t, repo.PersistOnEnter(ctx, record("r1")))

	raw, err := inner.GetByID(ctx, "r1")
	require.NoError(t, err)
	blob, err := json.Marshal(raw.Token)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "123-45-6789")
	assert.NotContains(t, string(blob), "secret")
	assert.Equal(t, "p", raw.Token.ProcessInstanceID)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ssn": "123-45-6789"}, got.Token.Payload)
	require.Len(t, got.Token.History, 1)
	assert.Equal(t, "secret", got.Token.History[0].Result)
}

func TestEncryption_KeyRotation(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRepository()
	old := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key1})
	require.NoError(t, old.PersistOnEnter(ctx, record("r1")))

	rotated := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key2, FallbackKeys: [][]byte{key1}})
	got, err := rotated.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ssn": "123-45-6789"}, got.Token.Payload)

	wrong := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key2})
	_, err = wrong.GetByID(ctx, "r1")
	assert.Error(t, err)
}

func TestEncryption_RejectsPlainRecords(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRepository()
	require.NoError(t, inner.PersistOnEnter(ctx, record("plain")))

	_, err := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key1}).GetByID(ctx, "plain")
	assert.ErrorIs(t, err, middleware.ErrNotEncrypted)
}

func TestEncryption_EngineRecovers(t *testing.T) {
	m := testutils.Model("approval",
		testutils.Nodes(
			testutils.Node("start", domain.KindStartEvent),
			testutils.Node("review", domain.KindUserTask),
			testutils.Node("end", domain.KindEndEvent),
		),
		testutils.Flow("start", "review"),
		testutils.Flow("review", "end"),
	)
	inner := memory.NewRepository()
	joins := memory.NewJoinStore()
	repo := encrypted(t, inner, middleware.EncryptionConfig{ActiveKey: key1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := runtime.New(memory.NewModelProvider(m), runtime.WithRepository(repo), runtime.WithJoinStore(joins))
	_, err := first.Start(ctx, "approval", map[string]any{"card": "4111"}, domain.Identity{UserID: "alice"})
	require.NoError(t, err)

	var tasks []*domain.FlowNodeInstance
	require.Eventually(t, func() bool {
		tasks, err = first.SuspendedUserTasks(ctx, "approval")
		return err == nil && len(tasks) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"card": "4111"}, tasks[0].Token.Payload)

	second := runtime.New(memory.NewModelProvider(m), runtime.WithRepository(repo), runtime.WithJoinStore(joins))
	require.NoError(t, second.Recover(ctx))
	require.NoError(t, second.FinishUserTask(ctx, tasks[0].ID, map[string]any{"ok": true}))

	out, err := second.Await(ctx, tasks[0].ProcessInstanceID)
	require.NoError(t, err)
	assert.Equal(t, runtime.OutcomeCompleted, out.State)
	assert.Equal(t, map[string]any{"ok": true}, out.Token.Payload)
}
