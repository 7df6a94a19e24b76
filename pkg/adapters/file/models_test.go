package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/pkg/adapters/file"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderModel = `
id: order
version: "2"
nodes:
  - id: start
    kind: startEvent
  - id: check
    kind: exclusiveGateway
    default_flow: check->manual
  - id: price
    kind: serviceTask
    extensions:
      service:
        module: pricing
        method: quote
        params:
          amount: "=amount * 2"
  - id: manual
    kind: userTask
  - id: done
    kind: endEvent
flows:
  - source: start
    target: check
  - source: check
    target: price
    condition: amount < 100
  - source: check
    target: manual
  - source: price
    target: done
  - source: manual
    target: done
`

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestModelProvider_Load(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "order.yaml", orderModel)
	write(t, dir, "ping.yml", "nodes:\n  - {id: s, kind: startEvent}\n  - {id: e, kind: endEvent}\nflows:\n  - {source: s, target: e}\n")
	write(t, dir, "README.md", "not a model")

	p, err := file.NewModelProvider(dir)
	require.NoError(t, err)

	ids, err := p.ListProcessModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"order", "ping"}, ids)

	m, err := p.GetProcessModel(context.Background(), "order")
	require.NoError(t, err)
	assert.Equal(t, "2", m.Version)
	assert.Len(t, m.Nodes, 5)
	assert.Equal(t, "check->price", m.Flows[1].ID)
	assert.Equal(t, "amount < 100", m.Flows[1].Condition)
	assert.Equal(t, domain.KindServiceTask, m.Nodes[2].Kind)

	_, err = p.GetProcessModel(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrProcessModelNotFound)
}

func TestModelProvider_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", "id: same\nnodes: []\n")
	write(t, dir, "b.yaml", "id: same\nnodes: []\n")

	_, err := file.NewModelProvider(dir)
	assert.ErrorContains(t, err, `"same"`)
}

func TestModelProvider_Reload(t *testing.T) {
	dir := t.TempDir()
	p, err := file.NewModelProvider(dir)
	require.NoError(t, err)

	write(t, dir, "order.yaml", orderModel)
	require.NoError(t, p.Reload())
	_, err = p.GetProcessModel(context.Background(), "order")
	assert.NoError(t, err)

	write(t, dir, "broken.yaml", "nodes: [")
	assert.Error(t, p.Reload())
	_, err = p.GetProcessModel(context.Background(), "order")
	assert.NoError(t, err, "a failed reload keeps the previous models")
}

func TestModelProvider_Executes(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "order.yaml", orderModel)
	p, err := file.NewModelProvider(dir)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	reg.Register("pricing", "quote", func(_ context.Context, params map[string]any, _ domain.Identity) (any, error) {
		return map[string]any{"quoted": params["amount"]}, nil
	})
	e := runtime.New(p, runtime.WithServiceInvoker(reg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := e.Execute(ctx, "order", map[string]any{"amount": 21}, domain.Identity{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"quoted": float64(42)}, out.Token.Payload)
}
