package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Invoke(t *testing.T) {
	r := registry.NewRegistry()
	r.Register("billing", "charge", func(ctx context.Context, params map[string]any, id domain.Identity) (any, error) {
		return map[string]any{"charged": params["amount"], "by": id.UserID}, nil
	})

	got, err := r.Invoke(context.Background(), "billing", "charge", map[string]any{"amount": 10}, domain.Identity{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"charged": 10, "by": "bob"}, got)
	assert.Equal(t, []string{"billing"}, r.Modules())

	_, err = r.Invoke(context.Background(), "billing", "refund", nil, domain.Identity{})
	assert.ErrorIs(t, err, registry.ErrMethodNotFound)

	_, err = r.Invoke(context.Background(), "shipping", "send", nil, domain.Identity{})
	assert.ErrorIs(t, err, registry.ErrModuleNotFound)
}
