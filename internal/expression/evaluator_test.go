package expression_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/processengine/internal/expression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	ev := expression.New()
	ctx := context.Background()
	vars := map[string]any{
		"x":     5,
		"name":  "order",
		"items": []any{"a", "b"},
		"payload": map[string]any{
			"amount": 12.5,
			"tags":   map[string]any{"vip": true},
			"note":   nil,
		},
	}

	tests := []struct {
		expr string
		want any
	}{
		{"x > 10", false},
		{"x + 1", float64(6)},
		{"upper(name)", "ORDER"},
		{"length(items)", float64(2)},
		{"payload.tags.vip && x == 5", true},
		{`x > 3 ? "big" : "small"`, "big"},
		{`{ total = payload.amount * 2, label = "${name}-${x}" }`, map[string]any{"total": float64(25), "label": "order-5"}},
		{`[for i in items : upper(i)]`, []any{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ev.Evaluate(ctx, tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	ctx := context.Background()
	ev := expression.New(expression.WithMaxLength(32))

	_, err := ev.Evaluate(ctx, "x >", nil)
	assert.Error(t, err, "syntax error")

	_, err = ev.Evaluate(ctx, "missing + 1", nil)
	assert.Error(t, err, "unknown variable")

	_, err = ev.Evaluate(ctx, "file(\"/etc/passwd\")", nil)
	assert.Error(t, err, "no I/O functions are exposed")

	_, err = ev.Evaluate(ctx, strings.Repeat("1+", 20)+"1", nil)
	assert.ErrorIs(t, err, expression.ErrTooLong)
}

func TestEvaluateBool(t *testing.T) {
	ev := expression.New()
	ok, err := ev.EvaluateBool(context.Background(), "x > 10", map[string]any{"x": 11})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ev.EvaluateBool(context.Background(), "x", map[string]any{"x": 11})
	assert.Error(t, err)
}

func TestEvaluate_Timeout(t *testing.T) {
	ev := expression.New(expression.WithTimeout(time.Nanosecond))
	// A nested comprehension keeps the evaluator busy past the budget.
	vars := map[string]any{"n": make([]any, 1500)}
	_, err := ev.Evaluate(context.Background(), "length([for a in n : [for b in n : b]])", vars)
	assert.ErrorIs(t, err, expression.ErrTimeout)
}
