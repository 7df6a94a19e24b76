// Package expression evaluates user-authored condition and script expressions
// in a sandbox. Expressions use the HCL native syntax: they can read variables
// and call a fixed table of pure functions, but cannot perform I/O.
package expression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

const (
	DefaultTimeout   = time.Second
	DefaultMaxLength = 4096
)

var (
	// ErrTimeout is returned when an evaluation exceeds its time budget.
	ErrTimeout = errors.New("expression evaluation timed out")
	// ErrTooLong is returned for expressions above the configured length.
	ErrTooLong = errors.New("expression too long")
)

// Evaluator implements ports.ExpressionEvaluator with hclsyntax.
type Evaluator struct {
	timeout   time.Duration
	maxLength int
	functions map[string]function.Function
}

// Option configures the Evaluator.
type Option func(*Evaluator)

// WithTimeout bounds the wall time of one evaluation.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		e.timeout = d
	}
}

// WithMaxLength bounds the source length of an expression.
func WithMaxLength(n int) Option {
	return func(e *Evaluator) {
		e.maxLength = n
	}
}

// WithFunction adds a function to the table available to expressions.
func WithFunction(name string, fn function.Function) Option {
	return func(e *Evaluator) {
		e.functions[name] = fn
	}
}

// New creates an Evaluator with the standard function table.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		timeout:   DefaultTimeout,
		maxLength: DefaultMaxLength,
		functions: standardFunctions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate parses expr and evaluates it against vars. Variables are
// normalized through JSON, so numbers come back as float64.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, vars map[string]any) (any, error) {
	if len(expr) > e.maxLength {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLong, len(expr), e.maxLength)
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(expr), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diagsError(diags)
	}

	variables, err := toCtyVariables(vars)
	if err != nil {
		return nil, err
	}
	evalCtx := &hcl.EvalContext{Variables: variables, Functions: e.functions}

	ctx, cancel := linger.ContextWithTimeout(ctx, e.timeout, DefaultTimeout)
	defer cancel()

	type outcome struct {
		val cty.Value
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("expression panicked: %v", r)}
			}
		}()
		val, diags := parsed.Value(evalCtx)
		if diags.HasErrors() {
			done <- outcome{err: diagsError(diags)}
			return
		}
		done <- outcome{val: val}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return ctyToNative(out.val)
	}
}

// EvaluateBool evaluates a condition. Non-boolean results are an error.
func (e *Evaluator) EvaluateBool(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	v, err := e.Evaluate(ctx, expr, vars)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", expr, v)
	}
	return b, nil
}

func diagsError(diags hcl.Diagnostics) error {
	errs := diags.Errs()
	if len(errs) == 1 {
		return errs[0]
	}
	return diags
}

func toCtyVariables(vars map[string]any) (map[string]cty.Value, error) {
	if len(vars) == 0 {
		return map[string]cty.Value{}, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("variables are not serializable: %w", err)
	}
	var sv ctyjson.SimpleJSONValue
	if err := sv.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to convert variables: %w", err)
	}
	return sv.AsValueMap(), nil
}
