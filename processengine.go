package processengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/processengine/internal/expression"
	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/internal/runtime"
	"github.com/aretw0/processengine/pkg/adapters/file"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/aretw0/processengine/pkg/registry"
)

// Version is the release version, set at build time with
// -ldflags "-X github.com/aretw0/processengine.Version=v1.2.3".
var Version = "dev"

type (
	// Outcome is the terminal result of a process instance.
	Outcome = runtime.Outcome
	// Instance is a handle on a live process instance.
	Instance = runtime.Instance
	// StartOption customizes a single Start or Execute call.
	StartOption = runtime.StartOption
)

const (
	OutcomeCompleted = runtime.OutcomeCompleted
	OutcomeFailed    = runtime.OutcomeFailed
)

var (
	// WithProcessInstanceID fixes the id of the started instance.
	WithProcessInstanceID = runtime.WithProcessInstanceID
	// WithCorrelationID groups the instance with others under an id.
	WithCorrelationID = runtime.WithCorrelationID

	ErrInstanceNotFound = runtime.ErrInstanceNotFound
	ErrInstanceExists   = runtime.ErrInstanceExists
)

// Engine is the high-level entry point of the library.
// It wraps the internal runtime with default adapters: a YAML model directory,
// in-memory persistence and the HCL expression evaluator.
type Engine struct {
	runtime  *runtime.Engine
	models   ports.ModelProvider
	services *registry.Registry
	logger   *slog.Logger

	hooks       []domain.LifecycleHooks
	exprOpts    []expression.Option
	runtimeOpts []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithModelProvider injects a model provider, bypassing the model directory.
func WithModelProvider(p ports.ModelProvider) Option {
	return func(e *Engine) {
		e.models = p
	}
}

// WithRepository sets the flow node instance store.
func WithRepository(repo ports.FlowNodeInstanceRepository) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithRepository(repo))
	}
}

// WithJoinStore sets the parallel join store.
func WithJoinStore(s ports.JoinStore) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithJoinStore(s))
	}
}

// WithNotifier sets the message/signal bus.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithNotifier(n))
	}
}

// WithLocker makes Recover claim each process instance before resuming it.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLocker(l))
	}
}

// WithServices replaces the service task registry.
func WithServices(r *registry.Registry) Option {
	return func(e *Engine) {
		e.services = r
	}
}

// WithModule registers a service task module under name.
func WithModule(name string, m registry.Module) Option {
	return func(e *Engine) {
		if e.services == nil {
			e.services = registry.NewRegistry()
		}
		e.services.RegisterModule(name, m)
	}
}

// WithLifecycleHooks registers observability hooks. It may be given more
// than once; every set of hooks is called.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks)
	}
}

// WithExpressionTimeout bounds every script and condition evaluation.
func WithExpressionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.exprOpts = append(e.exprOpts, expression.WithTimeout(d))
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New initializes an Engine reading process models from modelsDir.
// If WithModelProvider is given, modelsDir may be empty.
func New(modelsDir string, opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.models == nil {
		if modelsDir == "" {
			return nil, fmt.Errorf("modelsDir is required when no model provider is set")
		}
		p, err := file.NewModelProvider(modelsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load process models: %w", err)
		}
		eng.models = p
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.services == nil {
		eng.services = registry.NewRegistry()
	}

	rtOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithServiceInvoker(eng.services),
		runtime.WithExpressionEvaluator(expression.New(eng.exprOpts...)),
		runtime.WithLifecycleHooks(domain.Combine(eng.hooks...)),
	}
	eng.runtime = runtime.New(eng.models, append(rtOpts, eng.runtimeOpts...)...)
	return eng, nil
}

// Services returns the service task registry.
func (e *Engine) Services() *registry.Registry { return e.services }

// Models returns the model provider.
func (e *Engine) Models() ports.ModelProvider { return e.models }

// Repository returns the flow node instance store.
func (e *Engine) Repository() ports.FlowNodeInstanceRepository { return e.runtime.Repository() }

// Execute starts a process instance and blocks until it completes or fails.
func (e *Engine) Execute(ctx context.Context, processModelID string, payload any, identity domain.Identity, opts ...StartOption) (*Outcome, error) {
	return e.runtime.Execute(ctx, processModelID, payload, identity, opts...)
}

// Start starts a process instance without waiting for it.
func (e *Engine) Start(ctx context.Context, processModelID string, payload any, identity domain.Identity, opts ...StartOption) (*Instance, error) {
	return e.runtime.Start(ctx, processModelID, payload, identity, opts...)
}

// Await blocks until a live instance, started or recovered by this engine, ends.
func (e *Engine) Await(ctx context.Context, processInstanceID string) (*Outcome, error) {
	return e.runtime.Await(ctx, processInstanceID)
}

// Cancel stops a live instance.
func (e *Engine) Cancel(processInstanceID string) error {
	return e.runtime.Cancel(processInstanceID)
}

// Recover resumes every suspended process instance found in the repository.
func (e *Engine) Recover(ctx context.Context) error {
	return e.runtime.Recover(ctx)
}

// ResumeFlowNodeInstance resumes the process instance owning a suspended record.
func (e *Engine) ResumeFlowNodeInstance(ctx context.Context, flowNodeInstanceID string) (*Instance, error) {
	return e.runtime.ResumeFlowNodeInstance(ctx, flowNodeInstanceID)
}

// SendMessage delivers a named message to the instances waiting for it.
func (e *Engine) SendMessage(ctx context.Context, name string, payload any) error {
	return e.runtime.SendMessage(ctx, name, payload)
}

// SendSignal broadcasts a named signal.
func (e *Engine) SendSignal(ctx context.Context, name string, payload any) error {
	return e.runtime.SendSignal(ctx, name, payload)
}

// FinishUserTask completes a suspended user task.
func (e *Engine) FinishUserTask(ctx context.Context, flowNodeInstanceID string, payload any) error {
	return e.runtime.FinishUserTask(ctx, flowNodeInstanceID, payload)
}

// FailUserTask completes a suspended user task with a coded business error.
func (e *Engine) FailUserTask(ctx context.Context, flowNodeInstanceID, code, message string) error {
	return e.runtime.FailUserTask(ctx, flowNodeInstanceID, code, message)
}

// SuspendedUserTasks lists the user tasks waiting in a model.
func (e *Engine) SuspendedUserTasks(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	return e.runtime.SuspendedUserTasks(ctx, processModelID)
}
