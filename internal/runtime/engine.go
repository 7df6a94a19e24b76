// Package runtime drives process instances: it schedules the handler chains
// of every lineage, forks and joins parallel branches, parks suspended
// lineages and rebuilds them from persisted records after a restart.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/processengine/internal/expression"
	"github.com/aretw0/processengine/internal/handlers"
	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/internal/model"
	"github.com/aretw0/processengine/internal/timer"
	"github.com/aretw0/processengine/internal/token"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/google/uuid"
)

// DefaultRecoveryConcurrency bounds the instances resumed in parallel by Recover.
const DefaultRecoveryConcurrency = 8

// DefaultLockTTL is the lease of the per instance recovery lock.
const DefaultLockTTL = 30 * time.Second

// DefaultLockWait bounds how long recovery waits for an instance lock
// another engine holds.
const DefaultLockWait = time.Second

// Engine executes process instances.
type Engine struct {
	models    ports.ModelProvider
	repo      ports.FlowNodeInstanceRepository
	notifier  ports.Notifier
	joins     ports.JoinStore
	services  ports.ServiceInvoker
	timers    ports.TimerService
	evaluator ports.ExpressionEvaluator
	locker    ports.DistributedLocker
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	now       func() time.Time

	recoveryConcurrency int
	lockTTL             time.Duration
	lockWait            time.Duration

	factory *handlers.Factory

	mu        sync.Mutex
	instances map[string]*Instance
	facades   map[string]*model.Facade
}

// Option configures the Engine.
type Option func(*Engine)

// WithRepository sets the flow node instance repository (default: in memory).
func WithRepository(repo ports.FlowNodeInstanceRepository) Option {
	return func(e *Engine) { e.repo = repo }
}

// WithNotifier sets the notification channel (default: in process).
func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithJoinStore sets the store of parallel join records (default: in memory).
func WithJoinStore(s ports.JoinStore) Option {
	return func(e *Engine) { e.joins = s }
}

// WithServiceInvoker sets the invoker used by service tasks.
func WithServiceInvoker(s ports.ServiceInvoker) Option {
	return func(e *Engine) { e.services = s }
}

// WithTimerService sets the scheduler of timer events.
func WithTimerService(t ports.TimerService) Option {
	return func(e *Engine) { e.timers = t }
}

// WithExpressionEvaluator sets the evaluator of conditions and scripts.
func WithExpressionEvaluator(ev ports.ExpressionEvaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithLocker makes recovery take a distributed lock per process instance.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the clock used for timer arithmetic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRecoveryConcurrency bounds the instances Recover resumes in parallel.
func WithRecoveryConcurrency(n int) Option {
	return func(e *Engine) { e.recoveryConcurrency = n }
}

// WithLockTTL sets the lease of recovery locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.lockTTL = ttl }
}

// WithLockWait bounds the wait for a recovery lock held elsewhere.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// New creates an engine reading models from models.
func New(models ports.ModelProvider, opts ...Option) *Engine {
	e := &Engine{
		models:              models,
		logger:              logging.NewNop(),
		now:                 time.Now,
		recoveryConcurrency: DefaultRecoveryConcurrency,
		lockTTL:             DefaultLockTTL,
		lockWait:            DefaultLockWait,
		instances:           make(map[string]*Instance),
		facades:             make(map[string]*model.Facade),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.repo == nil {
		e.repo = memory.NewRepository()
	}
	if e.notifier == nil {
		e.notifier = memory.NewNotifier(memory.WithLogger(e.logger))
	}
	if e.joins == nil {
		e.joins = memory.NewJoinStore()
	}
	if e.timers == nil {
		e.timers = timer.New(timer.WithLogger(e.logger))
	}
	if e.evaluator == nil {
		e.evaluator = expression.New()
	}

	e.factory = handlers.NewFactory(&handlers.Deps{
		Repository: e.repo,
		Notifier:   e.notifier,
		Joins:      e.joins,
		Services:   e.services,
		Timers:     e.timers,
		Evaluator:  e.evaluator,
		Hooks:      e.hooks,
		Logger:     e.logger,
		Now:        e.now,
	})
	return e
}

// Repository returns the flow node instance repository in use.
func (e *Engine) Repository() ports.FlowNodeInstanceRepository { return e.repo }

// Notifier returns the notification channel in use.
func (e *Engine) Notifier() ports.Notifier { return e.notifier }

// StartOption configures one process instance.
type StartOption func(*startConfig)

type startConfig struct {
	instanceID    string
	correlationID string
}

// WithProcessInstanceID sets the id of the new instance (default: random).
func WithProcessInstanceID(id string) StartOption {
	return func(c *startConfig) { c.instanceID = id }
}

// WithCorrelationID sets the correlation id (default: the instance id).
func WithCorrelationID(id string) StartOption {
	return func(c *startConfig) { c.correlationID = id }
}

// facade returns the validated facade of processModelID.
func (e *Engine) facade(ctx context.Context, processModelID string) (*model.Facade, error) {
	m, err := e.models.GetProcessModel(ctx, processModelID)
	if err != nil {
		return nil, fmt.Errorf("load process model %s: %w", processModelID, err)
	}
	key := m.ID + "@" + m.Version

	e.mu.Lock()
	mf, ok := e.facades[key]
	e.mu.Unlock()
	if ok {
		return mf, nil
	}

	mf = model.New(m)
	if err := mf.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.facades[key] = mf
	e.mu.Unlock()
	return mf, nil
}

// Start creates a process instance and runs it in the background.
func (e *Engine) Start(ctx context.Context, processModelID string, payload any, identity domain.Identity, opts ...StartOption) (*Instance, error) {
	cfg := startConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.instanceID == "" {
		cfg.instanceID = uuid.NewString()
	}
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.instanceID
	}

	mf, err := e.facade(ctx, processModelID)
	if err != nil {
		return nil, err
	}
	if len(mf.StartNodes()) == 0 {
		return nil, domain.NewModelValidationError("", "process model %s has no start event", processModelID)
	}

	inst, err := e.register(cfg.instanceID, mf.ProcessModelID(), cfg.correlationID)
	if err != nil {
		return nil, err
	}

	tok := token.New(domain.ProcessToken{
		ProcessInstanceID: cfg.instanceID,
		ProcessModelID:    mf.ProcessModelID(),
		CorrelationID:     cfg.correlationID,
		Payload:           payload,
	}, e.evaluator, identity)

	root := e.newScope(context.WithoutCancel(ctx), inst, mf, "", identity, nil)
	inst.root = root
	e.logger.Info("process instance started",
		"process_instance_id", inst.ID, "process_model_id", inst.ProcessModelID)
	if err := root.start(tok, ""); err != nil {
		root.fail(err)
	}
	return inst, nil
}

// Execute runs a process instance to its terminal outcome.
// Cancelling ctx stops the wait, not the instance.
func (e *Engine) Execute(ctx context.Context, processModelID string, payload any, identity domain.Identity, opts ...StartOption) (*Outcome, error) {
	inst, err := e.Start(ctx, processModelID, payload, identity, opts...)
	if err != nil {
		return nil, err
	}
	return inst.Wait(ctx)
}

// Await waits for a live instance, including instances resumed by Recover.
func (e *Engine) Await(ctx context.Context, processInstanceID string) (*Outcome, error) {
	inst, ok := e.Instance(processInstanceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, processInstanceID)
	}
	return inst.Wait(ctx)
}

// Instance returns the live instance with the given id.
func (e *Engine) Instance(processInstanceID string) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[processInstanceID]
	return inst, ok
}

// Cancel stops a live instance. Its suspended flow node instances are
// marked cancelled and the outcome fails with domain.ErrInstanceCancelled.
func (e *Engine) Cancel(processInstanceID string) error {
	inst, ok := e.Instance(processInstanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, processInstanceID)
	}
	inst.root.fail(domain.ErrInstanceCancelled)
	return nil
}

// ErrInstanceNotFound is returned for process instances that are not live in this engine.
var ErrInstanceNotFound = errors.New("process instance not live")

// ErrInstanceExists is returned when starting an instance id that is already live.
var ErrInstanceExists = errors.New("process instance already live")

func (e *Engine) register(id, processModelID, correlationID string) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.instances[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, id)
	}
	inst := newInstance(id, processModelID, correlationID)
	e.instances[id] = inst
	return inst, nil
}

// finish records the outcome of inst and publishes it.
func (e *Engine) finish(inst *Instance, out *Outcome) {
	if !inst.complete(out) {
		return
	}
	e.mu.Lock()
	delete(e.instances, inst.ID)
	e.mu.Unlock()

	if inst.unlock != nil {
		if err := inst.unlock(context.Background()); err != nil {
			e.logger.Warn("failed to release instance lock", "process_instance_id", inst.ID, "error", err)
		}
	}

	n := domain.Notification{
		ProcessModelID:    inst.ProcessModelID,
		ProcessInstanceID: inst.ID,
		CorrelationID:     inst.CorrelationID,
		Payload:           out.Token.Payload,
		Timestamp:         e.now(),
	}
	topic := domain.TopicProcessEnded
	log := e.logger.With("process_instance_id", inst.ID, "process_model_id", inst.ProcessModelID)
	if out.Err != nil {
		topic = domain.TopicProcessFailed
		n.Error = out.Err.Error()
		n.ErrorCode = domain.ErrorCodeOf(out.Err)
		log.Warn("process instance failed", "error", out.Err)
	} else {
		log.Info("process instance completed")
	}
	if err := e.notifier.Publish(context.Background(), topic, n); err != nil {
		log.Warn("failed to publish process outcome", "error", err)
	}
}

// SendMessage publishes a named message to every instance waiting for it.
func (e *Engine) SendMessage(ctx context.Context, name string, payload any) error {
	return e.notifier.Publish(ctx, domain.MessageTopic(name), domain.Notification{Payload: payload, Timestamp: e.now()})
}

// SendSignal broadcasts a named signal.
func (e *Engine) SendSignal(ctx context.Context, name string, payload any) error {
	return e.notifier.Publish(ctx, domain.SignalTopic(name), domain.Notification{Payload: payload, Timestamp: e.now()})
}

// FinishUserTask completes a suspended user task with the submitted payload.
func (e *Engine) FinishUserTask(ctx context.Context, flowNodeInstanceID string, payload any) error {
	inst, err := e.suspendedUserTask(ctx, flowNodeInstanceID)
	if err != nil {
		return err
	}
	return e.notifier.Publish(ctx, domain.UserTaskFinishTopic(flowNodeInstanceID), domain.Notification{
		ProcessInstanceID:  inst.ProcessInstanceID,
		FlowNodeInstanceID: inst.ID,
		Payload:            payload,
		Timestamp:          e.now(),
	})
}

// FailUserTask finishes a suspended user task with a business error that an
// error boundary event can catch by code.
func (e *Engine) FailUserTask(ctx context.Context, flowNodeInstanceID, code, message string) error {
	inst, err := e.suspendedUserTask(ctx, flowNodeInstanceID)
	if err != nil {
		return err
	}
	if message == "" {
		message = "user task failed"
	}
	return e.notifier.Publish(ctx, domain.UserTaskFinishTopic(flowNodeInstanceID), domain.Notification{
		ProcessInstanceID:  inst.ProcessInstanceID,
		FlowNodeInstanceID: inst.ID,
		Error:              message,
		ErrorCode:          code,
		Timestamp:          e.now(),
	})
}

func (e *Engine) suspendedUserTask(ctx context.Context, flowNodeInstanceID string) (*domain.FlowNodeInstance, error) {
	inst, err := e.repo.GetByID(ctx, flowNodeInstanceID)
	if err != nil {
		return nil, err
	}
	if inst.FlowNodeKind != domain.KindUserTask || inst.State != domain.StateSuspended {
		return nil, fmt.Errorf("%w: %s is a %s in state %s, not a suspended user task",
			domain.ErrInvalidTransition, inst.ID, inst.FlowNodeKind, inst.State)
	}
	return inst, nil
}

// SuspendedUserTasks lists the user tasks waiting for completion in a model.
func (e *Engine) SuspendedUserTasks(ctx context.Context, processModelID string) ([]*domain.FlowNodeInstance, error) {
	all, err := e.repo.QuerySuspendedByProcessModel(ctx, processModelID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, inst := range all {
		if inst.FlowNodeKind == domain.KindUserTask {
			out = append(out, inst)
		}
	}
	return out, nil
}
