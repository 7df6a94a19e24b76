// Package timer schedules timer events on top of linger.
package timer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/processengine/internal/logging"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/dogmatiq/linger"
)

const (
	pending int32 = iota
	fired
	disposed
)

// Service implements ports.TimerService. Each scheduled timer is a goroutine
// sleeping until its delay elapses; disposing it cancels the sleep.
type Service struct {
	logger *slog.Logger
	active atomic.Int64
}

// Option configures the Service.
type Option func(*Service)

// WithLogger configures a logger for timer events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a timer service.
func New(opts ...Option) *Service {
	s := &Service{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type handle struct {
	state  atomic.Int32
	cancel context.CancelFunc
}

func (h *handle) Dispose() {
	if h.state.CompareAndSwap(pending, disposed) {
		h.cancel()
	}
}

// Schedule calls fire once after d. A non-positive d fires immediately (on
// a separate goroutine).
func (s *Service) Schedule(ctx context.Context, d time.Duration, fire func()) ports.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}
	s.active.Add(1)

	go func() {
		defer s.active.Add(-1)
		defer cancel()
		if err := sleep(ctx, d); err != nil {
			s.logger.Debug("timer cancelled", "delay", d)
			return
		}
		if h.state.CompareAndSwap(pending, fired) {
			s.logger.Debug("timer fired", "delay", d)
			fire()
		}
	}()
	return h
}

// Active returns the number of timers that have neither fired nor been cancelled.
func (s *Service) Active() int { return int(s.active.Load()) }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return linger.Sleep(ctx, d)
}
