package runtime

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// suspensions tracks how to cancel every suspended flow node instance of a scope.
type suspensions struct {
	logger *slog.Logger

	mu     sync.Mutex
	cancel map[string]func(context.Context) error
	closed bool
}

func newSuspensions(logger *slog.Logger) *suspensions {
	return &suspensions{logger: logger, cancel: make(map[string]func(context.Context) error)}
}

func (s *suspensions) Track(id string, cancel func(context.Context) error) {
	s.mu.Lock()
	if !s.closed {
		s.cancel[id] = cancel
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// The scope already ended; nothing will ever resume this instance.
	if err := cancel(context.Background()); err != nil {
		s.logger.Error("failed to cancel flow node suspended after its scope ended",
			"flow_node_instance_id", id, "error", err)
	}
}

func (s *suspensions) Untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancel, id)
}

func (s *suspensions) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	cancel, ok := s.cancel[id]
	delete(s.cancel, id)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, cancel(ctx)
}

// Len is the number of tracked suspensions.
func (s *suspensions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancel)
}

// CancelAll cancels every tracked suspension and refuses new ones.
func (s *suspensions) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	pending := s.cancel
	s.cancel = make(map[string]func(context.Context) error)
	s.closed = true
	s.mu.Unlock()

	var err error
	for _, cancel := range pending {
		err = multierr.Append(err, cancel(ctx))
	}
	return err
}
