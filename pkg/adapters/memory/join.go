package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
)

// lockEntry holds the per-split mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// JoinStore implements ports.JoinStore in memory.
// Each split is guarded by its own mutex; entries are reference counted so
// unused locks are garbage collected.
type JoinStore struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	data  sync.Map // splitID -> *ports.JoinState
}

// NewJoinStore creates an empty in-memory join store.
func NewJoinStore() *JoinStore {
	return &JoinStore{locks: make(map[string]*lockEntry)}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock entry.mu, and then call release(splitID) after unlocking.
func (s *JoinStore) acquire(splitID string) *lockEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[splitID]
	if !exists {
		entry = &lockEntry{}
		s.locks[splitID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (s *JoinStore) release(splitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.locks[splitID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(s.locks, splitID)
	}
}

// withLock runs fn holding the split lock.
func (s *JoinStore) withLock(splitID string, fn func() error) error {
	entry := s.acquire(splitID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		s.release(splitID)
	}()
	return fn()
}

func (s *JoinStore) Register(ctx context.Context, state *ports.JoinState) error {
	cp, err := clone(state)
	if err != nil {
		return fmt.Errorf("failed to copy join state: %w", err)
	}
	return s.withLock(state.SplitID, func() error {
		s.data.Store(state.SplitID, cp)
		return nil
	})
}

func (s *JoinStore) update(splitID string, fn func(*ports.JoinState) (bool, error)) (*ports.JoinState, bool, error) {
	var (
		out  *ports.JoinState
		done bool
	)
	err := s.withLock(splitID, func() error {
		v, ok := s.data.Load(splitID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrJoinNotFound, splitID)
		}
		st := v.(*ports.JoinState)
		var err error
		if done, err = fn(st); err != nil {
			return err
		}
		out, err = clone(st)
		return err
	})
	return out, done, err
}

func (s *JoinStore) Arrive(ctx context.Context, splitID, joinNodeID string, a ports.JoinArrival) (*ports.JoinState, bool, error) {
	a, err := clone(a)
	if err != nil {
		return nil, false, err
	}
	return s.update(splitID, func(st *ports.JoinState) (bool, error) {
		return st.ApplyArrival(joinNodeID, a)
	})
}

func (s *JoinStore) Release(ctx context.Context, splitID, branchID string) (*ports.JoinState, bool, error) {
	return s.update(splitID, func(st *ports.JoinState) (bool, error) {
		return st.ApplyRelease(branchID), nil
	})
}

func (s *JoinStore) Get(ctx context.Context, splitID string) (*ports.JoinState, error) {
	st, _, err := s.update(splitID, func(*ports.JoinState) (bool, error) { return false, nil })
	return st, err
}

func (s *JoinStore) Delete(ctx context.Context, splitID string) error {
	return s.withLock(splitID, func() error {
		s.data.Delete(splitID)
		return nil
	})
}
