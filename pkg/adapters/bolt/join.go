package bolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"go.etcd.io/bbolt"
)

// JoinStore implements ports.JoinStore on bbolt. bbolt allows one write
// transaction at a time, so every update is atomic.
type JoinStore struct {
	db *bbolt.DB
}

// NewJoinStore creates the bucket the join store needs.
func NewJoinStore(db *bbolt.DB) (*JoinStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := createBucket(tx, joinsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create join bucket: %w", err)
	}
	return &JoinStore{db: db}, nil
}

func loadJoin(tx *bbolt.Tx, splitID string) (*ports.JoinState, error) {
	data := tx.Bucket(joinsBucket).Get([]byte(splitID))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrJoinNotFound, splitID)
	}
	var st ports.JoinState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal join state %s: %w", splitID, err)
	}
	return &st, nil
}

func saveJoin(tx *bbolt.Tx, st *ports.JoinState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal join state: %w", err)
	}
	return tx.Bucket(joinsBucket).Put([]byte(st.SplitID), data)
}

func (s *JoinStore) Register(ctx context.Context, state *ports.JoinState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return saveJoin(tx, state)
	})
}

func (s *JoinStore) update(splitID string, fn func(*ports.JoinState) (bool, error)) (*ports.JoinState, bool, error) {
	var (
		out  *ports.JoinState
		done bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		st, err := loadJoin(tx, splitID)
		if err != nil {
			return err
		}
		if done, err = fn(st); err != nil {
			return err
		}
		out = st
		return saveJoin(tx, st)
	})
	if err != nil {
		return nil, false, err
	}
	return out, done, nil
}

func (s *JoinStore) Arrive(ctx context.Context, splitID, joinNodeID string, a ports.JoinArrival) (*ports.JoinState, bool, error) {
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
	var st *ports.JoinState
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		st, err = loadJoin(tx, splitID)
		return err
	})
	return st, err
}

func (s *JoinStore) Delete(ctx context.Context, splitID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(joinsBucket).Delete([]byte(splitID))
	})
}
