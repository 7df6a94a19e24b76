package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// JoinStore implements ports.JoinStore using Redis. Arrivals and releases
// are applied in WATCH/MULTI transactions on the split key, so exactly one
// concurrent caller commits the completing update.
type JoinStore struct {
	client *backend.Client
	opts   options
}

// NewJoinStore creates a join store on an existing client.
func NewJoinStore(client *backend.Client, opts ...Option) *JoinStore {
	return &JoinStore{client: client, opts: newOptions(opts)}
}

func (s *JoinStore) key(splitID string) string {
	return s.opts.prefix + "join:" + splitID
}

func (s *JoinStore) Register(ctx context.Context, state *ports.JoinState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal join state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.SplitID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save join state: %w", err)
	}
	return nil
}

func (s *JoinStore) load(ctx context.Context, c backend.Cmdable, splitID string) (*ports.JoinState, error) {
	val, err := c.Get(ctx, s.key(splitID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJoinNotFound, splitID)
		}
		return nil, fmt.Errorf("failed to get join state: %w", err)
	}
	var st ports.JoinState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal join state: %w", err)
	}
	return &st, nil
}

func (s *JoinStore) update(ctx context.Context, splitID string, fn func(*ports.JoinState) (bool, error)) (*ports.JoinState, bool, error) {
	var (
		out  *ports.JoinState
		done bool
	)
	key := s.key(splitID)
	err := watch(ctx, s.client, s.opts, func(tx *backend.Tx) error {
		st, err := s.load(ctx, tx, splitID)
		if err != nil {
			return err
		}
		if done, err = fn(st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal join state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		out = st
		return err
	}, key)
	if err != nil {
		return nil, false, err
	}
	return out, done, nil
}

func (s *JoinStore) Arrive(ctx context.Context, splitID, joinNodeID string, a ports.JoinArrival) (*ports.JoinState, bool, error) {
	return s.update(ctx, splitID, func(st *ports.JoinState) (bool, error) {
		return st.ApplyArrival(joinNodeID, a)
	})
}

func (s *JoinStore) Release(ctx context.Context, splitID, branchID string) (*ports.JoinState, bool, error) {
	return s.update(ctx, splitID, func(st *ports.JoinState) (bool, error) {
		return st.ApplyRelease(branchID), nil
	})
}

func (s *JoinStore) Get(ctx context.Context, splitID string) (*ports.JoinState, error) {
	return s.load(ctx, s.client, splitID)
}

func (s *JoinStore) Delete(ctx context.Context, splitID string) error {
	return s.client.Del(ctx, s.key(splitID)).Err()
}
