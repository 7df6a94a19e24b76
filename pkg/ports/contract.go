package ports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFlowNodeInstanceRepositoryContract verifies that a FlowNodeInstanceRepository
// implementation adheres to the interface contract.
func RunFlowNodeInstanceRepositoryContract(t *testing.T, repo FlowNodeInstanceRepository) {
	ctx := context.Background()
	run := uuid.NewString()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := func(id, correlation, model, instance string, offset time.Duration) *domain.FlowNodeInstance {
		return &domain.FlowNodeInstance{
			ID:                id,
			FlowNodeID:        "node-" + id,
			FlowNodeKind:      domain.KindUserTask,
			ProcessModelID:    model,
			ProcessInstanceID: instance,
			CorrelationID:     correlation,
			Identity:          domain.Identity{UserID: "alice"},
			Token: domain.ProcessToken{
				ProcessInstanceID: instance,
				ProcessModelID:    model,
				CorrelationID:     correlation,
				Payload:           map[string]any{"step": id},
			},
			EnteredAt: base.Add(offset),
		}
	}

	t.Run("Enter and Get", func(t *testing.T) {
		id := run + "-enter"
		require.NoError(t, repo.PersistOnEnter(ctx, record(id, "c", "m", "p", 0)))

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, got.State)
		assert.Equal(t, "node-"+id, got.FlowNodeID)
		assert.Equal(t, "alice", got.Identity.UserID)
		assert.Equal(t, map[string]any{"step": id}, got.Token.Payload)

		err = repo.PersistOnEnter(ctx, record(id, "c", "m", "p", 0))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "entering twice must be rejected")
	})

	t.Run("Unknown id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, run+"-missing")
		assert.ErrorIs(t, err, domain.ErrFlowNodeInstanceNotFound)

		err = repo.PersistOnExit(ctx, run+"-missing", domain.ProcessToken{})
		assert.ErrorIs(t, err, domain.ErrFlowNodeInstanceNotFound)
	})

	t.Run("Suspend Resume Exit", func(t *testing.T) {
		id := run + "-lifecycle"
		rec := record(id, "c", "m", "p", 0)
		require.NoError(t, repo.PersistOnEnter(ctx, rec))
		require.NoError(t, repo.PersistOnSuspend(ctx, id, rec.Token))

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateSuspended, got.State)
		assert.False(t, got.SuspendedAt.IsZero())

		require.NoError(t, repo.PersistOnResume(ctx, id, rec.Token))
		done := rec.Token
		done.Payload = map[string]any{"approved": true}
		require.NoError(t, repo.PersistOnExit(ctx, id, done))

		got, err = repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateFinished, got.State)
		assert.Equal(t, map[string]any{"approved": true}, got.Token.Payload)
		assert.False(t, got.ResumedAt.IsZero())
		assert.False(t, got.ExitedAt.IsZero())

		assert.ErrorIs(t, repo.PersistOnExit(ctx, id, done), domain.ErrInvalidTransition)
		assert.ErrorIs(t, repo.PersistOnCancel(ctx, id, done), domain.ErrInvalidTransition)
	})

	t.Run("Error keeps the cause", func(t *testing.T) {
		id := run + "-error"
		rec := record(id, "c", "m", "p", 0)
		require.NoError(t, repo.PersistOnEnter(ctx, rec))
		require.NoError(t, repo.PersistOnError(ctx, id, rec.Token, errors.New("service unavailable")))

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateError, got.State)
		assert.Equal(t, "service unavailable", got.Error)
	})

	t.Run("Cancel suspended", func(t *testing.T) {
		id := run + "-cancel"
		rec := record(id, "c", "m", "p", 0)
		require.NoError(t, repo.PersistOnEnter(ctx, rec))
		require.NoError(t, repo.PersistOnSuspend(ctx, id, rec.Token))
		require.NoError(t, repo.PersistOnCancel(ctx, id, rec.Token))

		got, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCancelled, got.State)
		assert.ErrorIs(t, repo.PersistOnResume(ctx, id, rec.Token), domain.ErrInvalidTransition)
	})

	t.Run("Queries", func(t *testing.T) {
		model := run + "-model"
		correlation := run + "-corr"
		instance := run + "-pi"

		// Entered out of order on purpose: results are sorted by EnteredAt.
		ids := []string{run + "-q3", run + "-q1", run + "-q2"}
		offsets := []time.Duration{3 * time.Second, time.Second, 2 * time.Second}
		for i, id := range ids {
			require.NoError(t, repo.PersistOnEnter(ctx, record(id, correlation, model, instance, offsets[i])))
		}
		require.NoError(t, repo.PersistOnSuspend(ctx, run+"-q2", domain.ProcessToken{}))
		require.NoError(t, repo.PersistOnExit(ctx, run+"-q1", domain.ProcessToken{}))

		other := record(run+"-other", run+"-corr2", run+"-model2", run+"-pi2", 0)
		require.NoError(t, repo.PersistOnEnter(ctx, other))
		require.NoError(t, repo.PersistOnSuspend(ctx, other.ID, other.Token))

		want := []string{run + "-q1", run + "-q2", run + "-q3"}

		byModel, err := repo.QueryByProcessModel(ctx, model)
		require.NoError(t, err)
		assert.Equal(t, want, instanceIDs(byModel))

		byCorrelation, err := repo.QueryByCorrelation(ctx, correlation)
		require.NoError(t, err)
		assert.Equal(t, want, instanceIDs(byCorrelation))

		byInstance, err := repo.QueryByProcessInstance(ctx, instance)
		require.NoError(t, err)
		assert.Equal(t, want, instanceIDs(byInstance))

		suspended, err := repo.QuerySuspendedByProcessModel(ctx, model)
		require.NoError(t, err)
		assert.Equal(t, []string{run + "-q2"}, instanceIDs(suspended))

		suspended, err = repo.QuerySuspendedByCorrelation(ctx, correlation)
		require.NoError(t, err)
		assert.Equal(t, []string{run + "-q2"}, instanceIDs(suspended))

		none, err := repo.QueryByProcessModel(ctx, run+"-nothing")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func instanceIDs(list []*domain.FlowNodeInstance) []string {
	ids := make([]string, 0, len(list))
	for _, inst := range list {
		ids = append(ids, inst.ID)
	}
	return ids
}

// RunJoinStoreContract verifies that a JoinStore implementation adheres to the
// interface contract, including atomic completion under concurrent arrivals.
func RunJoinStoreContract(t *testing.T, store JoinStore) {
	ctx := context.Background()
	run := uuid.NewString()

	register := func(t *testing.T, splitID string, branches int) {
		t.Helper()
		require.NoError(t, store.Register(ctx, &JoinState{
			SplitID:           splitID,
			ProcessInstanceID: run,
			Branches:          branches,
			Parent:            domain.ProcessToken{ProcessInstanceID: run, Payload: map[string]any{"origin": "split"}},
		}))
	}
	arrival := func(branch string) JoinArrival {
		return JoinArrival{
			BranchID:           branch,
			FlowNodeInstanceID: "fni-" + branch,
			Token:              domain.ProcessToken{ProcessInstanceID: run, BranchID: branch},
		}
	}

	t.Run("Completes once after all branches", func(t *testing.T) {
		split := run + "-three"
		register(t, split, 3)

		st, done, err := store.Arrive(ctx, split, "join", arrival("A"))
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 2, st.Pending())

		_, done, err = store.Arrive(ctx, split, "join", arrival("B"))
		require.NoError(t, err)
		assert.False(t, done)

		st, done, err = store.Arrive(ctx, split, "join", arrival("A"))
		require.NoError(t, err)
		assert.False(t, done, "duplicate arrival must be ignored")
		assert.Len(t, st.Arrivals, 2)

		st, done, err = store.Arrive(ctx, split, "join", arrival("C"))
		require.NoError(t, err)
		assert.True(t, done)
		assert.True(t, st.Completed)
		assert.Len(t, st.Arrivals, 3)
		assert.Equal(t, map[string]any{"origin": "split"}, st.Parent.Payload)

		_, done, err = store.Arrive(ctx, split, "join", arrival("D"))
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("Release shrinks the live set", func(t *testing.T) {
		split := run + "-release"
		register(t, split, 3)

		_, done, err := store.Arrive(ctx, split, "join", arrival("A"))
		require.NoError(t, err)
		assert.False(t, done)

		st, done, err := store.Release(ctx, split, "B")
		require.NoError(t, err)
		assert.False(t, done)
		assert.Equal(t, 2, st.Live())

		_, done, err = store.Release(ctx, split, "A")
		require.NoError(t, err)
		assert.False(t, done, "an arrived branch cannot be released")

		st, done, err = store.Arrive(ctx, split, "join", arrival("C"))
		require.NoError(t, err)
		assert.True(t, done)
		assert.Len(t, st.Arrivals, 2)
	})

	t.Run("Release can complete the join", func(t *testing.T) {
		split := run + "-release-completes"
		register(t, split, 2)

		_, _, err := store.Arrive(ctx, split, "join", arrival("A"))
		require.NoError(t, err)
		st, done, err := store.Release(ctx, split, "B")
		require.NoError(t, err)
		assert.True(t, done)
		assert.Equal(t, "join", st.JoinNodeID)
	})

	t.Run("Drained", func(t *testing.T) {
		split := run + "-drained"
		register(t, split, 2)

		_, done, err := store.Release(ctx, split, "A")
		require.NoError(t, err)
		assert.False(t, done)
		st, done, err := store.Release(ctx, split, "B")
		require.NoError(t, err)
		assert.False(t, done)
		assert.True(t, st.Drained())
	})

	t.Run("Concurrent arrivals", func(t *testing.T) {
		split := run + "-concurrent"
		const branches = 16
		register(t, split, branches)

		var completions atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < branches; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, done, err := store.Arrive(ctx, split, "join", arrival(fmt.Sprintf("b%d", i)))
				assert.NoError(t, err)
				if done {
					completions.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), completions.Load())

		st, err := store.Get(ctx, split)
		require.NoError(t, err)
		assert.Len(t, st.Arrivals, branches)
	})

	t.Run("Unknown and Delete", func(t *testing.T) {
		_, err := store.Get(ctx, run+"-missing")
		assert.ErrorIs(t, err, domain.ErrJoinNotFound)
		_, _, err = store.Arrive(ctx, run+"-missing", "join", arrival("A"))
		assert.ErrorIs(t, err, domain.ErrJoinNotFound)

		split := run + "-delete"
		register(t, split, 1)
		require.NoError(t, store.Delete(ctx, split))
		_, err = store.Get(ctx, split)
		assert.ErrorIs(t, err, domain.ErrJoinNotFound)
	})
}
