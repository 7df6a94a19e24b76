package ports_test

import (
	"errors"
	"testing"

	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinState_DifferentJoinNodes(t *testing.T) {
	st := &ports.JoinState{SplitID: "s", Branches: 2}
	done, err := st.ApplyArrival("join-1", ports.JoinArrival{BranchID: "a"})
	require.NoError(t, err)
	assert.False(t, done)

	_, err = st.ApplyArrival("join-2", ports.JoinArrival{BranchID: "b"})
	var mve *domain.ModelValidationError
	assert.True(t, errors.As(err, &mve))
}

func TestJoinState_SingleBranch(t *testing.T) {
	st := &ports.JoinState{SplitID: "s", Branches: 1}
	done, err := st.ApplyArrival("join", ports.JoinArrival{BranchID: "a"})
	require.NoError(t, err)
	assert.True(t, done)
	assert.False(t, st.Drained())
}
