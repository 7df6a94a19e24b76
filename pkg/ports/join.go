package ports

import (
	"context"

	"github.com/aretw0/processengine/pkg/domain"
)

// JoinArrival is one branch reaching the join gateway.
type JoinArrival struct {
	BranchID           string              `json:"branch_id"`
	FlowNodeInstanceID string              `json:"flow_node_instance_id"`
	Token              domain.ProcessToken `json:"token"`
}

// JoinState is the synchronization record of one parallel split.
// It is keyed by the flow node instance id of the split.
type JoinState struct {
	SplitID           string              `json:"split_id"`
	ProcessInstanceID string              `json:"process_instance_id"`
	Branches          int                 `json:"branches"`
	Parent            domain.ProcessToken `json:"parent"`

	// JoinNodeID is the join gateway the first arrival targeted.
	JoinNodeID string        `json:"join_node_id,omitempty"`
	Arrivals   []JoinArrival `json:"arrivals,omitempty"`
	// Released lists branches that terminated without reaching the join.
	Released  []string `json:"released,omitempty"`
	Completed bool     `json:"completed"`
}

// Live is the number of branches the join still waits for or has seen.
func (s *JoinState) Live() int { return s.Branches - len(s.Released) }

// Pending is the number of live branches that have not arrived yet.
func (s *JoinState) Pending() int { return s.Live() - len(s.Arrivals) }

func (s *JoinState) seen(branchID string) bool {
	for _, a := range s.Arrivals {
		if a.BranchID == branchID {
			return true
		}
	}
	for _, r := range s.Released {
		if r == branchID {
			return true
		}
	}
	return false
}

// ApplyArrival records an arrival. It reports true exactly once: when the
// arrival completes the join. Repeated arrivals of a branch are ignored.
// Adapters call it inside their atomic section.
func (s *JoinState) ApplyArrival(joinNodeID string, a JoinArrival) (bool, error) {
	if s.JoinNodeID != "" && s.JoinNodeID != joinNodeID {
		return false, domain.NewModelValidationError(joinNodeID,
			"branches of split %s reach different joins (%s)", s.SplitID, s.JoinNodeID)
	}
	if s.Completed || s.seen(a.BranchID) {
		return false, nil
	}
	s.JoinNodeID = joinNodeID
	s.Arrivals = append(s.Arrivals, a)
	return s.settle(), nil
}

// ApplyRelease removes a branch from the live set. It reports true when the
// release completes a join that already has arrivals.
func (s *JoinState) ApplyRelease(branchID string) bool {
	if s.Completed || s.seen(branchID) {
		return false
	}
	s.Released = append(s.Released, branchID)
	return s.settle()
}

func (s *JoinState) settle() bool {
	if s.Pending() > 0 {
		return false
	}
	s.Completed = true
	return len(s.Arrivals) > 0
}

// Drained reports whether every branch was released without any arrival.
func (s *JoinState) Drained() bool {
	return s.Completed && len(s.Arrivals) == 0
}

// JoinStore keeps JoinStates. Arrive and Release are atomic: under concurrent
// calls exactly one caller observes completion.
type JoinStore interface {
	Register(ctx context.Context, state *JoinState) error
	Arrive(ctx context.Context, splitID, joinNodeID string, a JoinArrival) (*JoinState, bool, error)
	Release(ctx context.Context, splitID, branchID string) (*JoinState, bool, error)
	// Get returns domain.ErrJoinNotFound for unknown splits.
	Get(ctx context.Context, splitID string) (*JoinState, error)
	Delete(ctx context.Context, splitID string) error
}
