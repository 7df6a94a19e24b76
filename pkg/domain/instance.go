package domain

import "time"

// FlowNodeInstanceState is the lifecycle state of one node execution.
type FlowNodeInstanceState string

const (
	StateRunning   FlowNodeInstanceState = "running"
	StateSuspended FlowNodeInstanceState = "suspended"
	StateFinished  FlowNodeInstanceState = "finished"
	StateError     FlowNodeInstanceState = "error"
	StateCancelled FlowNodeInstanceState = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s FlowNodeInstanceState) IsTerminal() bool {
	return s == StateFinished || s == StateError || s == StateCancelled
}

// CanTransition validates a lifecycle transition. The empty state stands for
// "not persisted yet" and may only move to running.
func CanTransition(from, to FlowNodeInstanceState) bool {
	switch from {
	case "":
		return to == StateRunning
	case StateRunning:
		return to == StateSuspended || to.IsTerminal()
	case StateSuspended:
		return to == StateRunning || to == StateCancelled || to == StateError
	}
	return false
}

// FlowNodeInstance is the durable record of one node execution.
type FlowNodeInstance struct {
	ID           string       `json:"id"`
	FlowNodeID   string       `json:"flow_node_id"`
	FlowNodeKind FlowNodeKind `json:"flow_node_kind"`

	ProcessModelID    string `json:"process_model_id"`
	ProcessInstanceID string `json:"process_instance_id"`
	CorrelationID     string `json:"correlation_id"`

	PreviousFlowNodeInstanceID string `json:"previous_flow_node_instance_id,omitempty"`
	// ParentFlowNodeInstanceID is the sub process instance owning this record.
	ParentFlowNodeInstanceID string `json:"parent_flow_node_instance_id,omitempty"`

	Identity Identity     `json:"identity"`
	Token    ProcessToken `json:"token"`

	State FlowNodeInstanceState `json:"state"`
	Error string                `json:"error,omitempty"`

	EnteredAt   time.Time `json:"entered_at"`
	ExitedAt    time.Time `json:"exited_at,omitempty"`
	SuspendedAt time.Time `json:"suspended_at,omitempty"`
	ResumedAt   time.Time `json:"resumed_at,omitempty"`
}

// Transition describes one persisted lifecycle change. Adapters receive it
// from the PersistOn* calls and apply it to their stored record.
type Transition struct {
	FlowNodeInstanceID string
	To                 FlowNodeInstanceState
	Token              ProcessToken
	Err                error
	At                 time.Time
}

// Apply validates and applies the transition to inst.
func (t Transition) Apply(inst *FlowNodeInstance) error {
	if !CanTransition(inst.State, t.To) {
		return &InvalidTransitionError{
			FlowNodeInstanceID: inst.ID,
			From:               inst.State,
			To:                 t.To,
		}
	}
	inst.State = t.To
	if t.Token.ProcessInstanceID != "" {
		inst.Token = t.Token
	}
	switch t.To {
	case StateSuspended:
		inst.SuspendedAt = t.At
	case StateRunning:
		inst.ResumedAt = t.At
	default:
		inst.ExitedAt = t.At
	}
	if t.Err != nil {
		inst.Error = t.Err.Error()
	}
	return nil
}
