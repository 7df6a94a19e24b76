package domain

// Identity is the opaque caller handle threaded through every handler call.
// The engine never interprets it beyond exposing it to expressions.
type Identity struct {
	UserID string            `json:"user_id,omitempty"`
	Token  string            `json:"token,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`
}

// ResultEntry is one element of the append-only result history.
type ResultEntry struct {
	FlowNodeID         string `json:"flow_node_id"`
	FlowNodeInstanceID string `json:"flow_node_instance_id"`
	Result             any    `json:"result,omitempty"`
}

// ProcessToken is the payload and history of one execution lineage.
type ProcessToken struct {
	ProcessInstanceID string `json:"process_instance_id"`
	ProcessModelID    string `json:"process_model_id"`
	CorrelationID     string `json:"correlation_id"`

	Payload any           `json:"payload,omitempty"`
	History []ResultEntry `json:"history,omitempty"`

	// BranchID identifies the lineage. Empty for the root lineage.
	BranchID string `json:"branch_id,omitempty"`
	// SplitID is the flow node instance id of the split that forked this lineage.
	SplitID string `json:"split_id,omitempty"`
	// BranchStart is the history length inherited from the parent at fork time.
	BranchStart int `json:"branch_start,omitempty"`
}
