package domain

// SequenceFlow connects two flow nodes.
type SequenceFlow struct {
	ID        string `json:"id" yaml:"id"`
	SourceRef string `json:"source" yaml:"source"`
	TargetRef string `json:"target" yaml:"target"`

	// Condition is a boolean expression over the token payload.
	// Empty means the flow is unconditional.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// ProcessModel is the immutable graph of one process definition version.
type ProcessModel struct {
	ID      string         `json:"id" yaml:"id"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes   []FlowNode     `json:"nodes" yaml:"nodes"`
	Flows   []SequenceFlow `json:"flows" yaml:"flows"`
}
