package domain

import "time"

// FlowNodeKind is the closed set of BPMN element types the engine can execute.
type FlowNodeKind string

const (
	KindStartEvent             FlowNodeKind = "startEvent"
	KindEndEvent               FlowNodeKind = "endEvent"
	KindExclusiveGateway       FlowNodeKind = "exclusiveGateway"
	KindParallelGateway        FlowNodeKind = "parallelGateway"
	KindScriptTask             FlowNodeKind = "scriptTask"
	KindServiceTask            FlowNodeKind = "serviceTask"
	KindUserTask               FlowNodeKind = "userTask"
	KindSendTask               FlowNodeKind = "sendTask"
	KindReceiveTask            FlowNodeKind = "receiveTask"
	KindIntermediateCatchEvent FlowNodeKind = "intermediateCatchEvent"
	KindIntermediateThrowEvent FlowNodeKind = "intermediateThrowEvent"
	KindBoundaryEvent          FlowNodeKind = "boundaryEvent"
	KindSubProcess             FlowNodeKind = "subProcess"
)

// IsEvent reports whether nodes of this kind may carry an EventDefinition.
func (k FlowNodeKind) IsEvent() bool {
	switch k {
	case KindStartEvent, KindEndEvent, KindIntermediateCatchEvent,
		KindIntermediateThrowEvent, KindBoundaryEvent:
		return true
	}
	return false
}

// EventDefinitionKind is the sub-variant of an event node.
type EventDefinitionKind string

const (
	EventNone    EventDefinitionKind = "none"
	EventMessage EventDefinitionKind = "message"
	EventSignal  EventDefinitionKind = "signal"
	EventTimer   EventDefinitionKind = "timer"
	EventLink    EventDefinitionKind = "link"
	EventError   EventDefinitionKind = "error"
)

// TimerDefinition describes when a timer event fires.
// Exactly one of Duration or Date is expected to be set.
type TimerDefinition struct {
	// Duration accepts Go durations ("1m30s") and ISO-8601 durations ("PT1M30S").
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	// Date is an absolute RFC3339 timestamp.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`
}

// EventDefinition qualifies an event node.
type EventDefinition struct {
	Kind EventDefinitionKind `json:"kind" yaml:"kind"`

	// Name is the message, signal or link name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// ErrorCode is used by error end events and error boundary events.
	// An empty code on a boundary event catches every error.
	ErrorCode string `json:"error_code,omitempty" yaml:"error_code,omitempty"`

	// ErrorMessage is attached to errors raised by error end events.
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`

	Timer *TimerDefinition `json:"timer,omitempty" yaml:"timer,omitempty"`
}

// FlowNode is one node of a process graph: a task, a gateway or an event.
type FlowNode struct {
	ID   string       `json:"id" yaml:"id"`
	Name string       `json:"name,omitempty" yaml:"name,omitempty"`
	Kind FlowNodeKind `json:"kind" yaml:"kind"`

	// Event is only meaningful for event kinds. A nil definition on an event
	// node is treated as EventNone.
	Event *EventDefinition `json:"event,omitempty" yaml:"event,omitempty"`

	Incoming []string `json:"incoming,omitempty" yaml:"incoming,omitempty"`
	Outgoing []string `json:"outgoing,omitempty" yaml:"outgoing,omitempty"`

	// DefaultFlow is the sequence flow taken by an exclusive gateway when no
	// condition holds.
	DefaultFlow string `json:"default_flow,omitempty" yaml:"default_flow,omitempty"`

	// Script holds the expression evaluated by a script task.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// AttachedTo is the id of the activity a boundary event is attached to.
	AttachedTo string `json:"attached_to,omitempty" yaml:"attached_to,omitempty"`

	// CancelActivity marks an interrupting boundary event. Nil means true.
	CancelActivity *bool `json:"cancel_activity,omitempty" yaml:"cancel_activity,omitempty"`

	Lane string `json:"lane,omitempty" yaml:"lane,omitempty"`

	// Extensions holds vendor properties such as service bindings or UI hints.
	Extensions map[string]any `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// SubProcess is the embedded graph of a sub process node.
	SubProcess *ProcessModel `json:"sub_process,omitempty" yaml:"sub_process,omitempty"`
}

// EventKind returns the event sub-variant, defaulting to EventNone.
func (n *FlowNode) EventKind() EventDefinitionKind {
	if n.Event == nil || n.Event.Kind == "" {
		return EventNone
	}
	return n.Event.Kind
}

// EventName returns the message, signal or link name of an event node.
func (n *FlowNode) EventName() string {
	if n.Event == nil {
		return ""
	}
	return n.Event.Name
}

// Interrupting reports whether a boundary event cancels the activity it is attached to.
func (n *FlowNode) Interrupting() bool {
	return n.CancelActivity == nil || *n.CancelActivity
}

// Label is a human readable identifier used in logs and errors.
func (n *FlowNode) Label() string {
	if n.Name != "" {
		return n.Name + " (" + n.ID + ")"
	}
	return n.ID
}

// Extension returns the raw extension property stored under key.
func (n *FlowNode) Extension(key string) (any, bool) {
	if n.Extensions == nil {
		return nil, false
	}
	v, ok := n.Extensions[key]
	return v, ok
}

// TimerDelay resolves the delay of a timer definition relative to now.
// Dates in the past yield a zero delay.
func (t *TimerDefinition) TimerDelay(now time.Time) (time.Duration, error) {
	if t == nil {
		return 0, ErrMissingTimerDefinition
	}
	if t.Date != "" {
		at, err := time.Parse(time.RFC3339, t.Date)
		if err != nil {
			return 0, err
		}
		if d := at.Sub(now); d > 0 {
			return d, nil
		}
		return 0, nil
	}
	return ParseDuration(t.Duration)
}
