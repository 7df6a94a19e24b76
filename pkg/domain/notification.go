package domain

import "time"

// Notification is the envelope published on the notification channel.
type Notification struct {
	Topic              string    `json:"topic"`
	ProcessModelID     string    `json:"process_model_id,omitempty"`
	ProcessInstanceID  string    `json:"process_instance_id,omitempty"`
	CorrelationID      string    `json:"correlation_id,omitempty"`
	FlowNodeID         string    `json:"flow_node_id,omitempty"`
	FlowNodeInstanceID string    `json:"flow_node_instance_id,omitempty"`
	Payload            any       `json:"payload,omitempty"`
	Error              string    `json:"error,omitempty"`
	ErrorCode          string    `json:"error_code,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Well-known topics.
const (
	TopicProcessStarted           = "process_started"
	TopicProcessEnded             = "process_ended"
	TopicProcessFailed            = "process_failed"
	TopicEndEventReached          = "end_event_reached"
	TopicIntermediateEventReached = "intermediate_event_reached"
	TopicUserTaskWaiting          = "user_task_waiting"
	TopicUserTaskDone             = "user_task_finished"
)

// MessageTopic is the topic of a named BPMN message.
func MessageTopic(name string) string { return "message:" + name }

// MessageReplyTopic is the topic a receive task acknowledges a message on.
func MessageReplyTopic(name string) string { return "message_reply:" + name }

// SignalTopic is the topic of a named BPMN signal.
func SignalTopic(name string) string { return "signal:" + name }

// UserTaskFinishTopic is the topic a suspended user task instance listens on.
func UserTaskFinishTopic(flowNodeInstanceID string) string {
	return "user_task_finish:" + flowNodeInstanceID
}
