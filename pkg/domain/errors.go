package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFlowNodeInstanceNotFound is returned when a flow node instance id is unknown to the repository.
	ErrFlowNodeInstanceNotFound = errors.New("flow node instance not found")

	// ErrProcessModelNotFound is returned by model providers for unknown model ids.
	ErrProcessModelNotFound = errors.New("process model not found")

	// ErrInvalidTransition is returned when a lifecycle transition is not allowed.
	ErrInvalidTransition = errors.New("invalid flow node instance transition")

	// ErrInstanceCancelled is the cause attached to contexts of cancelled scopes.
	ErrInstanceCancelled = errors.New("process instance cancelled")

	// ErrMissingTimerDefinition is returned when a timer event has neither a duration nor a date.
	ErrMissingTimerDefinition = errors.New("missing timer definition")

	// ErrJoinNotFound is returned by join stores for unknown split ids.
	ErrJoinNotFound = errors.New("join record not found")
)

// ModelValidationError reports a structural problem with the process model
// discovered while executing (or validating) a node.
type ModelValidationError struct {
	FlowNodeID string
	Reason     string
}

func (e *ModelValidationError) Error() string {
	if e.FlowNodeID == "" {
		return "model validation: " + e.Reason
	}
	return fmt.Sprintf("model validation at %q: %s", e.FlowNodeID, e.Reason)
}

// NewModelValidationError is a shorthand used across handlers.
func NewModelValidationError(flowNodeID, format string, args ...any) error {
	return &ModelValidationError{FlowNodeID: flowNodeID, Reason: fmt.Sprintf(format, args...)}
}

// ScriptEvaluationError wraps an expression failure attributed to a node.
type ScriptEvaluationError struct {
	FlowNodeID string
	Expression string
	Err        error
}

func (e *ScriptEvaluationError) Error() string {
	return fmt.Sprintf("evaluating %q at %q: %v", e.Expression, e.FlowNodeID, e.Err)
}

func (e *ScriptEvaluationError) Unwrap() error { return e.Err }

// BPMNError is a business error with a code. It is raised by error end
// events and coded service failures, and caught by error boundary events.
type BPMNError struct {
	Code    string
	Name    string
	Message string
}

func (e *BPMNError) Error() string {
	msg := "bpmn error " + e.Code
	if e.Name != "" {
		msg += " (" + e.Name + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// ErrorCode returns the business code of the error.
func (e *BPMNError) ErrorCode() string { return e.Code }

// ServiceInvocationError wraps a failure returned by a service task module.
type ServiceInvocationError struct {
	FlowNodeID string
	Module     string
	Method     string
	Code       string
	Err        error
}

func (e *ServiceInvocationError) Error() string {
	return fmt.Sprintf("service %s.%s at %q: %v", e.Module, e.Method, e.FlowNodeID, e.Err)
}

func (e *ServiceInvocationError) Unwrap() error { return e.Err }

// ErrorCode returns the code of the failure, falling back to a wrapped coded error.
func (e *ServiceInvocationError) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return ErrorCodeOf(e.Err)
}

// InvalidTransitionError carries the offending states. It matches ErrInvalidTransition.
type InvalidTransitionError struct {
	FlowNodeInstanceID string
	From               FlowNodeInstanceState
	To                 FlowNodeInstanceState
}

func (e *InvalidTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("%s: %s -> %s (%s)", ErrInvalidTransition, from, e.To, e.FlowNodeInstanceID)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// CodedError is implemented by errors that an error boundary event can match by code.
type CodedError interface {
	error
	ErrorCode() string
}

// ErrorCodeOf returns the business code carried by err, or "" if none.
func ErrorCodeOf(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
