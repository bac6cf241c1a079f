package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed classification assigned to a step failure. It is
// set once, when the step fails, and never changes afterwards.
type ErrorKind string

const (
	// KindToolError covers failures raised by a tool implementation.
	KindToolError ErrorKind = "tool_error"
	// KindKnowledgeGap covers failures caused by missing information.
	KindKnowledgeGap ErrorKind = "knowledge_gap"
	// KindReasoningError covers logically inconsistent model output.
	KindReasoningError ErrorKind = "reasoning_error"
	// KindAPIError covers upstream provider and network failures.
	KindAPIError ErrorKind = "api_error"
	// KindPermissionError covers authorization and access failures.
	KindPermissionError ErrorKind = "permission_error"
	// KindDataError covers malformed or missing input data.
	KindDataError ErrorKind = "data_error"
	// KindSystemError covers resource exhaustion and environment failures.
	KindSystemError ErrorKind = "system_error"
	// KindUnknown is the fallback when no other kind matches.
	KindUnknown ErrorKind = "unknown"
)

// StepError records why a step failed: the classified kind, the message the
// classification was derived from, and the raw underlying error.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step error [%s]: %s", e.Kind, e.Message)
}

// Unwrap exposes the raw failure for errors.Is / errors.As chains.
func (e *StepError) Unwrap() error { return e.Cause }

// NewStepError wraps a raw failure with its classified kind.
func NewStepError(kind ErrorKind, cause error) *StepError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &StepError{Kind: kind, Message: msg, Cause: cause}
}

// Engine-level failures. These propagate to the caller as hard errors,
// unlike step failures which are recorded on the step and reported in the
// result.
var (
	// ErrDuplicateStep is returned when a step ID is added twice.
	ErrDuplicateStep = errors.New("duplicate step id")
	// ErrStepNotFound is returned when a step ID is unknown to the graph.
	ErrStepNotFound = errors.New("step not found")
	// ErrStepTerminal is returned on an attempt to transition a step out of a terminal status.
	ErrStepTerminal = errors.New("step is in a terminal status")
	// ErrUnknownDependency is returned when a step depends on an ID not in the graph.
	ErrUnknownDependency = errors.New("dependency references unknown step")
	// ErrGraphCycle is returned when the dependency relation contains a cycle.
	ErrGraphCycle = errors.New("cycle detected in step dependencies")
	// ErrGraphDeadlock is returned when pending steps remain but none can become ready.
	ErrGraphDeadlock = errors.New("graph deadlocked with pending steps remaining")
	// ErrGraphTimeout is returned when the overall execution deadline elapses.
	ErrGraphTimeout = errors.New("graph execution timed out")
)
