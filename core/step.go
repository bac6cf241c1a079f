package core

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus tracks a step through its lifecycle. Terminal statuses
// (completed, failed, recovered) are final; a step never leaves them.
type StepStatus string

const (
	// StepPending means the step has not been dispatched yet.
	StepPending StepStatus = "pending"
	// StepInProgress means the step is currently executing.
	StepInProgress StepStatus = "in_progress"
	// StepCompleted means the step finished without error.
	StepCompleted StepStatus = "completed"
	// StepFailed means the step failed and all recovery was exhausted.
	StepFailed StepStatus = "failed"
	// StepRecovered means the step failed but a recovery strategy produced a result.
	StepRecovered StepStatus = "recovered"
)

// Terminal reports whether the status is final for the step.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepRecovered
}

// Successful reports whether the status satisfies downstream dependencies.
func (s StepStatus) Successful() bool {
	return s == StepCompleted || s == StepRecovered
}

// RecoveryRecord captures how a failed step was (or was not) recovered.
// One record per step; the chain updates it on every attempt so the final
// state reflects the last strategy tried.
type RecoveryRecord struct {
	Strategy string `json:"strategy"`
	Attempts int    `json:"attempts"`
	Success  bool   `json:"success"`
	Notes    string `json:"notes,omitempty"`
}

// Step is the smallest unit of executable work in a task graph.
//
// A step either names a tool (Tool + Input) or, when Tool is empty, is
// executed as a model completion built from its description and the outputs
// of its dependencies. DependsOn lists step IDs that must reach a successful
// terminal status before this step becomes ready.
type Step struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Tool  string         `json:"tool,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	DependsOn []string   `json:"depends_on,omitempty"`
	Status    StepStatus `json:"status"`

	Output   any             `json:"output,omitempty"`
	Err      *StepError      `json:"error,omitempty"`
	Recovery *RecoveryRecord `json:"recovery,omitempty"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// NewStep constructs a pending step with a generated ID.
func NewStep(name, description string) *Step {
	return &Step{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      StepPending,
	}
}

// WithTool sets the tool reference and input, returning the step for chaining.
func (s *Step) WithTool(tool string, input map[string]any) *Step {
	s.Tool = tool
	s.Input = input
	return s
}

// WithDependsOn appends dependency step IDs, returning the step for chaining.
func (s *Step) WithDependsOn(ids ...string) *Step {
	s.DependsOn = append(s.DependsOn, ids...)
	return s
}

// Duration returns the elapsed execution time, or zero if the step never ran.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy so callers cannot mutate graph-owned state.
func (s *Step) Clone() *Step {
	cp := *s
	if s.DependsOn != nil {
		cp.DependsOn = append([]string(nil), s.DependsOn...)
	}
	if s.Input != nil {
		cp.Input = make(map[string]any, len(s.Input))
		for k, v := range s.Input {
			cp.Input[k] = v
		}
	}
	if s.Err != nil {
		e := *s.Err
		cp.Err = &e
	}
	if s.Recovery != nil {
		r := *s.Recovery
		cp.Recovery = &r
	}
	return &cp
}
