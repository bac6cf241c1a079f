// Package audit defines the event sink consuming execution history. The
// engine only emits to it; storage, querying and retention belong to the
// sink implementation.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
)

// Execution is the sink's view of one engine run.
type Execution struct {
	ID        string    `json:"id"`
	Protocol  string    `json:"protocol"`
	Task      string    `json:"task"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	// Status is "running", "completed" or "failed".
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StepRecord is the sink's view of one finished step.
type StepRecord struct {
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Name        string          `json:"name"`
	Tool        string          `json:"tool,omitempty"`
	Status      core.StepStatus `json:"status"`
	ErrorKind   core.ErrorKind  `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Strategy    string          `json:"recovery_strategy,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Sink consumes execution history events. Implementations must be safe for
// concurrent use; the engine may emit step records from parallel steps.
type Sink interface {
	ExecutionStarted(ctx context.Context, ex Execution) error
	StepFinished(ctx context.Context, rec StepRecord) error
	ExecutionFinished(ctx context.Context, ex Execution) error
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

// ExecutionStarted implements Sink.
func (NopSink) ExecutionStarted(context.Context, Execution) error { return nil }

// StepFinished implements Sink.
func (NopSink) StepFinished(context.Context, StepRecord) error { return nil }

// ExecutionFinished implements Sink.
func (NopSink) ExecutionFinished(context.Context, Execution) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

// MemorySink retains history in memory. Intended for tests and examples.
type MemorySink struct {
	mu         sync.Mutex
	executions map[string]Execution
	order      []string
	steps      map[string][]StepRecord
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		executions: make(map[string]Execution),
		steps:      make(map[string][]StepRecord),
	}
}

// ExecutionStarted implements Sink.
func (s *MemorySink) ExecutionStarted(_ context.Context, ex Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ex.ID]; !exists {
		s.order = append(s.order, ex.ID)
	}
	s.executions[ex.ID] = ex
	return nil
}

// StepFinished implements Sink.
func (s *MemorySink) StepFinished(_ context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[rec.ExecutionID] = append(s.steps[rec.ExecutionID], rec)
	return nil
}

// ExecutionFinished implements Sink.
func (s *MemorySink) ExecutionFinished(_ context.Context, ex Execution) error {
	return s.ExecutionStarted(context.Background(), ex)
}

// Executions returns recorded executions in start order.
func (s *MemorySink) Executions() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.executions[id])
	}
	return out
}

// Steps returns recorded step records for one execution, in finish order.
func (s *MemorySink) Steps(executionID string) []StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StepRecord(nil), s.steps[executionID]...)
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }
