package core

// GenerationConfig carries model tuning parameters for an execution.
// Zero values mean "use the protocol's defaults".
type GenerationConfig struct {
	ModelName    string   `json:"model_name,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Request is an execution request submitted to a protocol.
type Request struct {
	Task   string           `json:"task"`
	Tools  []string         `json:"tools,omitempty"`
	Config GenerationConfig `json:"config,omitzero"`
}

// ToolCallRecord summarizes one tool invocation for the execution result.
type ToolCallRecord struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
}

// StepSummary reports the terminal state of one step in the result metadata,
// so a partially failed execution is still fully accounted for.
type StepSummary struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Kind     ErrorKind  `json:"error_kind,omitempty"`
	Message  string     `json:"error_message,omitempty"`
	Strategy string     `json:"recovery_strategy,omitempty"`
}

// Result is the structured answer every execution produces, even when some
// steps failed permanently.
type Result struct {
	Content         string           `json:"content"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// SummarizeSteps builds per-step summaries from a finished graph.
func SummarizeSteps(graph *TaskGraph) []StepSummary {
	steps := graph.Steps()
	summaries := make([]StepSummary, 0, len(steps))
	for _, step := range steps {
		summary := StepSummary{
			ID:     step.ID,
			Name:   step.Name,
			Status: step.Status,
		}
		if step.Err != nil {
			summary.Kind = step.Err.Kind
			summary.Message = step.Err.Message
		}
		if step.Recovery != nil {
			summary.Strategy = step.Recovery.Strategy
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
