package core

// StepEvent describes a step progress notification delivered through
// Callbacks.OnStep.
type StepEvent struct {
	StepID      string     `json:"step_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	Err         *StepError `json:"error,omitempty"`
}

// ToolEvent describes a tool invocation notification delivered through
// Callbacks.OnToolUse, once before the call (Output and Err unset) and once
// after.
type ToolEvent struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
	Err    error          `json:"-"`
}

// Callbacks is the caller-supplied observer set. All fields are optional and
// purely observational: they must not affect control flow, and the engine
// never blocks correctness on them. The zero value is valid and silent.
type Callbacks struct {
	OnStart    func()
	OnStep     func(StepEvent)
	OnToolUse  func(ToolEvent)
	OnComplete func(Result)
	OnError    func(error)
}

// EmitStart invokes OnStart if set.
func (c *Callbacks) EmitStart() {
	if c != nil && c.OnStart != nil {
		c.OnStart()
	}
}

// EmitStep invokes OnStep if set.
func (c *Callbacks) EmitStep(ev StepEvent) {
	if c != nil && c.OnStep != nil {
		c.OnStep(ev)
	}
}

// EmitToolUse invokes OnToolUse if set.
func (c *Callbacks) EmitToolUse(ev ToolEvent) {
	if c != nil && c.OnToolUse != nil {
		c.OnToolUse(ev)
	}
}

// EmitComplete invokes OnComplete if set.
func (c *Callbacks) EmitComplete(result Result) {
	if c != nil && c.OnComplete != nil {
		c.OnComplete(result)
	}
}

// EmitError invokes OnError if set.
func (c *Callbacks) EmitError(err error) {
	if c != nil && c.OnError != nil {
		c.OnError(err)
	}
}
