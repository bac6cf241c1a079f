// Package executor runs individual steps: tool-backed steps through the
// registry behind per-tool circuit breakers, and model-backed steps as
// completions assembled from the task, the step description and the outputs
// of completed dependencies.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

// ErrToolNotFound is returned when a step names a tool the registry does
// not hold.
var ErrToolNotFound = errors.New("executor: tool not found")

// Options configure an Executor.
type Options struct {
	// StepTimeout bounds each step's execution.
	StepTimeout time.Duration
	// System is prepended to every model completion.
	System string
	// Callbacks receive observational events. Never affects control flow.
	Callbacks *core.Callbacks
	// BreakerDisabled turns off per-tool circuit breaking.
	BreakerDisabled bool

	Logger logging.Logger
}

// Executor executes one step at a time. It is safe for concurrent use; the
// scheduler dispatches a batch of steps against a single Executor.
type Executor struct {
	model model.Model
	tools *tool.Registry
	opts  Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds an Executor over the given model and tool registry.
func New(m model.Model, tools *tool.Registry, optFns ...func(o *Options)) *Executor {
	opts := Options{
		StepTimeout: 60 * time.Second,
		Logger:      logging.NewDefaultSlogLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{
		model:    m,
		tools:    tools,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ExecuteStep runs a single step to produce its output. The graph is read
// only, consulted for dependency outputs on model-backed steps. Panics in
// tool or model code are converted to errors so one bad step can never take
// down the engine.
func (e *Executor) ExecuteStep(ctx context.Context, graph *core.TaskGraph, step *core.Step) (output any, err error) {
	if e.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: step %q panicked: %v", step.Name, r)
		}
	}()

	start := time.Now()
	if step.Tool != "" {
		output, err = e.RunTool(ctx, step.Tool, step.Input)
	} else {
		output, err = e.completeStep(ctx, graph, step)
	}

	e.opts.Logger.Info("Step executed",
		"step_id", step.ID, "name", step.Name, "tool", step.Tool,
		"duration", time.Since(start), "success", err == nil)
	return output, err
}

// RunTool executes a registered tool through its circuit breaker, emitting
// a ToolEvent before and after the call.
func (e *Executor) RunTool(ctx context.Context, name string, input map[string]any) (any, error) {
	t, ok := e.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	e.opts.Callbacks.EmitToolUse(core.ToolEvent{Tool: name, Input: input})

	run := func() (output any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool %q panicked: %v", name, r)
			}
		}()
		return t.Execute(ctx, input)
	}

	var output any
	var err error
	if e.opts.BreakerDisabled {
		output, err = run()
	} else {
		output, err = e.breaker(name).Execute(run)
	}

	e.opts.Callbacks.EmitToolUse(core.ToolEvent{Tool: name, Input: input, Output: output, Err: err})
	if err != nil {
		e.opts.Logger.Warn("Tool call failed", "tool", name, "error", err)
		return nil, err
	}
	return output, nil
}

// Complete forwards a completion to the model, logging latency and usage.
func (e *Executor) Complete(ctx context.Context, req model.CompletionRequest) (model.CompletionResponse, error) {
	if e.model == nil {
		return model.CompletionResponse{}, errors.New("executor: no model configured")
	}
	if req.System == "" {
		req.System = e.opts.System
	}
	start := time.Now()
	resp, err := e.model.Complete(ctx, req)
	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	e.opts.Logger.Debug("Model call finished",
		"model", e.model.Info().Name, "tokens", tokens,
		"duration", time.Since(start), "success", err == nil)
	return resp, err
}

// completeStep builds the prompt for a model-backed step from the task,
// the step's description and the outputs of its dependencies.
func (e *Executor) completeStep(ctx context.Context, graph *core.TaskGraph, step *core.Step) (any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", graph.Task())
	if len(step.DependsOn) > 0 {
		sb.WriteString("Results from previous steps:\n")
		for _, depID := range step.DependsOn {
			dep, ok := graph.Get(depID)
			if !ok || dep.Output == nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %v\n", dep.Name, dep.Output)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Current step: %s\n%s", step.Name, step.Description)

	resp, err := e.Complete(ctx, model.CompletionRequest{Prompt: sb.String()})
	if err != nil {
		return nil, err
	}
	return resp.Text, nil
}

func (e *Executor) breaker(name string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not the tool's failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.opts.Logger.Warn("Tool circuit breaker state change",
				"tool", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[name] = cb
	return cb
}
