package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/recovery"
	"github.com/taskmesh/taskmesh/scheduler"
	"github.com/taskmesh/taskmesh/tool"
)

// engine bundles the per-execution executor/scheduler/recovery stack every
// orchestrator builds the same way.
type engine struct {
	exec  *executor.Executor
	sched *scheduler.Scheduler
}

// buildEngine assembles the execution stack for one run. Callbacks flow
// into the executor (tool events) and the scheduler (step events); the
// recovery chain reuses the executor as its tool runner.
func buildEngine(rt Runtime, system string, tools *tool.Registry, callbacks *core.Callbacks) engine {
	exec := executor.New(rt.Model, tools, func(o *executor.Options) {
		o.StepTimeout = rt.Config.StepTimeout.Std()
		o.System = system
		o.Callbacks = callbacks
		o.Logger = rt.Logger
	})
	chain := recovery.NewChain(exec, rt.Model, tools, func(o *recovery.Options) {
		o.MaxAttempts = rt.Config.MaxRecoveryAttempts
		o.DecomposeMax = rt.Config.DecomposeMax
		o.Logger = rt.Logger
	})
	sched := scheduler.New(exec, func(o *scheduler.Options) {
		o.MaxConcurrency = rt.Config.MaxConcurrency
		o.GraphTimeout = rt.Config.GraphTimeout.Std()
		o.Recovery = chain
		o.Callbacks = callbacks
		o.Logger = rt.Logger
	})
	return engine{exec: exec, sched: sched}
}

// scopedTools narrows the runtime registry to the request's tool list, or
// returns the full registry when the request does not restrict tools.
func scopedTools(rt Runtime, req core.Request) *tool.Registry {
	if len(req.Tools) == 0 {
		return rt.Tools
	}
	return rt.Tools.Subset(req.Tools)
}

// buildResult assembles the structured answer from a finished graph. Every
// execution returns one, including partially failed runs: the metadata
// accounts for each step's terminal status, classified error kind and
// recovery strategy.
func buildResult(graph *core.TaskGraph, content string, started time.Time) core.Result {
	var calls []core.ToolCallRecord
	for _, step := range graph.Steps() {
		if step.Tool == "" || !step.Status.Successful() {
			continue
		}
		calls = append(calls, core.ToolCallRecord{Name: step.Tool, Input: step.Input, Output: step.Output})
	}
	return core.Result{
		Content:         content,
		ToolCalls:       calls,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		Metadata: map[string]any{
			"steps": core.SummarizeSteps(graph),
		},
	}
}

// describeTools renders registered tool definitions for planning prompts.
func describeTools(tools *tool.Registry) string {
	defs := tools.Definitions()
	if len(defs) == 0 {
		return "none"
	}
	var sb strings.Builder
	for _, def := range defs {
		fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
	}
	return sb.String()
}
