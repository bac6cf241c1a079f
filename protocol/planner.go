package protocol

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/plan"
	"github.com/taskmesh/taskmesh/tool"
)

// PlannerName is the registry name of the task-graph planner protocol.
const PlannerName = "planner"

// Planner decomposes a task into a dependency graph of sub-steps via a
// planning completion, runs the graph to completion, and concatenates the
// leaf outputs into a final report.
type Planner struct {
	rt     Runtime
	system string
}

// NewPlanner constructs a planner protocol instance.
func NewPlanner(rt Runtime) (Protocol, error) {
	if rt.Model == nil {
		return nil, fmt.Errorf("protocol %s: model is required", PlannerName)
	}
	return &Planner{
		rt: rt,
		system: "You are a planning assistant. Decompose tasks into small, concrete steps " +
			"and execute them carefully, building on the results of earlier steps.",
	}, nil
}

// Metadata implements Protocol.
func (p *Planner) Metadata() Metadata {
	return Metadata{
		Name:        PlannerName,
		Description: "Plans a task into a dependency graph of steps and executes it",
		Version:     "1.0.0",
		Capabilities: []Capability{
			CapabilityToolUse, CapabilityMultiStep,
			CapabilityRecursivePlanning, CapabilitySelfCorrection,
		},
	}
}

// Init implements Protocol.
func (p *Planner) Init(ctx context.Context) error { return nil }

// Cleanup implements Protocol.
func (p *Planner) Cleanup(ctx context.Context) error { return nil }

// Execute implements Protocol.
func (p *Planner) Execute(ctx context.Context, req core.Request, callbacks *core.Callbacks) (core.Result, error) {
	started := time.Now()
	callbacks.EmitStart()

	tools := scopedTools(p.rt, req)
	eng := buildEngine(p.rt, p.system, tools, callbacks)

	graph, err := p.plan(ctx, eng, req.Task, tools)
	if err != nil {
		callbacks.EmitError(err)
		return core.Result{}, fmt.Errorf("protocol %s: planning failed: %w", PlannerName, err)
	}

	if err := eng.sched.Run(ctx, graph); err != nil {
		callbacks.EmitError(err)
		return buildResult(graph, p.report(graph), started), err
	}

	result := buildResult(graph, p.report(graph), started)
	callbacks.EmitComplete(result)
	return result, nil
}

// plan runs the planning completion and builds the task graph, resolving
// name-based dependencies from the decoded plan into step IDs.
func (p *Planner) plan(ctx context.Context, eng engine, task string, tools *tool.Registry) (*core.TaskGraph, error) {
	resp, err := eng.exec.Complete(ctx, model.CompletionRequest{
		Prompt: fmt.Sprintf(
			"Task: %s\n\nAvailable tools:\n%s\n"+
				"Break the task into at most %d steps. Respond with a JSON array of objects, each with "+
				"\"name\", \"description\", optional \"tool\" and \"input\", and optional \"depends_on\" "+
				"listing the names of steps that must finish first.",
			task, describeTools(tools), p.rt.Config.MaxPlanSteps),
	})
	if err != nil {
		return nil, err
	}

	decoded := plan.Decode(resp.Text, p.rt.Config.MaxPlanSteps)
	graph := core.NewTaskGraph(task)

	idByName := make(map[string]string, len(decoded))
	steps := make([]*core.Step, 0, len(decoded))
	for _, ps := range decoded {
		// Duplicate names from the model get a numeric suffix so each step
		// keeps its own graph entry; depends_on naming the duplicate binds
		// to the first occurrence.
		name := ps.Name
		for n := 2; ; n++ {
			if _, taken := idByName[name]; !taken {
				break
			}
			name = fmt.Sprintf("%s-%d", ps.Name, n)
		}
		step := core.NewStep(name, ps.Description)
		if ps.Tool != "" {
			step.WithTool(ps.Tool, ps.Input)
		}
		idByName[name] = step.ID
		steps = append(steps, step)
	}
	for i, ps := range decoded {
		for _, depName := range ps.DependsOn {
			if depID, ok := idByName[depName]; ok && depID != steps[i].ID {
				steps[i].WithDependsOn(depID)
			}
		}
	}
	if err := graph.AddSteps(steps); err != nil {
		return nil, err
	}
	return graph, nil
}

// report concatenates the outputs of leaf steps (steps nothing depends on)
// in insertion order. Failed leaves contribute their error so partial runs
// still produce a full account.
func (p *Planner) report(graph *core.TaskGraph) string {
	steps := graph.Steps()
	hasDependents := make(map[string]bool)
	for _, step := range steps {
		for _, depID := range step.DependsOn {
			hasDependents[depID] = true
		}
	}

	var sb strings.Builder
	for _, step := range steps {
		if hasDependents[step.ID] {
			continue
		}
		switch {
		case step.Status.Successful() && step.Output != nil:
			fmt.Fprintf(&sb, "%s: %v\n", step.Name, step.Output)
		case step.Err != nil:
			fmt.Fprintf(&sb, "%s: failed (%s: %s)\n", step.Name, step.Err.Kind, step.Err.Message)
		}
	}
	return strings.TrimSpace(sb.String())
}
