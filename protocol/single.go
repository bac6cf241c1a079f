package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/plan"
)

// SingleShotName is the registry name of the single-shot protocol.
const SingleShotName = "single_shot"

// SingleShot answers a task with one step and no planning: a direct tool
// call when the request names exactly one tool with input, otherwise a
// direct model completion. Failures still pass through classification and
// recovery so even the simplest protocol self-corrects.
type SingleShot struct {
	rt     Runtime
	system string
}

// NewSingleShot constructs a single-shot protocol instance.
func NewSingleShot(rt Runtime) (Protocol, error) {
	if rt.Model == nil {
		return nil, fmt.Errorf("protocol %s: model is required", SingleShotName)
	}
	return &SingleShot{
		rt:     rt,
		system: "You are a capable assistant. Answer the task directly and completely.",
	}, nil
}

// Metadata implements Protocol.
func (p *SingleShot) Metadata() Metadata {
	return Metadata{
		Name:         SingleShotName,
		Description:  "Direct model or tool call, one step, no planning",
		Version:      "1.0.0",
		Capabilities: []Capability{CapabilityToolUse, CapabilitySelfCorrection},
	}
}

// Init implements Protocol. Single-shot holds no per-execution resources.
func (p *SingleShot) Init(ctx context.Context) error { return nil }

// Cleanup implements Protocol.
func (p *SingleShot) Cleanup(ctx context.Context) error { return nil }

// Execute implements Protocol.
func (p *SingleShot) Execute(ctx context.Context, req core.Request, callbacks *core.Callbacks) (core.Result, error) {
	started := time.Now()
	callbacks.EmitStart()

	tools := scopedTools(p.rt, req)
	eng := buildEngine(p.rt, p.system, tools, callbacks)

	graph := core.NewTaskGraph(req.Task)
	step := core.NewStep("answer", req.Task)
	if len(req.Tools) == 1 {
		// A single requested tool makes this a direct tool call; the model
		// supplies the input from the task.
		if input, err := p.toolInput(ctx, eng, req.Tools[0], req.Task); err == nil {
			step.WithTool(req.Tools[0], input)
		}
	}
	if err := graph.AddStep(step); err != nil {
		callbacks.EmitError(err)
		return core.Result{}, err
	}

	if err := eng.sched.Run(ctx, graph); err != nil {
		callbacks.EmitError(err)
		return buildResult(graph, "", started), err
	}

	final, _ := graph.Get(step.ID)
	content := ""
	if final != nil && final.Output != nil {
		content = fmt.Sprintf("%v", final.Output)
	}
	result := buildResult(graph, content, started)
	callbacks.EmitComplete(result)
	return result, nil
}

// toolInput asks the model for the tool's input parameters given the task.
func (p *SingleShot) toolInput(ctx context.Context, eng engine, toolName, task string) (map[string]any, error) {
	resp, err := eng.exec.Complete(ctx, model.CompletionRequest{
		Prompt: fmt.Sprintf(
			"Task: %s\nProduce the input for the tool %q as a single JSON object. Respond with ONLY the JSON object.",
			task, toolName),
	})
	if err != nil {
		return nil, err
	}
	return plan.DecodeInput(resp.Text)
}
