package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/plan"
)

// ConversationName is the registry name of the multi-agent conversation
// protocol.
const ConversationName = "conversation"

// ConversationState tracks the task-level state machine of a conversation
// execution: started until the first plan is accepted, in_progress while
// turns advance, and completed or failed terminally.
type ConversationState string

const (
	ConversationStarted    ConversationState = "started"
	ConversationInProgress ConversationState = "in_progress"
	ConversationCompleted  ConversationState = "completed"
	ConversationFailed     ConversationState = "failed"
)

// Conversation coordinates a fixed set of role agents (planner, executor,
// critic) exchanging turn-based messages. Turns are steps chained by a
// strict linear dependency, so the scheduler naturally serializes them; the
// conversation fails when the turn budget is exceeded before the plan is
// worked through.
type Conversation struct {
	rt    Runtime
	state ConversationState
}

// NewConversation constructs a conversation protocol instance.
func NewConversation(rt Runtime) (Protocol, error) {
	if rt.Model == nil {
		return nil, fmt.Errorf("protocol %s: model is required", ConversationName)
	}
	return &Conversation{rt: rt, state: ConversationStarted}, nil
}

// Metadata implements Protocol.
func (p *Conversation) Metadata() Metadata {
	return Metadata{
		Name:        ConversationName,
		Description: "Planner, executor and critic agents working a task in turns",
		Version:     "1.0.0",
		Capabilities: []Capability{
			CapabilityToolUse, CapabilityMultiStep,
			CapabilityCollaboration, CapabilitySelfCorrection,
		},
	}
}

// Init implements Protocol.
func (p *Conversation) Init(ctx context.Context) error {
	p.state = ConversationStarted
	return nil
}

// Cleanup implements Protocol.
func (p *Conversation) Cleanup(ctx context.Context) error { return nil }

// State returns the conversation's task-level state.
func (p *Conversation) State() ConversationState { return p.state }

// Execute implements Protocol.
func (p *Conversation) Execute(ctx context.Context, req core.Request, callbacks *core.Callbacks) (core.Result, error) {
	started := time.Now()
	callbacks.EmitStart()

	tools := scopedTools(p.rt, req)
	eng := buildEngine(p.rt, plannerSystem, tools, callbacks)

	// Planner turn: produce the plan the other agents will work through.
	resp, err := eng.exec.Complete(ctx, model.CompletionRequest{
		System: plannerSystem,
		Prompt: fmt.Sprintf(
			"Task: %s\n\nAvailable tools:\n%s\n"+
				"Produce a short numbered plan (at most %d items) the executor agent will carry out one item per turn.",
			req.Task, describeTools(tools), p.maxPlanItems()),
	})
	if err != nil {
		p.state = ConversationFailed
		callbacks.EmitError(err)
		return core.Result{}, fmt.Errorf("protocol %s: planner turn failed: %w", ConversationName, err)
	}
	// Decode caps at the plan limit, not the turn budget: a model that
	// over-plans trips the max-turns failure below instead of being
	// silently truncated.
	items := plan.Decode(resp.Text, p.rt.Config.MaxPlanSteps)

	// First plan acceptance moves the conversation into in_progress.
	p.state = ConversationInProgress

	graph := core.NewTaskGraph(req.Task)
	budgetExceeded := false
	turns := 1 // the planner turn is already spent
	var prevID string
	for i, item := range items {
		// Each plan item costs two turns: execute, then critique.
		if turns+2 > p.rt.Config.MaxTurns {
			budgetExceeded = true
			break
		}
		turns += 2

		exec := core.NewStep(
			fmt.Sprintf("execute-%d", i+1),
			fmt.Sprintf("[executor agent] Carry out plan item %d: %s", i+1, item.Description))
		if item.Tool != "" {
			exec.WithTool(item.Tool, item.Input)
		}
		if prevID != "" {
			exec.WithDependsOn(prevID)
		}

		critic := core.NewStep(
			fmt.Sprintf("critique-%d", i+1),
			fmt.Sprintf("[critic agent] Review the result of plan item %d (%s). "+
				"Point out errors or gaps, then state the corrected result.", i+1, item.Description))
		critic.WithDependsOn(exec.ID)

		if err := graph.AddSteps([]*core.Step{exec, critic}); err != nil {
			p.state = ConversationFailed
			callbacks.EmitError(err)
			return core.Result{}, err
		}
		prevID = critic.ID
	}

	if err := eng.sched.Run(ctx, graph); err != nil {
		p.state = ConversationFailed
		callbacks.EmitError(err)
		return buildResult(graph, "", started), err
	}

	if budgetExceeded {
		// The plan needed more turns than the budget allows. Completed
		// turns are retained in the result.
		p.state = ConversationFailed
		err := fmt.Errorf("protocol %s: plan of %d items exceeds max turns %d",
			ConversationName, len(items), p.rt.Config.MaxTurns)
		callbacks.EmitError(err)
		return buildResult(graph, "", started), err
	}

	p.state = ConversationCompleted
	content := ""
	if prevID != "" {
		if final, ok := graph.Get(prevID); ok && final.Output != nil {
			content = fmt.Sprintf("%v", final.Output)
		}
	}
	result := buildResult(graph, content, started)
	callbacks.EmitComplete(result)
	return result, nil
}

func (p *Conversation) maxPlanItems() int {
	// Two turns per item plus the planner turn must fit the budget.
	items := (p.rt.Config.MaxTurns - 1) / 2
	if items < 1 {
		items = 1
	}
	return items
}

const plannerSystem = "You are part of a team of agents (planner, executor, critic) solving a task " +
	"through turn-based collaboration. Be concise and concrete."
