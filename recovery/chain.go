package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/plan"
	"github.com/taskmesh/taskmesh/tool"
)

// ErrStrategyNotImplemented reports selection of a strategy that is
// declared but has no behavior yet.
var ErrStrategyNotImplemented = errors.New("recovery: strategy not implemented")

// ToolRunner executes a tool by name against the given input. The executor
// satisfies this so the chain can re-run steps without importing it.
type ToolRunner interface {
	RunTool(ctx context.Context, name string, input map[string]any) (any, error)
}

// Options configure a Chain.
type Options struct {
	Rules        *RuleSet
	MaxAttempts  int
	DecomposeMax int
	RetryBackoff backoff.BackOff
	Logger       logging.Logger
}

// Chain drives recovery for a single failed step: classify, pick a rule,
// and apply its strategies in order until one succeeds or the attempt
// budget is spent.
type Chain struct {
	runner ToolRunner
	model  model.Model
	tools  *tool.Registry
	opts   Options
	logger logging.Logger
}

// NewChain builds a recovery chain. The runner executes tool-backed steps;
// the model serves the adapt, rethink and decompose strategies; the
// registry supplies alternatives for tool_switch.
func NewChain(runner ToolRunner, m model.Model, tools *tool.Registry, optFns ...func(o *Options)) *Chain {
	opts := Options{
		Rules:        NewRuleSet(),
		MaxAttempts:  3,
		DecomposeMax: 4,
		Logger:       logging.NewDefaultSlogLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Chain{
		runner: runner,
		model:  m,
		tools:  tools,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Recover attempts to bring a failed step to the recovered state. On
// success the graph is updated via MarkRecovered and the step's recovery
// record reflects the winning strategy. On exhaustion the record is
// attached to the step and an error describing the last strategy's outcome
// is returned; marking the step failed is the scheduler's job.
func (c *Chain) Recover(ctx context.Context, graph *core.TaskGraph, step *core.Step) error {
	if step.Err == nil {
		return fmt.Errorf("recovery: step %q has no error to recover from", step.ID)
	}
	kind := step.Err.Kind
	rule := c.opts.Rules.Match(kind, step.Tool)

	maxAttempts := rule.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > c.opts.MaxAttempts {
		maxAttempts = c.opts.MaxAttempts
	}

	record := &core.RecoveryRecord{}
	var lastErr error

	for _, strategy := range rule.Strategies {
		if record.Attempts >= maxAttempts {
			break
		}
		record.Attempts++
		record.Strategy = string(strategy)

		c.logger.Info("Applying recovery strategy",
			"step_id", step.ID, "strategy", string(strategy), "error_kind", string(kind), "attempt", record.Attempts)

		output, err := c.apply(ctx, strategy, graph, step)
		if err == nil {
			record.Success = true
			record.Notes = fmt.Sprintf("recovered via %s", strategy)
			if markErr := graph.MarkRecovered(step.ID, output, record); markErr != nil {
				return markErr
			}
			c.logger.Info("Step recovered", "step_id", step.ID, "strategy", string(strategy))
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrStrategyNotImplemented) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
	}

	record.Success = false
	if lastErr != nil {
		record.Notes = lastErr.Error()
	} else {
		record.Notes = "no applicable strategy"
		lastErr = ErrStrategyNotImplemented
	}
	graph.RecordFailure(step.ID, step.Err, record)
	return fmt.Errorf("recovery: step %q exhausted strategies: %w", step.ID, lastErr)
}

func (c *Chain) apply(ctx context.Context, strategy Strategy, graph *core.TaskGraph, step *core.Step) (any, error) {
	switch strategy {
	case StrategyRetry:
		return c.retry(ctx, step)
	case StrategyAdapt:
		return c.adapt(ctx, step)
	case StrategyRethink:
		return c.rethink(ctx, step)
	case StrategyDecompose:
		return c.decompose(ctx, graph, step)
	case StrategyToolSwitch:
		return c.toolSwitch(ctx, step)
	case StrategyDelegate:
		return nil, ErrStrategyNotImplemented
	default:
		return nil, fmt.Errorf("recovery: unknown strategy %q: %w", strategy, ErrStrategyNotImplemented)
	}
}

// retry re-runs the step unchanged, backing off between attempts. Only
// meaningful for tool-backed steps; a model step with no tool fails fast
// because re-running identical inputs re-derives the identical failure.
func (c *Chain) retry(ctx context.Context, step *core.Step) (any, error) {
	if step.Tool == "" {
		return nil, fmt.Errorf("recovery: retry needs a tool-backed step")
	}
	bo := c.opts.RetryBackoff
	if bo == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = 10 * time.Second
		bo = b
	}
	return backoff.RetryWithData(func() (any, error) {
		out, err := c.runner.RunTool(ctx, step.Tool, step.Input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	}, backoff.WithContext(bo, ctx))
}

// adapt asks the model to repair the step's input based on the failure,
// then re-runs the step with the adapted input.
func (c *Chain) adapt(ctx context.Context, step *core.Step) (any, error) {
	if step.Tool == "" {
		// No tool to re-run: have the model produce the answer directly.
		return c.complete(ctx, fmt.Sprintf(
			"The step %q failed with: %s\nStep description: %s\nProvide the best possible result for this step despite the failure.",
			step.Name, step.Err.Message, step.Description))
	}
	text, err := c.complete(ctx, fmt.Sprintf(
		"A tool call failed and its input likely needs adjustment.\nTool: %s\nInput: %v\nError: %s\n"+
			"Respond with ONLY a JSON object containing the corrected input for the tool.",
		step.Tool, step.Input, step.Err.Message))
	if err != nil {
		return nil, err
	}
	input, err := plan.DecodeInput(text)
	if err != nil {
		return nil, fmt.Errorf("recovery: adapt produced unusable input: %w", err)
	}
	return c.runner.RunTool(ctx, step.Tool, input)
}

// rethink asks the model to reconsider the step's approach from scratch
// and answer it directly, discarding the failed line of reasoning.
func (c *Chain) rethink(ctx context.Context, step *core.Step) (any, error) {
	return c.complete(ctx, fmt.Sprintf(
		"The previous approach to this step failed. Reconsider it from first principles.\n"+
			"Step: %s\nDescription: %s\nPrevious error: %s\n"+
			"Think through an alternative approach and provide the result.",
		step.Name, step.Description, step.Err.Message))
}

// decompose splits the failed step into smaller sub-steps appended to the
// graph, executes any tool-backed sub-steps immediately, and synthesizes
// their outputs. At least one sub-step must succeed for the decomposition
// to count as a recovery.
func (c *Chain) decompose(ctx context.Context, graph *core.TaskGraph, step *core.Step) (any, error) {
	text, err := c.complete(ctx, fmt.Sprintf(
		"The step %q failed with: %s\nDescription: %s\n"+
			"Break this step into at most %d smaller, independent sub-steps. "+
			"Respond with a JSON array of objects with \"name\", \"description\", and optional \"tool\" and \"input\" fields.",
		step.Name, step.Err.Message, step.Description, c.opts.DecomposeMax))
	if err != nil {
		return nil, err
	}
	subPlans := plan.Decode(text, c.opts.DecomposeMax)

	var outputs []string
	succeeded := 0
	for i, sp := range subPlans {
		sub := core.NewStep(sp.Name, sp.Description)
		if sp.Tool != "" {
			sub.WithTool(sp.Tool, sp.Input)
		}
		if err := graph.AddStep(sub); err != nil {
			return nil, fmt.Errorf("recovery: adding sub-step %d: %w", i, err)
		}
		if err := graph.MarkInProgress(sub.ID); err != nil {
			return nil, err
		}

		var out any
		var runErr error
		if sub.Tool != "" {
			out, runErr = c.runner.RunTool(ctx, sub.Tool, sub.Input)
		} else {
			out, runErr = c.complete(ctx, fmt.Sprintf("Complete this sub-step: %s\n%s", sub.Name, sub.Description))
		}
		if runErr != nil {
			graph.MarkFailed(sub.ID, core.NewStepError(Classify(runErr), runErr))
			continue
		}
		graph.MarkCompleted(sub.ID, out)
		succeeded++
		outputs = append(outputs, fmt.Sprintf("%s: %v", sub.Name, out))
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("recovery: all %d sub-steps failed", len(subPlans))
	}

	return c.complete(ctx, fmt.Sprintf(
		"The step %q was broken into sub-steps. Synthesize their outputs into a single result.\n"+
			"Step description: %s\nSub-step outputs:\n%s",
		step.Name, step.Description, strings.Join(outputs, "\n")))
}

// toolSwitch re-runs the step with an alternative registered tool. The
// model picks the replacement from the registry's definitions.
func (c *Chain) toolSwitch(ctx context.Context, step *core.Step) (any, error) {
	if step.Tool == "" {
		return nil, fmt.Errorf("recovery: tool_switch needs a tool-backed step")
	}
	var candidates []string
	for _, name := range c.tools.Names() {
		if name != step.Tool {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("recovery: no alternative tool for %q", step.Tool)
	}

	text, err := c.complete(ctx, fmt.Sprintf(
		"The tool %q failed for this step: %s\nError: %s\n"+
			"Available alternatives: %s\n"+
			"Respond with ONLY the name of the best alternative tool, or NONE if none fits.",
		step.Tool, step.Description, step.Err.Message, strings.Join(candidates, ", ")))
	if err != nil {
		return nil, err
	}
	choice := strings.TrimSpace(text)
	if strings.EqualFold(choice, "NONE") {
		return nil, fmt.Errorf("recovery: model found no suitable alternative to %q", step.Tool)
	}
	if _, ok := c.tools.Get(choice); !ok {
		return nil, fmt.Errorf("recovery: model chose unregistered tool %q", choice)
	}
	return c.runner.RunTool(ctx, choice, step.Input)
}

func (c *Chain) complete(ctx context.Context, prompt string) (string, error) {
	if c.model == nil {
		return "", fmt.Errorf("recovery: no model configured")
	}
	resp, err := c.model.Complete(ctx, model.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
