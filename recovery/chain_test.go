package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fn    func(name string, input map[string]any) (any, error)
}

func (f *fakeRunner) RunTool(_ context.Context, name string, input map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	return f.fn(name, input)
}

func newFailedStep(t *testing.T, graph *core.TaskGraph, step *core.Step, kind core.ErrorKind, msg string) *core.Step {
	t.Helper()
	require.NoError(t, graph.AddStep(step))
	require.NoError(t, graph.MarkInProgress(step.ID))
	require.NoError(t, graph.RecordFailure(step.ID, core.NewStepError(kind, errors.New(msg)), nil))
	failed, ok := graph.Get(step.ID)
	require.True(t, ok)
	return failed
}

func quietChain(runner ToolRunner, m model.Model, tools *tool.Registry, extra ...func(o *Options)) *Chain {
	optFns := append([]func(o *Options){func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.RetryBackoff = &backoff.ZeroBackOff{}
	}}, extra...)
	return NewChain(runner, m, tools, optFns...)
}

func TestChainRetryRecoversTransientFailure(t *testing.T) {
	attempts := 0
	runner := &fakeRunner{fn: func(name string, _ map[string]any) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("rate limit exceeded")
		}
		return "fetched", nil
	}}
	chain := quietChain(runner, model.NewMockModel("m"), tool.NewRegistry())

	graph := core.NewTaskGraph("task")
	step := core.NewStep("fetch", "fetch the data").WithTool("fetch", map[string]any{"url": "x"})
	failed := newFailedStep(t, graph, step, core.KindAPIError, "rate limit exceeded")

	require.NoError(t, chain.Recover(context.Background(), graph, failed))

	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepRecovered, got.Status)
	assert.Equal(t, "fetched", got.Output)
	require.NotNil(t, got.Recovery)
	assert.True(t, got.Recovery.Success)
	assert.Equal(t, string(StrategyRetry), got.Recovery.Strategy)
}

func TestChainToolSwitchOnPermissionError(t *testing.T) {
	tools := tool.NewRegistry()
	for _, name := range []string{"search", "backup_search"} {
		require.NoError(t, tools.Register(tool.NewFunctionTool(name, "search tool", nil,
			func(ctx context.Context, input map[string]any) (any, error) { return nil, nil })))
	}

	mock := model.NewMockModel("m")
	mock.AddResponse("Available alternatives", "backup_search")

	runner := &fakeRunner{fn: func(name string, _ map[string]any) (any, error) {
		if name == "search" {
			return nil, errors.New("unauthorized access")
		}
		return "found via backup", nil
	}}
	chain := quietChain(runner, mock, tools)

	graph := core.NewTaskGraph("task")
	step := core.NewStep("lookup", "look something up").WithTool("search", map[string]any{"q": "x"})
	failed := newFailedStep(t, graph, step, core.KindPermissionError, "unauthorized access")

	require.NoError(t, chain.Recover(context.Background(), graph, failed))

	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepRecovered, got.Status)
	assert.Equal(t, "found via backup", got.Output)
	assert.Equal(t, string(StrategyToolSwitch), got.Recovery.Strategy)
	assert.Contains(t, runner.calls, "backup_search")
}

func TestChainDecomposePartialSuccess(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(
		`[
			{"name": "part-1", "description": "first part", "tool": "sub", "input": {"n": 1}},
			{"name": "part-2", "description": "second part", "tool": "sub", "input": {"n": 2}},
			{"name": "part-3", "description": "third part", "tool": "sub", "input": {"n": 3}}
		]`,
		"synthesized from the surviving parts",
	)

	runner := &fakeRunner{fn: func(_ string, input map[string]any) (any, error) {
		if n, _ := input["n"].(float64); n == 2 {
			return nil, errors.New("tool execution failed")
		}
		return fmt.Sprintf("part output %v", input["n"]), nil
	}}

	rules := &RuleSet{}
	rules.Add(Rule{Kind: core.KindReasoningError, Strategies: []Strategy{StrategyDecompose}, MaxAttempts: 1})
	chain := quietChain(runner, mock, tool.NewRegistry(), func(o *Options) {
		o.Rules = rules
	})

	graph := core.NewTaskGraph("task")
	step := core.NewStep("analyze", "analyze everything at once")
	failed := newFailedStep(t, graph, step, core.KindReasoningError, "inconsistent output")

	require.NoError(t, chain.Recover(context.Background(), graph, failed))

	// One sub-step may fail as long as at least one succeeds.
	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepRecovered, got.Status)
	assert.Equal(t, "synthesized from the surviving parts", got.Output)
	assert.Equal(t, string(StrategyDecompose), got.Recovery.Strategy)

	var completed, failedSubs int
	for _, s := range graph.Steps() {
		if s.ID == step.ID {
			continue
		}
		switch s.Status {
		case core.StepCompleted:
			completed++
		case core.StepFailed:
			failedSubs++
		}
	}
	assert.Equal(t, 2, completed)
	assert.Equal(t, 1, failedSubs)
}

func TestChainDecomposeAllSubStepsFail(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(`[{"name": "part-1", "description": "only part", "tool": "sub", "input": {}}]`)

	runner := &fakeRunner{fn: func(string, map[string]any) (any, error) {
		return nil, errors.New("tool execution failed")
	}}

	rules := &RuleSet{}
	rules.Add(Rule{Kind: core.KindReasoningError, Strategies: []Strategy{StrategyDecompose}, MaxAttempts: 1})
	chain := quietChain(runner, mock, tool.NewRegistry(), func(o *Options) { o.Rules = rules })

	graph := core.NewTaskGraph("task")
	step := core.NewStep("analyze", "analyze")
	failed := newFailedStep(t, graph, step, core.KindReasoningError, "inconsistent output")

	err := chain.Recover(context.Background(), graph, failed)
	require.Error(t, err)

	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepInProgress, got.Status, "chain leaves final marking to the scheduler")
	require.NotNil(t, got.Recovery)
	assert.False(t, got.Recovery.Success)
}

type failingModel struct{ calls int }

func (m *failingModel) Complete(context.Context, model.CompletionRequest) (model.CompletionResponse, error) {
	m.calls++
	return model.CompletionResponse{}, errors.New("model unavailable")
}

func (m *failingModel) Info() model.Info { return model.Info{Name: "failing", Provider: "mock"} }

func TestChainRuleBudgetSharedAcrossStrategies(t *testing.T) {
	m := &failingModel{}
	rules := &RuleSet{}
	rules.Add(Rule{
		Kind:        core.KindReasoningError,
		Strategies:  []Strategy{StrategyRethink, StrategyAdapt},
		MaxAttempts: 1,
	})
	chain := quietChain(&fakeRunner{fn: func(string, map[string]any) (any, error) { return nil, nil }},
		m, tool.NewRegistry(), func(o *Options) { o.Rules = rules })

	graph := core.NewTaskGraph("task")
	step := core.NewStep("reason", "reason about it")
	failed := newFailedStep(t, graph, step, core.KindReasoningError, "inconsistent output")

	err := chain.Recover(context.Background(), graph, failed)
	require.Error(t, err)

	// MaxAttempts is one budget for the whole strategy list: with a budget
	// of 1 only the first strategy runs, the second is never reached.
	assert.Equal(t, 1, m.calls)
	got, _ := graph.Get(step.ID)
	require.NotNil(t, got.Recovery)
	assert.Equal(t, 1, got.Recovery.Attempts)
	assert.Equal(t, string(StrategyRethink), got.Recovery.Strategy)
}

func TestChainDelegateNotImplemented(t *testing.T) {
	rules := &RuleSet{}
	rules.Add(Rule{Kind: core.KindUnknown, Strategies: []Strategy{StrategyDelegate}, MaxAttempts: 1})
	chain := quietChain(&fakeRunner{fn: func(string, map[string]any) (any, error) { return nil, nil }},
		model.NewMockModel("m"), tool.NewRegistry(), func(o *Options) { o.Rules = rules })

	graph := core.NewTaskGraph("task")
	step := core.NewStep("s", "s")
	failed := newFailedStep(t, graph, step, core.KindUnknown, "mystery")

	err := chain.Recover(context.Background(), graph, failed)
	assert.ErrorIs(t, err, ErrStrategyNotImplemented)
}

func TestChainAdaptRewritesToolInput(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.AddResponse("corrected input", `{"query": "fixed"}`)

	runner := &fakeRunner{fn: func(_ string, input map[string]any) (any, error) {
		if input["query"] == "fixed" {
			return "ok", nil
		}
		return nil, errors.New("invalid query format")
	}}

	rules := &RuleSet{}
	rules.Add(Rule{Kind: core.KindDataError, Strategies: []Strategy{StrategyAdapt}, MaxAttempts: 1})
	chain := quietChain(runner, mock, tool.NewRegistry(), func(o *Options) { o.Rules = rules })

	graph := core.NewTaskGraph("task")
	step := core.NewStep("query", "run the query").WithTool("db", map[string]any{"query": "broken"})
	failed := newFailedStep(t, graph, step, core.KindDataError, "invalid query format")

	require.NoError(t, chain.Recover(context.Background(), graph, failed))

	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepRecovered, got.Status)
	assert.Equal(t, "ok", got.Output)
}
