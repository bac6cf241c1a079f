package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/recovery"
	"github.com/taskmesh/taskmesh/tool"
)

func newTestScheduler(t *testing.T, tools *tool.Registry, optFns ...func(o *Options)) *Scheduler {
	t.Helper()
	exec := executor.New(model.NewMockModel("sched-test"), tools, func(o *executor.Options) {
		o.Logger = logging.NoOpLogger{}
		o.BreakerDisabled = true
	})
	all := append([]func(o *Options){func(o *Options) {
		o.Logger = logging.NoOpLogger{}
	}}, optFns...)
	return New(exec, all...)
}

func registerFn(t *testing.T, tools *tool.Registry, name string, fn func(ctx context.Context, input map[string]any) (any, error)) {
	t.Helper()
	require.NoError(t, tools.Register(tool.NewFunctionTool(name, name, nil, fn)))
}

func TestSchedulerRunsDiamondInDependencyOrder(t *testing.T) {
	tools := tool.NewRegistry()
	var mu sync.Mutex
	finished := map[string]time.Time{}
	registerFn(t, tools, "work", func(_ context.Context, input map[string]any) (any, error) {
		name, _ := input["name"].(string)
		mu.Lock()
		finished[name] = time.Now()
		mu.Unlock()
		return name + "-done", nil
	})

	graph := core.NewTaskGraph("diamond")
	a := core.NewStep("a", "a").WithTool("work", map[string]any{"name": "a"})
	b := core.NewStep("b", "b").WithTool("work", map[string]any{"name": "b"})
	c := core.NewStep("c", "c").WithTool("work", map[string]any{"name": "c"}).WithDependsOn(a.ID, b.ID)
	require.NoError(t, graph.AddSteps([]*core.Step{a, b, c}))

	sched := newTestScheduler(t, tools)
	require.NoError(t, sched.Run(context.Background(), graph))

	assert.True(t, graph.IsComplete())
	for _, step := range graph.Steps() {
		assert.Equal(t, core.StepCompleted, step.Status)
	}
	// C starts only after both A and B are terminal.
	assert.True(t, finished["c"].After(finished["a"]))
	assert.True(t, finished["c"].After(finished["b"]))
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	tools := tool.NewRegistry()
	var current, peak atomic.Int32
	registerFn(t, tools, "work", func(ctx context.Context, _ map[string]any) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return nil, nil
	})

	graph := core.NewTaskGraph("wide")
	for i := 0; i < 9; i++ {
		require.NoError(t, graph.AddStep(core.NewStep("s", "s").WithTool("work", nil)))
	}

	sched := newTestScheduler(t, tools, func(o *Options) { o.MaxConcurrency = 2 })
	require.NoError(t, sched.Run(context.Background(), graph))

	assert.True(t, graph.IsComplete())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSchedulerRejectsCyclicGraph(t *testing.T) {
	graph := core.NewTaskGraph("cyclic")
	a := core.NewStep("a", "a")
	b := core.NewStep("b", "b")
	a.WithDependsOn(b.ID)
	b.WithDependsOn(a.ID)
	require.NoError(t, graph.AddSteps([]*core.Step{a, b}))

	sched := newTestScheduler(t, tool.NewRegistry())
	err := sched.Run(context.Background(), graph)
	assert.ErrorIs(t, err, core.ErrGraphCycle)

	// The cyclic steps were never executed.
	for _, step := range graph.Steps() {
		assert.Equal(t, core.StepPending, step.Status)
	}
}

func TestSchedulerFailedStepBlocksDependentAndReturnsDeadlock(t *testing.T) {
	tools := tool.NewRegistry()
	registerFn(t, tools, "boom", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("tool execution failed hard")
	})
	registerFn(t, tools, "ok", func(context.Context, map[string]any) (any, error) {
		return "fine", nil
	})

	graph := core.NewTaskGraph("partial")
	a := core.NewStep("a", "a").WithTool("boom", nil)
	b := core.NewStep("b", "b").WithTool("ok", nil)
	c := core.NewStep("c", "c").WithTool("ok", nil).WithDependsOn(a.ID)
	require.NoError(t, graph.AddSteps([]*core.Step{a, b, c}))

	sched := newTestScheduler(t, tools)
	err := sched.Run(context.Background(), graph)
	assert.ErrorIs(t, err, core.ErrGraphDeadlock)

	// Step failures are recorded in graph state, not thrown; the completed
	// step is preserved.
	gotA, _ := graph.Get(a.ID)
	assert.Equal(t, core.StepFailed, gotA.Status)
	require.NotNil(t, gotA.Err)
	assert.Equal(t, core.KindToolError, gotA.Err.Kind)

	gotB, _ := graph.Get(b.ID)
	assert.Equal(t, core.StepCompleted, gotB.Status)

	gotC, _ := graph.Get(c.ID)
	assert.Equal(t, core.StepPending, gotC.Status)
}

func TestSchedulerTimeoutRetainsCompletedSteps(t *testing.T) {
	tools := tool.NewRegistry()
	registerFn(t, tools, "fast", func(context.Context, map[string]any) (any, error) {
		return "fast-done", nil
	})
	registerFn(t, tools, "slow", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "slow-done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	graph := core.NewTaskGraph("timeout")
	fast := core.NewStep("fast", "fast").WithTool("fast", nil)
	slow := core.NewStep("slow", "slow").WithTool("slow", nil).WithDependsOn(fast.ID)
	tail := core.NewStep("tail", "tail").WithTool("fast", nil).WithDependsOn(slow.ID)
	require.NoError(t, graph.AddSteps([]*core.Step{fast, slow, tail}))

	sched := newTestScheduler(t, tools, func(o *Options) {
		o.GraphTimeout = 100 * time.Millisecond
	})
	err := sched.Run(context.Background(), graph)
	assert.ErrorIs(t, err, core.ErrGraphTimeout)

	gotFast, _ := graph.Get(fast.ID)
	assert.Equal(t, core.StepCompleted, gotFast.Status)

	gotTail, _ := graph.Get(tail.ID)
	assert.Equal(t, core.StepPending, gotTail.Status)
}

func TestSchedulerRecoversFailedStep(t *testing.T) {
	tools := tool.NewRegistry()
	var attempts atomic.Int32
	registerFn(t, tools, "flaky", func(context.Context, map[string]any) (any, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("rate limit exceeded")
		}
		return "second time lucky", nil
	})

	exec := executor.New(model.NewMockModel("m"), tools, func(o *executor.Options) {
		o.Logger = logging.NoOpLogger{}
		o.BreakerDisabled = true
	})
	chain := recovery.NewChain(exec, model.NewMockModel("m"), tools, func(o *recovery.Options) {
		o.Logger = logging.NoOpLogger{}
	})
	sched := New(exec, func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Recovery = chain
	})

	graph := core.NewTaskGraph("flaky")
	step := core.NewStep("fetch", "fetch").WithTool("flaky", nil)
	require.NoError(t, graph.AddStep(step))

	require.NoError(t, sched.Run(context.Background(), graph))

	got, _ := graph.Get(step.ID)
	assert.Equal(t, core.StepRecovered, got.Status)
	assert.Equal(t, "second time lucky", got.Output)
	require.NotNil(t, got.Recovery)
	assert.Equal(t, string(recovery.StrategyRetry), got.Recovery.Strategy)
}

func TestSchedulerEmitsStepEvents(t *testing.T) {
	tools := tool.NewRegistry()
	registerFn(t, tools, "ok", func(context.Context, map[string]any) (any, error) {
		return "done", nil
	})

	var mu sync.Mutex
	var events []core.StepEvent
	callbacks := &core.Callbacks{OnStep: func(ev core.StepEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}}

	graph := core.NewTaskGraph("events")
	require.NoError(t, graph.AddStep(core.NewStep("only", "only").WithTool("ok", nil)))

	sched := newTestScheduler(t, tools, func(o *Options) { o.Callbacks = callbacks })
	require.NoError(t, sched.Run(context.Background(), graph))

	require.Len(t, events, 2)
	assert.Equal(t, core.StepInProgress, events[0].Status)
	assert.Equal(t, core.StepCompleted, events[1].Status)
	assert.Equal(t, "done", events[1].Output)
}
