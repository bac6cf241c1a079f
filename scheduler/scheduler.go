// Package scheduler drives a task graph to completion in batch-parallel
// waves: it repeatedly collects the ready steps, dispatches up to the
// concurrency limit of them at once, and waits for the whole batch before
// selecting the next one.
//
// Step failures are never returned as errors. They are classified, handed
// to the recovery chain, and recorded on the step; only engine-level
// failures (invalid graph, deadlock, timeout, cancellation) propagate to
// the caller.
package scheduler

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/executor"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/recovery"
)

// Options configure a Scheduler.
type Options struct {
	// MaxConcurrency caps the number of steps dispatched in one batch.
	MaxConcurrency int
	// GraphTimeout bounds the whole run. Zero disables the bound.
	GraphTimeout time.Duration
	// Recovery, when set, is consulted for every failed step before the
	// step is marked failed.
	Recovery *recovery.Chain
	// Callbacks receive observational step events.
	Callbacks *core.Callbacks

	Logger logging.Logger
}

// Scheduler executes task graphs against a single Executor.
type Scheduler struct {
	exec *executor.Executor
	opts Options
}

// New builds a Scheduler.
func New(exec *executor.Executor, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		MaxConcurrency: 3,
		GraphTimeout:   5 * time.Minute,
		Logger:         logging.NewDefaultSlogLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Scheduler{exec: exec, opts: opts}
}

// Run executes the graph until every step is terminal or the run aborts.
// The graph retains the terminal state of every step that ran, including on
// timeout and deadlock, so callers can always produce a full account.
func (s *Scheduler) Run(ctx context.Context, graph *core.TaskGraph) error {
	if err := graph.Validate(); err != nil {
		return err
	}

	if s.opts.GraphTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.GraphTimeout)
		defer cancel()
	}

	for {
		if graph.IsComplete() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return core.ErrGraphTimeout
			}
			return err
		}
		if graph.HasDeadlock() {
			s.opts.Logger.Error("Graph deadlocked", "task", graph.Task())
			return core.ErrGraphDeadlock
		}

		ready := graph.ReadySteps()
		if len(ready) == 0 {
			// Batches run to completion, so no step can be in flight here:
			// pending steps with nothing ready means no step can ever run.
			return core.ErrGraphDeadlock
		}
		if len(ready) > s.opts.MaxConcurrency {
			ready = ready[:s.opts.MaxConcurrency]
		}

		s.opts.Logger.Debug("Dispatching batch", "size", len(ready))

		g, gctx := errgroup.WithContext(ctx)
		for _, step := range ready {
			g.Go(func() error {
				s.runStep(gctx, graph, step)
				return nil
			})
		}
		// Goroutines return nil always; Wait only orders the batch.
		_ = g.Wait()
	}
}

// runStep executes one step and settles its terminal status. All failures
// end up recorded on the step, never returned.
func (s *Scheduler) runStep(ctx context.Context, graph *core.TaskGraph, step *core.Step) {
	if err := graph.MarkInProgress(step.ID); err != nil {
		s.opts.Logger.Warn("Skipping step", "step_id", step.ID, "error", err)
		return
	}
	s.opts.Callbacks.EmitStep(core.StepEvent{
		StepID: step.ID, Name: step.Name, Description: step.Description,
		Status: core.StepInProgress,
	})

	output, err := s.exec.ExecuteStep(ctx, graph, step)
	if err == nil {
		if markErr := graph.MarkCompleted(step.ID, output); markErr != nil {
			s.opts.Logger.Error("Failed to mark step completed", "step_id", step.ID, "error", markErr)
			return
		}
		s.emitTerminal(graph, step.ID)
		return
	}

	// Classification happens once, here, and is immutable afterwards.
	stepErr := core.NewStepError(recovery.Classify(err), err)
	if recErr := graph.RecordFailure(step.ID, stepErr, nil); recErr != nil {
		s.opts.Logger.Error("Failed to record step failure", "step_id", step.ID, "error", recErr)
		return
	}
	s.opts.Logger.Warn("Step failed",
		"step_id", step.ID, "name", step.Name, "error_kind", string(stepErr.Kind), "error", err)

	if s.opts.Recovery != nil && ctx.Err() == nil {
		failed, _ := graph.Get(step.ID)
		if failed != nil {
			if recErr := s.opts.Recovery.Recover(ctx, graph, failed); recErr == nil {
				s.emitTerminal(graph, step.ID)
				return
			}
		}
	}

	if markErr := graph.MarkFailed(step.ID, stepErr); markErr != nil {
		s.opts.Logger.Error("Failed to mark step failed", "step_id", step.ID, "error", markErr)
		return
	}
	s.emitTerminal(graph, step.ID)
}

func (s *Scheduler) emitTerminal(graph *core.TaskGraph, id string) {
	step, ok := graph.Get(id)
	if !ok {
		return
	}
	s.opts.Callbacks.EmitStep(core.StepEvent{
		StepID: step.ID, Name: step.Name, Description: step.Description,
		Status: step.Status, Output: step.Output, Err: step.Err,
	})
}
