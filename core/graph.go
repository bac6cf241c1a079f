package core

import (
	"fmt"
	"sync"

	"github.com/gammazero/toposort"
)

// TaskGraph is a dependency-ordered collection of steps for one execution.
//
// The graph is safe for concurrent access. Step state is mutated only
// through the Mark* methods; all read accessors return clones so callers
// can never corrupt internal state. Selection order is deterministic:
// ReadySteps yields steps in original insertion order.
type TaskGraph struct {
	mu    sync.RWMutex
	task  string
	steps map[string]*Step
	order []string
}

// NewTaskGraph creates an empty graph for the given root task description.
func NewTaskGraph(task string) *TaskGraph {
	return &TaskGraph{
		task:  task,
		steps: make(map[string]*Step),
	}
}

// Task returns the root task description.
func (g *TaskGraph) Task() string { return g.task }

// AddStep adds a single step. Dependencies may reference IDs that are not
// added yet; Validate checks them before scheduling begins.
func (g *TaskGraph) AddStep(step *Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addStepLocked(step)
}

// AddSteps adds steps in order, rejecting the whole set on the first
// duplicate ID.
func (g *TaskGraph) AddSteps(steps []*Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, step := range steps {
		if err := g.addStepLocked(step); err != nil {
			return err
		}
	}
	return nil
}

func (g *TaskGraph) addStepLocked(step *Step) error {
	if step.ID == "" {
		return fmt.Errorf("step %q: missing id", step.Name)
	}
	if _, exists := g.steps[step.ID]; exists {
		return fmt.Errorf("step %q: %w", step.ID, ErrDuplicateStep)
	}
	if step.Status == "" {
		step.Status = StepPending
	}
	g.steps[step.ID] = step
	g.order = append(g.order, step.ID)
	return nil
}

// Validate verifies every referenced dependency exists and the dependency
// relation is acyclic. It must pass before scheduling begins.
func (g *TaskGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for _, id := range g.order {
		step := g.steps[id]
		if len(step.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range step.DependsOn {
			if _, exists := g.steps[depID]; !exists {
				return fmt.Errorf("step %q depends on %q: %w", id, depID, ErrUnknownDependency)
			}
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrGraphCycle, err)
	}
	return nil
}

// ReadySteps returns clones of all pending steps whose dependencies have all
// reached a successful terminal status, in insertion order.
func (g *TaskGraph) ReadySteps() []*Step {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*Step
	for _, id := range g.order {
		step := g.steps[id]
		if step.Status != StepPending {
			continue
		}
		eligible := true
		for _, depID := range step.DependsOn {
			dep, exists := g.steps[depID]
			if !exists || !dep.Status.Successful() {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, step.Clone())
		}
	}
	return ready
}

// IsComplete reports whether no step is pending or in progress.
func (g *TaskGraph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, step := range g.steps {
		if !step.Status.Terminal() {
			return false
		}
	}
	return true
}

// HasDeadlock reports whether pending steps remain but none can ever become
// ready: every pending step has at least one dependency that is failed or
// part of an unresolvable chain. Used by the scheduler to abort instead of
// spinning forever.
func (g *TaskGraph) HasDeadlock() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pending := 0
	for _, step := range g.steps {
		switch step.Status {
		case StepInProgress:
			// Something is still running; progress is possible.
			return false
		case StepPending:
			pending++
		}
	}
	if pending == 0 {
		return false
	}

	for _, id := range g.order {
		step := g.steps[id]
		if step.Status != StepPending {
			continue
		}
		eligible := true
		for _, depID := range step.DependsOn {
			dep, exists := g.steps[depID]
			if !exists || !dep.Status.Successful() {
				eligible = false
				break
			}
		}
		if eligible {
			return false
		}
	}
	return true
}

// Get returns a clone of the step with the given ID.
func (g *TaskGraph) Get(id string) (*Step, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	step, exists := g.steps[id]
	if !exists {
		return nil, false
	}
	return step.Clone(), true
}

// Steps returns clones of all steps in insertion order.
func (g *TaskGraph) Steps() []*Step {
	g.mu.RLock()
	defer g.mu.RUnlock()
	steps := make([]*Step, 0, len(g.order))
	for _, id := range g.order {
		steps = append(steps, g.steps[id].Clone())
	}
	return steps
}

// Len returns the number of steps in the graph.
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// MarkInProgress transitions a pending step to in_progress and stamps its
// start time.
func (g *TaskGraph) MarkInProgress(id string) error {
	return g.transition(id, func(step *Step) {
		step.Status = StepInProgress
		step.StartedAt = nowFunc()
	})
}

// MarkCompleted transitions a step to completed with its output.
func (g *TaskGraph) MarkCompleted(id string, output any) error {
	return g.transition(id, func(step *Step) {
		step.Status = StepCompleted
		step.Output = output
		step.EndedAt = nowFunc()
	})
}

// MarkFailed transitions a step to failed with its classified error.
func (g *TaskGraph) MarkFailed(id string, stepErr *StepError) error {
	return g.transition(id, func(step *Step) {
		step.Status = StepFailed
		step.Err = stepErr
		step.EndedAt = nowFunc()
	})
}

// MarkRecovered transitions a step to recovered, recording the strategy
// outcome and the substitute output it produced.
func (g *TaskGraph) MarkRecovered(id string, output any, record *RecoveryRecord) error {
	return g.transition(id, func(step *Step) {
		step.Status = StepRecovered
		step.Output = output
		step.Recovery = record
		step.EndedAt = nowFunc()
	})
}

// RecordFailure attaches a classified error and recovery record to a step
// without changing its status. Used while the recovery chain is still
// working on the step.
func (g *TaskGraph) RecordFailure(id string, stepErr *StepError, record *RecoveryRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	step, exists := g.steps[id]
	if !exists {
		return fmt.Errorf("step %q: %w", id, ErrStepNotFound)
	}
	step.Err = stepErr
	step.Recovery = record
	return nil
}

func (g *TaskGraph) transition(id string, apply func(*Step)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	step, exists := g.steps[id]
	if !exists {
		return fmt.Errorf("step %q: %w", id, ErrStepNotFound)
	}
	if step.Status.Terminal() {
		return fmt.Errorf("step %q (%s): %w", id, step.Status, ErrStepTerminal)
	}
	apply(step)
	return nil
}
