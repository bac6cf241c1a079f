// Package taskmesh provides a high-level façade over the protocol registry
// and the scheduler/executor core. Most applications interact with this
// package by:
//  1. Creating a TaskMesh via New() (optionally overriding model, tools, config)
//  2. Registering tools the engine may invoke
//  3. Executing tasks through a named protocol (single_shot, planner, conversation)
//
// The façade wires the built-in protocols, funnels execution history into
// the configured audit sink, and keeps setup ergonomics concise. All
// defaults are safe for local development and testing.
package taskmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/taskmesh/audit"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/protocol"
	"github.com/taskmesh/taskmesh/tool"
)

// Options configures a TaskMesh instance.
type Options struct {
	// Config carries engine knobs (concurrency, timeouts, recovery bounds).
	Config config.EngineConfig

	// Model is the language-model capability executions run against.
	// Defaults to a deterministic mock so local setups work offline.
	Model model.Model

	// Tools is the tool registry. Defaults to an empty registry.
	Tools *tool.Registry

	// Audit receives execution history events. Defaults to a no-op sink.
	Audit audit.Sink

	// Logger provides structured logging. Defaults to slog.Default.
	Logger logging.Logger
}

// TaskMesh is the high-level façade aggregating the protocol registry and
// shared collaborators.
type TaskMesh struct {
	opts     Options
	registry *protocol.Registry
}

// New creates a TaskMesh with the built-in protocols registered. Any unset
// collaborator is initialized with a safe default.
func New(optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		Config: config.Default().Engine,
		Model:  model.NewMockModel("default"),
		Tools:  tool.NewRegistry(),
		Audit:  audit.NopSink{},
		Logger: logging.NewDefaultSlogLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := protocol.NewRegistry(func(o *protocol.RegistryOptions) {
		o.Logger = opts.Logger
	})
	m := &TaskMesh{opts: opts, registry: registry}
	m.registerBuiltins()
	return m
}

func (m *TaskMesh) registerBuiltins() {
	builtins := []struct {
		meta    protocol.Metadata
		factory protocol.Factory
	}{
		{meta: mustMetadata(protocol.NewSingleShot), factory: protocol.NewSingleShot},
		{meta: mustMetadata(protocol.NewPlanner), factory: protocol.NewPlanner},
		{meta: mustMetadata(protocol.NewConversation), factory: protocol.NewConversation},
	}
	for _, b := range builtins {
		if err := m.registry.Register(b.meta, b.factory); err != nil {
			m.opts.Logger.Error("Failed to register builtin protocol", "protocol", b.meta.Name, "error", err)
		}
	}
}

// mustMetadata probes a factory for its metadata using a throwaway runtime.
func mustMetadata(factory protocol.Factory) protocol.Metadata {
	p, err := factory(protocol.Runtime{
		Model:  model.NewMockModel("probe"),
		Tools:  tool.NewRegistry(),
		Config: config.Default().Engine,
		Logger: logging.NoOpLogger{},
	})
	if err != nil {
		return protocol.Metadata{}
	}
	return p.Metadata()
}

// Registry exposes the protocol registry for custom protocol registration.
func (m *TaskMesh) Registry() *protocol.Registry { return m.registry }

// Tools exposes the shared tool registry.
func (m *TaskMesh) Tools() *tool.Registry { return m.opts.Tools }

// RegisterTool adds a tool to the shared registry.
func (m *TaskMesh) RegisterTool(t tool.Tool) error { return m.opts.Tools.Register(t) }

// Execute runs a task through the named protocol. A fresh protocol
// instance is created per call so no state leaks across executions. The
// result always carries a per-step account, including for partially failed
// runs; only engine-level failures return a non-nil error.
func (m *TaskMesh) Execute(ctx context.Context, protocolName string, req core.Request, callbacks *core.Callbacks) (core.Result, error) {
	rt := protocol.Runtime{
		Model:  m.opts.Model,
		Tools:  m.opts.Tools,
		Config: m.opts.Config,
		Logger: m.opts.Logger,
	}
	p, err := m.registry.Create(protocolName, rt)
	if err != nil {
		return core.Result{}, err
	}
	if err := p.Init(ctx); err != nil {
		return core.Result{}, fmt.Errorf("protocol %s: init: %w", protocolName, err)
	}
	defer func() {
		if err := p.Cleanup(context.WithoutCancel(ctx)); err != nil {
			m.opts.Logger.Warn("Protocol cleanup failed", "protocol", protocolName, "error", err)
		}
	}()

	executionID := uuid.NewString()
	startedAt := time.Now()
	m.emitStarted(ctx, executionID, protocolName, req.Task, startedAt)

	result, execErr := p.Execute(ctx, req, m.withAudit(ctx, executionID, callbacks))

	m.emitFinished(ctx, executionID, protocolName, req.Task, startedAt, execErr)
	return result, execErr
}

// withAudit wraps the caller's callbacks so terminal step events also land
// in the audit sink. The caller's observers still fire unchanged.
func (m *TaskMesh) withAudit(ctx context.Context, executionID string, callbacks *core.Callbacks) *core.Callbacks {
	inner := callbacks
	return &core.Callbacks{
		OnStart: func() { inner.EmitStart() },
		OnStep: func(ev core.StepEvent) {
			if ev.Status.Terminal() {
				rec := audit.StepRecord{
					ExecutionID: executionID,
					StepID:      ev.StepID,
					Name:        ev.Name,
					Status:      ev.Status,
				}
				if ev.Err != nil {
					rec.ErrorKind = ev.Err.Kind
					rec.Error = ev.Err.Message
				}
				if err := m.opts.Audit.StepFinished(ctx, rec); err != nil {
					m.opts.Logger.Warn("Audit step record failed", "step_id", ev.StepID, "error", err)
				}
			}
			inner.EmitStep(ev)
		},
		OnToolUse:  func(ev core.ToolEvent) { inner.EmitToolUse(ev) },
		OnComplete: func(result core.Result) { inner.EmitComplete(result) },
		OnError:    func(err error) { inner.EmitError(err) },
	}
}

func (m *TaskMesh) emitStarted(ctx context.Context, id, protocolName, task string, startedAt time.Time) {
	err := m.opts.Audit.ExecutionStarted(ctx, audit.Execution{
		ID: id, Protocol: protocolName, Task: task,
		StartedAt: startedAt, Status: "running",
	})
	if err != nil {
		m.opts.Logger.Warn("Audit execution record failed", "execution_id", id, "error", err)
	}
}

func (m *TaskMesh) emitFinished(ctx context.Context, id, protocolName, task string, startedAt time.Time, execErr error) {
	ex := audit.Execution{
		ID: id, Protocol: protocolName, Task: task,
		StartedAt: startedAt, EndedAt: time.Now(), Status: "completed",
	}
	if execErr != nil {
		ex.Status = "failed"
		ex.Error = execErr.Error()
	}
	if err := m.opts.Audit.ExecutionFinished(ctx, ex); err != nil {
		m.opts.Logger.Warn("Audit execution record failed", "execution_id", id, "error", err)
	}
}
