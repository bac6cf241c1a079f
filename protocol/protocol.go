// Package protocol defines the pluggable orchestration strategies that
// drive the scheduler/executor core, and the registry that maps protocol
// names to constructors.
//
// A Protocol owns exactly one task graph per execution and is stateful for
// that execution only: the registry constructs a fresh instance per Create
// call so no state leaks across executions.
package protocol

import (
	"context"

	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

// Capability is a declared execution mode a protocol supports. Callers can
// filter the registry by required capabilities.
type Capability string

const (
	// CapabilityToolUse marks protocols that can invoke registered tools.
	CapabilityToolUse Capability = "tool_use"
	// CapabilityMultiStep marks protocols that execute more than one step.
	CapabilityMultiStep Capability = "multi_step"
	// CapabilityRecursivePlanning marks protocols that plan, then re-plan from intermediate results.
	CapabilityRecursivePlanning Capability = "recursive_planning"
	// CapabilitySelfCorrection marks protocols wired to the recovery chain.
	CapabilitySelfCorrection Capability = "self_correction"
	// CapabilityCollaboration marks protocols coordinating multiple agent roles.
	CapabilityCollaboration Capability = "collaboration"
	// CapabilityStreaming marks protocols that deliver incremental output.
	// None of the built-in protocols declare it yet.
	CapabilityStreaming Capability = "streaming"
	// CapabilityMemory marks protocols that carry state across executions.
	// None of the built-in protocols declare it yet.
	CapabilityMemory Capability = "memory"
)

// Metadata describes a registered protocol.
type Metadata struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Version      string       `json:"version"`
	Capabilities []Capability `json:"capabilities"`
}

// Supports reports whether the metadata declares every given capability.
func (m Metadata) Supports(caps ...Capability) bool {
	for _, want := range caps {
		found := false
		for _, have := range m.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Runtime carries the shared collaborators a protocol instance executes
// against. The registry injects it at Create time.
type Runtime struct {
	Model  model.Model
	Tools  *tool.Registry
	Config config.EngineConfig
	Logger logging.Logger
}

// Protocol is a named, versioned orchestration strategy.
//
// Lifecycle: Init validates configuration and prepares per-execution state,
// Execute runs exactly one task, Cleanup releases anything Init acquired.
// Instances are single-use; obtain a fresh one from the registry for every
// execution.
type Protocol interface {
	Metadata() Metadata
	Init(ctx context.Context) error
	Execute(ctx context.Context, req core.Request, callbacks *core.Callbacks) (core.Result, error)
	Cleanup(ctx context.Context) error
}
