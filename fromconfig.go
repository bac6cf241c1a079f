package taskmesh

import (
	"fmt"
	"os"

	"github.com/taskmesh/taskmesh/audit"
	"github.com/taskmesh/taskmesh/audit/sqlite"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/model/anthropic"
	"github.com/taskmesh/taskmesh/model/openai"
)

// NewFromConfig builds a TaskMesh from a full configuration document,
// wiring the model provider, logger and audit backend the config selects.
// Option functions run after the config is applied, so callers can still
// override any collaborator (e.g. swap in a mock model for tests).
func NewFromConfig(cfg config.Config, optFns ...func(o *Options)) (*TaskMesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewEngineLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		Component: "taskmesh",
	})

	var m model.Model
	switch cfg.Model.Provider {
	case "openai":
		m = openai.NewModelFromConfig(cfg.Model)
	case "mock":
		m = model.NewMockModel(cfg.Model.Name)
	default:
		m = anthropic.NewModelFromConfig(cfg.Model)
	}

	var sink audit.Sink
	switch cfg.Audit.Backend {
	case "sqlite":
		s, err := sqlite.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("taskmesh: opening audit store: %w", err)
		}
		sink = s
	case "memory":
		sink = audit.NewMemorySink()
	default:
		sink = audit.NopSink{}
	}

	combined := append([]func(o *Options){func(o *Options) {
		o.Config = cfg.Engine
		o.Model = m
		o.Audit = sink
		o.Logger = logger
	}}, optFns...)
	return New(combined...), nil
}

// LoadAndNew reads a YAML config file and builds a TaskMesh from it.
func LoadAndNew(path string, optFns ...func(o *Options)) (*TaskMesh, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, optFns...)
}
