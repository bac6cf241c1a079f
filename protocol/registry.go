package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/logging"
)

// ErrNotFound is returned when a protocol name is not registered.
var ErrNotFound = errors.New("protocol not found")

// Factory constructs a fresh protocol instance bound to a runtime.
type Factory func(rt Runtime) (Protocol, error)

type entry struct {
	meta    Metadata
	factory Factory
}

// Registry maps protocol names to factories and metadata. Registration is
// expected at process start; the lock only exists so tests and dynamic
// setups can register concurrently with lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
	logger  logging.Logger
}

// NewRegistry constructs an empty protocol registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NewDefaultSlogLogger()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  opts.Logger,
	}
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Register adds a protocol under its metadata name. Re-registration
// overwrites the previous entry with a warning, not an error.
func (r *Registry) Register(meta Metadata, factory Factory) error {
	if meta.Name == "" {
		return fmt.Errorf("protocol name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("protocol %q: factory must not be nil", meta.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.Name]; exists {
		r.logger.Warn("Overwriting registered protocol", "protocol", meta.Name)
	} else {
		r.order = append(r.order, meta.Name)
	}
	r.entries[meta.Name] = entry{meta: meta, factory: factory}
	return nil
}

// Create instantiates a fresh protocol bound to the runtime.
func (r *Registry) Create(name string, rt Runtime) (Protocol, error) {
	r.mu.RLock()
	e, exists := r.entries[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.factory(rt)
}

// Has reports whether a protocol is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

// Metadata returns the metadata registered under name.
func (r *Registry) Metadata(name string) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.entries[name]
	if !exists {
		return Metadata{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.meta, nil
}

// List returns metadata for every registered protocol in registration order.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metas := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		metas = append(metas, r.entries[name].meta)
	}
	return metas
}

// FindByCapabilities returns metadata for protocols supporting every given
// capability, in registration order.
func (r *Registry) FindByCapabilities(caps ...Capability) []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var metas []Metadata
	for _, name := range r.order {
		if r.entries[name].meta.Supports(caps...) {
			metas = append(metas, r.entries[name].meta)
		}
	}
	return metas
}
