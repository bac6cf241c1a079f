// Package model defines the provider-agnostic completion contract the engine
// drives, plus a deterministic mock for tests and examples.
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (executor, protocols, recovery) remain decoupled
// from vendor SDKs.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CompletionRequest captures the normalized model input produced by the
// executor and the recovery strategies.
type CompletionRequest struct {
	System      string  `json:"system,omitempty"` // System instructions
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the final result of a completion call.
type CompletionResponse struct {
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"` // "stop", "length", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation. Completions
// are inherently non-deterministic; callers must not assume identical output
// on retry.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
//
// Responses resolve in order: scripted queue (FIFO), then substring-matched
// canned responses, then a deterministic echo fallback. A non-nil Err is
// returned for every call until cleared.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	scripted  []string
	responses map[string]string
	Err       error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion returned when the prompt
// contains match.
func (m *MockModel) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// Enqueue appends scripted responses consumed in FIFO order before any
// substring matching happens.
func (m *MockModel) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, responses...)
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return CompletionResponse{}, m.Err
	}
	if len(m.scripted) > 0 {
		text := m.scripted[0]
		m.scripted = m.scripted[1:]
		return CompletionResponse{Text: text, FinishReason: "stop"}, nil
	}
	for match, response := range m.responses {
		if strings.Contains(req.Prompt, match) {
			return CompletionResponse{Text: response, FinishReason: "stop"}, nil
		}
	}
	return CompletionResponse{
		Text:         fmt.Sprintf("Mock response to: %s", req.Prompt),
		FinishReason: "stop",
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
