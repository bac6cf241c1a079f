// Package tool implements the capability subsystem that lets the engine
// invoke structured external functions (APIs, computations, side effects)
// with schema validated arguments, consistent error handling and declared
// metadata for model guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/schema"
)

// Parameter declares one input parameter of a tool: name, JSON type
// (string, number, integer, boolean, array, object), description and
// whether it is required.
type Parameter = schema.Field

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = schema.ValidationError

// Tool is the external capability contract the engine invokes but does not
// implement.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Declare every accepted parameter
//   - Be safe for concurrent use: the scheduler may dispatch the same tool
//     from multiple steps at once
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is shown to the model so it can decide when to use the tool.
	Description() string

	// Parameters returns the declared input parameters.
	Parameters() []Parameter

	// Execute runs the tool with validated arguments. The context carries the
	// per-step deadline and cancellation.
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Definition is the declarative view of a tool exposed to models and to the
// plan decoder.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON schema object
}

// Define renders a tool into its declarative Definition.
func Define(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schema.Object(t.Parameters()),
	}
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
