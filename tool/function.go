package tool

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/schema"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// Tool.
//
// It validates supplied arguments against the declared parameter list before
// execution and normalizes error handling so callers receive *ToolError with
// consistent codes:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> underlying function returned an error (non-ToolError)
//	(custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	params      []Parameter
	fn          func(ctx context.Context, input map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit parameter list
// and function.
//
// Example:
//
//	sum := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  []tool.Parameter{
//	    {Name: "a", Type: "number", Required: true},
//	    {Name: "b", Type: "number", Required: true},
//	  },
//	  func(ctx context.Context, input map[string]any) (any, error) {
//	    return input["a"].(float64) + input["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	params []Parameter,
	fn func(ctx context.Context, input map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		params:      params,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter list from a struct using
// reflection. Convenience for simple argument containers; equivalent to
// declaring schema.FromStruct(structType) by hand.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, input map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, schema.FromStruct(structType), fn)
}

// Name returns the unique tool name used in step references and plan output.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the declared input parameters.
func (t *FunctionTool) Parameters() []Parameter { return t.params }

// Execute validates the provided input against the declared parameters then
// invokes the underlying function. Validation or execution failures are
// wrapped (or passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	if err := schema.Validate(input, schema.Object(t.params)); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(ctx, input)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok { // Already a ToolError -> forward unchanged
			return nil, toolErr
		}
		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}
	return result, nil
}
