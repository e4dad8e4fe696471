package tool

import "context"

// FunctionTool is a generic adapter that exposes a plain Go function as a
// Tool. It holds a lightweight JSON-Schema parameter specification; argument
// validation against that schema happens in the Registry before Call runs.
//
// A FunctionTool has no internal mutable state after construction and is
// safe for concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (string, error) {
//	    return fmt.Sprintf("%v", args["a"].(float64)+args["b"].(float64)), nil
//	  },
//	)
func NewFunctionTool(
	name string,
	description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (string, error),
) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// Name returns the tool identifier.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the human-readable description.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema for the accepted arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call executes the wrapped function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}
