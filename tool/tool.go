// Package tool implements the tool calling subsystem: the Tool interface,
// a function adapter for native Go tools and the Registry that aggregates
// tools from heterogeneous MCP transports behind a flat name space with
// schema-validated invocation.
package tool

import "context"

// Tool defines an external capability invocable by the reasoning loop.
//
// Implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description returns a human-readable description of what this tool
	// does, provided to the model to guide usage.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-validated arguments and returns
	// the observation text.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Descriptor is the registry's read-only view of one aggregated tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}
