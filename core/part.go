package core

// Part represents a polymorphic segment of role-based message content.
// Concrete part types implement the unexported isPart marker enabling a
// closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`        // Stable id correlating call and observation
	Name      string `json:"name"`                // Registered tool name
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument payload
}

// ToolCallPart wraps a ToolCall as a content part.
type ToolCallPart struct {
	ToolCall ToolCall
}

// isPart implements the Part interface for ToolCallPart.
func (ToolCallPart) isPart() {}

// ToolResult describes the observation produced by executing a tool call.
// Exactly one of Content or Error is meaningful; Error is populated when
// the invocation failed and becomes part of the transcript so the model
// can adapt.
type ToolResult struct {
	ID      string `json:"id,omitempty"`      // Matches originating ToolCall ID
	Name    string `json:"name"`              // Tool name
	Content string `json:"content,omitempty"` // Successful observation text
	Error   string `json:"error,omitempty"`   // Failure description
}

// ToolResultPart wraps a ToolResult as a content part.
type ToolResultPart struct {
	ToolResult ToolResult
}

// isPart implements the Part interface for ToolResultPart.
func (ToolResultPart) isPart() {}
