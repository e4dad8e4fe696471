package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for recoverable conditions. Callers should test with
// errors.Is since they are usually wrapped with additional context.
var (
	// ErrThreadBusy is returned when a second invocation arrives for a
	// thread id that is mid-turn. The checkpoint store rejects rather than
	// queues; callers may retry once the in-flight turn completes.
	ErrThreadBusy = errors.New("thread busy")

	// ErrEmptyOutput signals that structured extraction produced an empty
	// user_output. It triggers the verbatim fallback and is never
	// propagated to callers.
	ErrEmptyOutput = errors.New("empty user output")
)

// ConfigurationError is fatal at startup: duplicate tool names after
// aggregation, missing required transport settings and similar.
type ConfigurationError struct {
	Field   string // Offending setting or tool name
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigurationError creates a ConfigurationError for the given field.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Tool error codes carried by ToolError. Tool-level errors are per-call and
// recoverable: the reasoning loop converts them into observations instead of
// aborting the turn.
const (
	ToolCodeNotFound  = "NOT_FOUND"
	ToolCodeArgument  = "ARGUMENT"
	ToolCodeTransport = "TRANSPORT"
)

// ToolError categorizes a failed tool invocation.
type ToolError struct {
	Tool    string // Name the caller asked for
	Code    string // One of the ToolCode* constants
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a ToolError with the given code.
func NewToolError(tool, code, message string, cause error) *ToolError {
	return &ToolError{Tool: tool, Code: code, Message: message, Cause: cause}
}

// ReasoningError is fatal for one invocation: the model stayed unreachable
// after retry exhaustion. Previously checkpointed thread state is left
// intact for the next call.
type ReasoningError struct {
	ThreadID string
	Attempts int
	Cause    error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning failed for thread %s after %d attempts: %v", e.ThreadID, e.Attempts, e.Cause)
}

func (e *ReasoningError) Unwrap() error { return e.Cause }
