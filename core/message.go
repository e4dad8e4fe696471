package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation roles. Ordering of messages within a thread is significant
// and append-only.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn unit inside a thread. Content is carried as ordered
// heterogeneous parts; an assistant message may carry one or more ToolCallPart
// entries, a tool message carries exactly one ToolResultPart. After being
// appended to a thread a message should be treated as immutable.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID returns a new random identifier for messages and invocations.
func NewID() string { return uuid.NewString() }

// NewMessage creates a message with the given role and parts.
func NewMessage(role string, parts ...Part) Message {
	return Message{ID: NewID(), Role: role, Parts: parts, Timestamp: time.Now().UTC()}
}

// NewTextMessage creates a single-text-part message.
func NewTextMessage(role, text string) Message {
	return NewMessage(role, TextPart{Text: text})
}

// NewToolResultMessage creates the tool-observation message for a completed
// (or failed) tool call. A non-nil err takes precedence over content.
func NewToolResultMessage(call ToolCall, content string, err error) Message {
	res := ToolResult{ID: call.ID, Name: call.Name}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Content = content
	}
	return NewMessage(RoleTool, ToolResultPart{ToolResult: res})
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls requested by this message in part order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if cp, ok := p.(ToolCallPart); ok {
			calls = append(calls, cp.ToolCall)
		}
	}
	return calls
}

// HasToolCalls reports whether the message requests any tool invocation.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls()) > 0 }
