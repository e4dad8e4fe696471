package core

import "time"

// RunningSummary is a condensed replacement for a prefix of a thread's
// message history. It strictly replaces the messages it subsumes; the
// attached token estimate lets the context manager reason about budgets
// without re-counting.
type RunningSummary struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Thread is a logical conversation identified by a caller-supplied id.
// The message history is ordered and append-only. Threads are owned by the
// checkpoint store; the reasoning loop operates on a transient working copy
// and writes back before returning.
type Thread struct {
	ID       string          `json:"id"`
	Messages []Message       `json:"messages"`
	Summary  *RunningSummary `json:"summary,omitempty"`
	Created  time.Time       `json:"created"`
	Updated  time.Time       `json:"updated"`
}

// NewThread creates an empty thread with the given id.
func NewThread(id string) *Thread {
	now := time.Now().UTC()
	return &Thread{ID: id, Created: now, Updated: now}
}

// Append adds messages to the history updating the Updated timestamp.
func (t *Thread) Append(msgs ...Message) {
	t.Messages = append(t.Messages, msgs...)
	t.Updated = time.Now().UTC()
}

// LastMessage returns the most recent message and true, or a zero message
// and false for an empty thread.
func (t *Thread) LastMessage() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// Clone returns a deep copy of the thread safe for independent mutation.
// Part values are immutable by convention so the message slice copy is
// sufficient.
func (t *Thread) Clone() *Thread {
	clone := &Thread{ID: t.ID, Created: t.Created, Updated: t.Updated}
	if len(t.Messages) > 0 {
		clone.Messages = make([]Message, len(t.Messages))
		copy(clone.Messages, t.Messages)
	}
	if t.Summary != nil {
		s := *t.Summary
		clone.Summary = &s
	}
	return clone
}
