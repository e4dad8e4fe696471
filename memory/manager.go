package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/model"
)

const summaryInstruction = "You maintain the running summary of an ongoing conversation. " +
	"Condense the prior summary and the messages below into a single dense summary. " +
	"Keep every fact, figure, ticker, date and URL that later turns may need. " +
	"Stay within roughly %d tokens. Reply with the summary text only."

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// MaxContextTokens bounds the estimated size of the history handed to
	// the model; exceeding it triggers summarization.
	MaxContextTokens int

	// MaxSummaryTokens bounds the condensed summary produced by the
	// summarization call.
	MaxSummaryTokens int

	Logger logging.Logger
}

// Manager decides whether a message history fits the configured token budget
// and condenses the oldest contiguous prefix into a running summary when it
// does not. The condensation step is itself a model call; when it fails the
// manager falls back to outright truncation (lossy but available) rather
// than aborting the turn.
type Manager struct {
	summarizer       model.Model
	maxContextTokens int
	maxSummaryTokens int
	logger           logging.Logger
}

// NewManager creates a context manager backed by the given summarization model.
func NewManager(summarizer model.Model, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		MaxContextTokens: 2000,
		MaxSummaryTokens: 1000,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		summarizer:       summarizer,
		maxContextTokens: opts.MaxContextTokens,
		maxSummaryTokens: opts.MaxSummaryTokens,
		logger:           opts.Logger,
	}
}

// Fit returns the trimmed history and the updated running summary.
//
// Below budget the history and summary come back unchanged. Over budget the
// oldest contiguous prefix whose removal brings the remainder under budget is
// condensed together with the prior summary; the suffix is returned with the
// new summary. A history whose most recent message alone exceeds the budget
// is passed through unmodified with a warning; blocking the turn is never an
// option here.
func (m *Manager) Fit(ctx context.Context, history []core.Message, summary *core.RunningSummary) ([]core.Message, *core.RunningSummary) {
	total := EstimateMessages(history)
	if summary != nil {
		total += summary.Tokens
	}
	if total <= m.maxContextTokens {
		return history, summary
	}

	// Reserve room for the summary itself when sizing the suffix.
	suffixBudget := m.maxContextTokens - m.maxSummaryTokens
	if suffixBudget < 0 {
		suffixBudget = 0
	}

	cut := m.findCut(history, suffixBudget)
	if cut == 0 {
		m.logger.Warn("most recent message alone exceeds the context budget, passing through",
			"estimated_tokens", total, "max_context_tokens", m.maxContextTokens)
		return history, summary
	}

	prefix, suffix := history[:cut], history[cut:]
	condensed, err := m.condense(ctx, summary, prefix)
	if err != nil {
		m.logger.Warn("summarization failed, truncating oldest messages instead",
			"dropped_messages", len(prefix), "error", err)
		return suffix, summary
	}

	m.logger.Info("condensed history prefix into running summary",
		"condensed_messages", len(prefix), "summary_tokens", condensed.Tokens)
	return suffix, condensed
}

// findCut returns the smallest prefix length whose removal brings the
// remaining suffix within budget. The most recent message is never cut.
func (m *Manager) findCut(history []core.Message, budget int) int {
	suffixTokens := EstimateMessages(history)
	cut := 0
	for cut < len(history)-1 && suffixTokens > budget {
		suffixTokens -= EstimateMessage(history[cut])
		cut++
	}
	return cut
}

// condense asks the summarizer to fold the prior summary and the prefix into
// a new bounded summary.
func (m *Manager) condense(ctx context.Context, prior *core.RunningSummary, prefix []core.Message) (*core.RunningSummary, error) {
	var b strings.Builder
	if prior != nil && prior.Text != "" {
		b.WriteString("Prior summary:\n")
		b.WriteString(prior.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Messages to fold in:\n")
	for _, msg := range prefix {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n")
	}

	req := model.Request{Messages: []core.Message{
		core.NewTextMessage(core.RoleSystem, fmt.Sprintf(summaryInstruction, m.maxSummaryTokens)),
		core.NewTextMessage(core.RoleUser, b.String()),
	}}

	respCh, errCh := m.summarizer.Generate(ctx, req)
	text, err := collectText(ctx, respCh, errCh)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("summarizer returned empty text")
	}
	return &core.RunningSummary{Text: text, Tokens: EstimateText(text)}, nil
}

// renderMessage flattens one message for the summarization prompt.
func renderMessage(msg core.Message) string {
	var b strings.Builder
	b.WriteString(msg.Role)
	b.WriteString(": ")
	b.WriteString(msg.Text())
	for _, call := range msg.ToolCalls() {
		fmt.Fprintf(&b, " [called %s(%s)]", call.Name, call.Arguments)
	}
	for _, p := range msg.Parts {
		if tr, ok := p.(core.ToolResultPart); ok {
			if tr.ToolResult.Error != "" {
				fmt.Fprintf(&b, " [%s failed: %s]", tr.ToolResult.Name, tr.ToolResult.Error)
			} else {
				fmt.Fprintf(&b, " [%s returned: %s]", tr.ToolResult.Name, tr.ToolResult.Content)
			}
		}
	}
	return b.String()
}

// collectText drains a Generate call and concatenates the final response text.
func collectText(ctx context.Context, respCh <-chan model.Response, errCh <-chan error) (string, error) {
	var text string
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				text = resp.Message.Text()
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, nil
}
