package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/model"
)

// failingModel always errors, exercising the truncation fallback.
type failingModel struct{}

func (failingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	errCh <- fmt.Errorf("summarizer unreachable")
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (failingModel) Info() model.Info { return model.Info{Name: "failing", Provider: "mock"} }

// cannedSummarizer returns a fixed summary for any input.
type cannedSummarizer struct{ summary string }

func (c cannedSummarizer) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error)
	respCh <- model.Response{Message: core.NewTextMessage(core.RoleAssistant, c.summary), FinishReason: "stop"}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (cannedSummarizer) Info() model.Info { return model.Info{Name: "canned", Provider: "mock"} }

func history(texts ...string) []core.Message {
	msgs := make([]core.Message, 0, len(texts))
	role := core.RoleUser
	for _, text := range texts {
		msgs = append(msgs, core.NewTextMessage(role, text))
		if role == core.RoleUser {
			role = core.RoleAssistant
		} else {
			role = core.RoleUser
		}
	}
	return msgs
}

func TestEstimateMonotonicity(t *testing.T) {
	short := EstimateText("price of TSLA")
	long := EstimateText("price of TSLA over the last thirty days with volume")
	assert.Greater(t, long, short)
	assert.Equal(t, 0, EstimateText(""))

	msgs := history("a", "b")
	more := append(append([]core.Message{}, msgs...), core.NewTextMessage(core.RoleUser, "c"))
	assert.Greater(t, EstimateMessages(more), EstimateMessages(msgs))
}

func TestFitBelowBudgetReturnsUnchanged(t *testing.T) {
	mgr := NewManager(cannedSummarizer{summary: "unused"}, func(o *ManagerOptions) {
		o.MaxContextTokens = 10_000
		o.MaxSummaryTokens = 1_000
	})

	msgs := history("hello", "hi, how can I help?")
	summary := &core.RunningSummary{Text: "prior", Tokens: 2}

	got, gotSummary := mgr.Fit(context.Background(), msgs, summary)
	assert.Equal(t, msgs, got)
	assert.Same(t, summary, gotSummary)
}

func TestFitCondensesOldestPrefix(t *testing.T) {
	mgr := NewManager(cannedSummarizer{summary: "earlier: user asked about TSLA"}, func(o *ManagerOptions) {
		o.MaxContextTokens = 120
		o.MaxSummaryTokens = 40
	})

	big := strings.Repeat("market data ", 30)
	msgs := history(big, big, "latest question")

	got, gotSummary := mgr.Fit(context.Background(), msgs, nil)
	require.NotNil(t, gotSummary)
	assert.Equal(t, "earlier: user asked about TSLA", gotSummary.Text)
	assert.Greater(t, gotSummary.Tokens, 0)

	// The suffix survives and ends with the newest message.
	require.NotEmpty(t, got)
	assert.Equal(t, "latest question", got[len(got)-1].Text())
	assert.Less(t, len(got), len(msgs))
}

func TestFitFallsBackToTruncationOnSummarizerFailure(t *testing.T) {
	mgr := NewManager(failingModel{}, func(o *ManagerOptions) {
		o.MaxContextTokens = 120
		o.MaxSummaryTokens = 40
	})

	big := strings.Repeat("market data ", 30)
	prior := &core.RunningSummary{Text: "prior", Tokens: 2}
	msgs := history(big, big, "latest question")

	got, gotSummary := mgr.Fit(context.Background(), msgs, prior)
	// Lossy truncation: prefix dropped, prior summary untouched, turn not aborted.
	assert.Same(t, prior, gotSummary)
	require.NotEmpty(t, got)
	assert.Equal(t, "latest question", got[len(got)-1].Text())
	assert.Less(t, len(got), len(msgs))
}

func TestFitPassesThroughSingleOversizeMessage(t *testing.T) {
	mgr := NewManager(cannedSummarizer{summary: "unused"}, func(o *ManagerOptions) {
		o.MaxContextTokens = 20
		o.MaxSummaryTokens = 10
	})

	huge := []core.Message{core.NewTextMessage(core.RoleUser, strings.Repeat("x", 2000))}
	got, gotSummary := mgr.Fit(context.Background(), huge, nil)
	assert.Equal(t, huge, got)
	assert.Nil(t, gotSummary)
}
