package output

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/model"
)

// cannedExtractor returns a fixed payload for every extraction call.
type cannedExtractor struct {
	payload string
	err     error
}

func (m *cannedExtractor) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if m.err != nil {
			errCh <- m.err
			return
		}
		respCh <- model.Response{
			Message:      core.NewTextMessage(core.RoleAssistant, m.payload),
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

func (m *cannedExtractor) Info() model.Info {
	return model.Info{Name: "canned", Provider: "mock"}
}

func TestExtractWellFormedRecord(t *testing.T) {
	llm := &cannedExtractor{payload: `{
		"user_output": "AAPL closed at 230.12, up 1.4% on the day.",
		"insights_summary": "Apple outperformed the broader market.",
		"charting_url": "https://charts.example.com/aapl.png"
	}`}
	extractor := NewExtractor(llm)

	record, err := extractor.Extract(context.Background(), "AAPL closed at 230.12, up 1.4% on the day.")
	require.NoError(t, err)
	assert.Equal(t, "AAPL closed at 230.12, up 1.4% on the day.", record.UserOutput)
	assert.Equal(t, "Apple outperformed the broader market.", record.InsightsSummary)
	assert.Equal(t, "https://charts.example.com/aapl.png", record.ChartingURL)
}

func TestExtractModelFailureFallsBackVerbatim(t *testing.T) {
	llm := &cannedExtractor{err: fmt.Errorf("upstream unavailable")}
	extractor := NewExtractor(llm)

	record, err := extractor.Extract(context.Background(), "the raw answer")
	require.NoError(t, err)
	assert.Equal(t, "the raw answer", record.UserOutput)
	assert.Empty(t, record.InsightsSummary)
	assert.Empty(t, record.ChartingURL)
}

func TestExtractUnparseablePayloadFallsBackVerbatim(t *testing.T) {
	llm := &cannedExtractor{payload: "not json at all"}
	extractor := NewExtractor(llm)

	record, err := extractor.Extract(context.Background(), "the raw answer")
	require.NoError(t, err)
	assert.Equal(t, "the raw answer", record.UserOutput)
}

func TestExtractEmptyUserOutputFallsBackVerbatim(t *testing.T) {
	llm := &cannedExtractor{payload: `{"user_output": "  ", "insights_summary": "something", "charting_url": ""}`}
	extractor := NewExtractor(llm)

	record, err := extractor.Extract(context.Background(), "the raw answer")
	require.NoError(t, err)
	assert.Equal(t, "the raw answer", record.UserOutput)
	assert.Equal(t, "something", record.InsightsSummary)
}

func TestExtractDropsMalformedChartURL(t *testing.T) {
	llm := &cannedExtractor{payload: `{"user_output": "done", "insights_summary": "", "charting_url": "not-a-url"}`}
	extractor := NewExtractor(llm)

	record, err := extractor.Extract(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, "done", record.UserOutput)
	assert.Empty(t, record.ChartingURL)
}

func TestExtractEmptyAnswerIsAnError(t *testing.T) {
	extractor := NewExtractor(&cannedExtractor{payload: "{}"})

	_, err := extractor.Extract(context.Background(), "   ")
	require.Error(t, err)
}
