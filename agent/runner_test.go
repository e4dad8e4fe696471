package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplemetrics/finagent/checkpoint"
	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/memory"
	"github.com/maplemetrics/finagent/model"
	"github.com/maplemetrics/finagent/tool"
)

// scriptedModel replays a fixed sequence of assistant messages and can be
// told to fail its first N calls.
type scriptedModel struct {
	mu       sync.Mutex
	failures int
	script   []core.Message
	calls    int
}

func (m *scriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)

		m.mu.Lock()
		m.calls++
		if m.failures > 0 {
			m.failures--
			m.mu.Unlock()
			errCh <- fmt.Errorf("upstream unavailable")
			return
		}
		var msg core.Message
		if len(m.script) > 0 {
			msg = m.script[0]
			m.script = m.script[1:]
		} else {
			msg = core.NewTextMessage(core.RoleAssistant, "done")
		}
		m.mu.Unlock()

		respCh <- model.Response{Message: msg, FinishReason: "stop"}
	}()
	return respCh, errCh
}

func (m *scriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "mock", SupportsTools: true}
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func assistantWithCalls(calls ...core.ToolCall) core.Message {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.ToolCallPart{ToolCall: c})
	}
	return core.NewMessage(core.RoleAssistant, parts...)
}

func echoTool(name string, delay time.Duration) tool.Tool {
	return tool.NewFunctionTool(name, "echoes its input", map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, _ := args["text"].(string)
		return name + ":" + text, nil
	})
}

func blockingTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "never returns before the deadline", map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func newTestRunner(t *testing.T, llm model.Model, store checkpoint.Store, optFns ...func(o *RunnerOptions)) *Runner {
	t.Helper()
	registry, err := tool.BuildRegistry(context.Background(), nil,
		tool.WithNativeTools(echoTool("search", 0), echoTool("slow_search", 60*time.Millisecond), blockingTool("chart")))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	window := memory.NewManager(model.NewMockModel("summarizer"), func(o *memory.ManagerOptions) {
		o.MaxContextTokens = 100000
	})
	return NewRunner(llm, registry, store, window, optFns...)
}

func toolResults(thread *core.Thread) []core.ToolResult {
	var results []core.ToolResult
	for _, msg := range thread.Messages {
		for _, p := range msg.Parts {
			if rp, ok := p.(core.ToolResultPart); ok {
				results = append(results, rp.ToolResult)
			}
		}
	}
	return results
}

func TestRunnerSingleIteration(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{core.NewTextMessage(core.RoleAssistant, "4")}}
	runner := newTestRunner(t, llm, store)

	thread, err := runner.Invoke(context.Background(), "What is 2+2?", "42")
	require.NoError(t, err)

	require.Len(t, thread.Messages, 2)
	assert.Equal(t, core.RoleUser, thread.Messages[0].Role)
	assert.Equal(t, "What is 2+2?", thread.Messages[0].Text())
	assert.Equal(t, core.RoleAssistant, thread.Messages[1].Role)
	assert.Equal(t, "4", thread.Messages[1].Text())
	assert.Equal(t, 1, llm.callCount())

	persisted, err := store.Load("42")
	require.NoError(t, err)
	assert.Len(t, persisted.Messages, 2)
}

func TestRunnerDefaultThreadID(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{core.NewTextMessage(core.RoleAssistant, "hello")}}
	runner := newTestRunner(t, llm, store)

	_, err := runner.Invoke(context.Background(), "hi", "")
	require.NoError(t, err)

	persisted, err := store.Load(DefaultThreadID)
	require.NoError(t, err)
	assert.NotEmpty(t, persisted.Messages)
}

func TestRunnerObservationsFollowRequestOrder(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{
		assistantWithCalls(
			core.ToolCall{ID: "c1", Name: "slow_search", Arguments: `{"text":"first"}`},
			core.ToolCall{ID: "c2", Name: "search", Arguments: `{"text":"second"}`},
			core.ToolCall{ID: "c3", Name: "search", Arguments: `{"text":"third"}`},
		),
		core.NewTextMessage(core.RoleAssistant, "combined answer"),
	}}
	runner := newTestRunner(t, llm, store)

	thread, err := runner.Invoke(context.Background(), "compare three things", "ordering")
	require.NoError(t, err)

	// The slow first call completes last but its observation is still first.
	results := toolResults(thread)
	require.Len(t, results, 3)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "slow_search:first", results[0].Content)
	assert.Equal(t, "c2", results[1].ID)
	assert.Equal(t, "search:second", results[1].Content)
	assert.Equal(t, "c3", results[2].ID)
	assert.Equal(t, "search:third", results[2].Content)
	assert.Equal(t, "combined answer", thread.Messages[len(thread.Messages)-1].Text())
}

func TestRunnerToolTimeoutKeepsSiblings(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{
		assistantWithCalls(
			core.ToolCall{ID: "c1", Name: "chart", Arguments: `{}`},
			core.ToolCall{ID: "c2", Name: "search", Arguments: `{"text":"AAPL"}`},
		),
		core.NewTextMessage(core.RoleAssistant, "partial answer"),
	}}
	runner := newTestRunner(t, llm, store, func(o *RunnerOptions) {
		o.ToolTimeout = 25 * time.Millisecond
	})

	thread, err := runner.Invoke(context.Background(), "chart AAPL", "timeouts")
	require.NoError(t, err)

	results := toolResults(thread)
	require.Len(t, results, 2)
	assert.Equal(t, "chart", results[0].Name)
	assert.Contains(t, results[0].Error, core.ToolCodeTransport)
	assert.Empty(t, results[0].Content)
	assert.Equal(t, "search:AAPL", results[1].Content)
	assert.Empty(t, results[1].Error)
}

func TestRunnerBadArgumentsBecomeObservation(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{
		assistantWithCalls(core.ToolCall{ID: "c1", Name: "search", Arguments: `{not json`}),
		core.NewTextMessage(core.RoleAssistant, "recovered"),
	}}
	runner := newTestRunner(t, llm, store)

	thread, err := runner.Invoke(context.Background(), "search something", "badargs")
	require.NoError(t, err)

	results := toolResults(thread)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, core.ToolCodeArgument)
	assert.Equal(t, "recovered", thread.Messages[len(thread.Messages)-1].Text())
}

func TestRunnerUnknownToolBecomesObservation(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{
		assistantWithCalls(core.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: `{}`}),
		core.NewTextMessage(core.RoleAssistant, "moving on"),
	}}
	runner := newTestRunner(t, llm, store)

	thread, err := runner.Invoke(context.Background(), "use a tool", "unknown")
	require.NoError(t, err)

	results := toolResults(thread)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, core.ToolCodeNotFound)
}

func TestRunnerModelRetrySucceeds(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{
		failures: 2,
		script:   []core.Message{core.NewTextMessage(core.RoleAssistant, "eventually")},
	}
	runner := newTestRunner(t, llm, store, func(o *RunnerOptions) {
		o.RetryInitialInterval = time.Millisecond
	})

	thread, err := runner.Invoke(context.Background(), "flaky upstream", "retry")
	require.NoError(t, err)
	assert.Equal(t, "eventually", thread.Messages[len(thread.Messages)-1].Text())
	assert.Equal(t, 3, llm.callCount())
}

func TestRunnerModelRetryExhaustion(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{failures: 100}
	runner := newTestRunner(t, llm, store, func(o *RunnerOptions) {
		o.ModelRetries = 2
		o.RetryInitialInterval = time.Millisecond
	})

	_, err := runner.Invoke(context.Background(), "hello", "exhausted")
	var rerr *core.ReasoningError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "exhausted", rerr.ThreadID)
	assert.Equal(t, 3, llm.callCount())

	// The failed invocation must not leave partial state behind.
	persisted, loadErr := store.Load("exhausted")
	require.NoError(t, loadErr)
	assert.Empty(t, persisted.Messages)
}

func TestRunnerMaxIterationsTruncates(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	llm := &scriptedModel{script: []core.Message{
		assistantWithCalls(core.ToolCall{ID: "c1", Name: "search", Arguments: `{"text":"a"}`}),
		assistantWithCalls(core.ToolCall{ID: "c2", Name: "search", Arguments: `{"text":"b"}`}),
		assistantWithCalls(core.ToolCall{ID: "c3", Name: "search", Arguments: `{"text":"c"}`}),
	}}
	runner := newTestRunner(t, llm, store, func(o *RunnerOptions) {
		o.MaxIterations = 2
	})

	thread, err := runner.Invoke(context.Background(), "loop forever", "bounded")
	require.NoError(t, err)

	assert.Equal(t, 2, llm.callCount())
	last := thread.Messages[len(thread.Messages)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Contains(t, last.Text(), "truncated after 2 iterations")
}

func TestRunnerRejectsBusyThread(t *testing.T) {
	store := checkpoint.NewInMemoryStore()
	require.NoError(t, store.Acquire("busy"))
	defer store.Release("busy")

	llm := &scriptedModel{}
	runner := newTestRunner(t, llm, store)

	_, err := runner.Invoke(context.Background(), "hello", "busy")
	assert.True(t, errors.Is(err, core.ErrThreadBusy))
	assert.Equal(t, 0, llm.callCount())
}
