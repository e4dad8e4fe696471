package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maplemetrics/finagent/checkpoint"
	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/memory"
	"github.com/maplemetrics/finagent/model"
	"github.com/maplemetrics/finagent/tool"
)

// DefaultThreadID is used when a caller omits the thread id.
const DefaultThreadID = "1"

// RunnerOptions configures a Runner instance.
type RunnerOptions struct {
	// SystemPrompt is the fixed instruction seeded at the start of every
	// turn. It is not persisted to the thread.
	SystemPrompt string

	// MaxIterations bounds the model/tool cycle per invocation. Exceeding
	// it forces completion with a truncation diagnostic.
	MaxIterations int

	// ModelRetries is the number of retries (beyond the first attempt)
	// for a failed model call.
	ModelRetries int

	// RetryInitialInterval seeds the exponential backoff between model
	// call retries.
	RetryInitialInterval time.Duration

	// ModelTimeout bounds a single model call attempt.
	ModelTimeout time.Duration

	// ToolTimeout bounds a single tool invocation.
	ToolTimeout time.Duration

	// MaxParallelTools bounds concurrent tool invocations within one
	// dispatch step. Zero or negative means no explicit limit.
	MaxParallelTools int

	Logger logging.Logger
}

// Runner drives the reasoning loop for one configured agent: model, tool
// registry, checkpoint store and context manager are shared read-mostly
// state; per-thread mutation is serialized through the store.
type Runner struct {
	llm      model.Model
	registry *tool.Registry
	store    checkpoint.Store
	window   *memory.Manager
	opts     RunnerOptions
}

// NewRunner creates a reasoning loop with sensible defaults.
func NewRunner(
	llm model.Model,
	registry *tool.Registry,
	store checkpoint.Store,
	window *memory.Manager,
	optFns ...func(o *RunnerOptions),
) *Runner {
	opts := RunnerOptions{
		SystemPrompt:         "You are a helpful AI assistant.",
		MaxIterations:        25,
		ModelRetries:         3,
		RetryInitialInterval: 500 * time.Millisecond,
		ModelTimeout:         120 * time.Second,
		ToolTimeout:          30 * time.Second,
		MaxParallelTools:     4,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{llm: llm, registry: registry, store: store, window: window, opts: opts}
}

// Invoke runs one complete turn for the given prompt and thread id and
// returns the updated thread. The final assistant message is the last entry
// of the returned thread.
//
// A busy thread id fails fast with core.ErrThreadBusy. Model unreachability
// after retry exhaustion fails with *core.ReasoningError, leaving previously
// checkpointed state intact.
func (r *Runner) Invoke(ctx context.Context, prompt, threadID string) (*core.Thread, error) {
	if threadID == "" {
		threadID = DefaultThreadID
	}

	// START: claim the thread and build the working transcript.
	if err := r.store.Acquire(threadID); err != nil {
		return nil, err
	}
	defer r.store.Release(threadID)

	thread, err := r.store.Load(threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	thread.Append(core.NewTextMessage(core.RoleUser, prompt))

	history, summary := r.window.Fit(ctx, thread.Messages, thread.Summary)
	thread.Messages = history
	thread.Summary = summary

	tools := r.toolDefinitions()
	invocationID := core.NewID()
	logger := r.opts.Logger
	logger.Info("invocation started",
		"invocation_id", invocationID, "thread_id", threadID, "tools", len(tools))

	// MODEL_CALL / TOOL_DISPATCH cycle.
	completed := false
	for iteration := 0; iteration < r.opts.MaxIterations; iteration++ {
		msg, err := r.callModelWithRetry(ctx, model.Request{
			Messages: r.transcript(thread),
			Tools:    tools,
		})
		if err != nil {
			logger.Error("model unreachable, aborting invocation",
				"invocation_id", invocationID, "thread_id", threadID, "error", err)
			return nil, &core.ReasoningError{ThreadID: threadID, Attempts: r.opts.ModelRetries + 1, Cause: err}
		}
		thread.Append(msg)

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			completed = true
			break
		}

		observations := r.dispatch(ctx, invocationID, calls)
		thread.Append(observations...)
	}

	if !completed {
		logger.Warn("iteration bound reached, forcing completion",
			"invocation_id", invocationID, "thread_id", threadID, "max_iterations", r.opts.MaxIterations)
		thread.Append(core.NewTextMessage(core.RoleAssistant,
			fmt.Sprintf("Reasoning was truncated after %d iterations without reaching a final answer.", r.opts.MaxIterations)))
	}

	// DONE: persist and return.
	if err := r.store.Save(threadID, thread); err != nil {
		return nil, fmt.Errorf("save thread %s: %w", threadID, err)
	}
	logger.Info("invocation completed",
		"invocation_id", invocationID, "thread_id", threadID, "messages", len(thread.Messages))
	return thread, nil
}

// transcript assembles the model input: fixed system instruction, running
// summary (when present) and the thread history.
func (r *Runner) transcript(thread *core.Thread) []core.Message {
	msgs := make([]core.Message, 0, len(thread.Messages)+2)
	msgs = append(msgs, core.NewTextMessage(core.RoleSystem, r.opts.SystemPrompt))
	if thread.Summary != nil && thread.Summary.Text != "" {
		msgs = append(msgs, core.NewTextMessage(core.RoleSystem,
			"Summary of the earlier conversation:\n"+thread.Summary.Text))
	}
	return append(msgs, thread.Messages...)
}

// toolDefinitions converts the registry inventory to model tool definitions.
func (r *Runner) toolDefinitions() []model.ToolDefinition {
	descriptors := r.registry.List()
	defs := make([]model.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		params := d.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, model.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return defs
}

// callModelWithRetry performs one MODEL_CALL state transition: each attempt
// is bounded by ModelTimeout and failed attempts are retried with
// exponential backoff until ModelRetries is exhausted.
func (r *Runner) callModelWithRetry(ctx context.Context, req model.Request) (core.Message, error) {
	var msg core.Message

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.opts.RetryInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(r.opts.ModelRetries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.opts.ModelTimeout)
		defer cancel()

		start := time.Now()
		m, err := r.callModel(callCtx, req)
		if err != nil {
			r.opts.Logger.Warn("model call failed",
				"attempt", attempt, "duration_ms", time.Since(start).Milliseconds(), "error", err)
			return err
		}
		msg = m
		return nil
	}, policy)
	if err != nil {
		return core.Message{}, err
	}
	return msg, nil
}

// callModel drains one Generate call and returns the final assistant message.
func (r *Runner) callModel(ctx context.Context, req model.Request) (core.Message, error) {
	respCh, errCh := r.llm.Generate(ctx, req)

	var final *core.Message
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				m := resp.Message
				final = &m
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return core.Message{}, err
			}
		case <-ctx.Done():
			return core.Message{}, ctx.Err()
		}
	}
	if final == nil {
		return core.Message{}, fmt.Errorf("model produced no final response")
	}
	return *final, nil
}

// dispatch performs one TOOL_DISPATCH state transition: every requested call
// runs concurrently under a bounded semaphore, each wrapped so a single
// failure or timeout never aborts its siblings, and the resulting
// observation messages come back in the order the calls were requested
// regardless of completion timing.
func (r *Runner) dispatch(ctx context.Context, invocationID string, calls []core.ToolCall) []core.Message {
	n := len(calls)
	observations := make([]core.Message, n)

	maxPar := r.opts.MaxParallelTools
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}
	sem := make(chan struct{}, maxPar)
	done := make(chan int)

	for i := range calls {
		go func(idx int, call core.ToolCall) {
			defer func() { done <- idx }()
			sem <- struct{}{}
			defer func() { <-sem }()

			observations[idx] = r.executeCall(ctx, invocationID, call)
		}(i, calls[i])
	}
	for range calls {
		<-done
	}
	return observations
}

// executeCall runs a single tool call bounded by ToolTimeout, converting
// every failure mode into an error observation.
func (r *Runner) executeCall(ctx context.Context, invocationID string, call core.ToolCall) core.Message {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.ToolTimeout)
	defer cancel()

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		argErr := core.NewToolError(call.Name, core.ToolCodeArgument, err.Error(), err)
		return core.NewToolResultMessage(call, "", argErr)
	}

	start := time.Now()
	observation, err := r.registry.Invoke(callCtx, call.Name, args)
	r.opts.Logger.Info("tool executed",
		"invocation_id", invocationID,
		"tool", call.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil)

	return core.NewToolResultMessage(call, observation, err)
}
