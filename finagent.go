// Package finagent wires the reasoning loop, tool registry, checkpoint store
// and structured output extractor into one conversational financial analysis
// agent.
package finagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maplemetrics/finagent/agent"
	"github.com/maplemetrics/finagent/checkpoint"
	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/mcp"
	"github.com/maplemetrics/finagent/memory"
	"github.com/maplemetrics/finagent/model"
	"github.com/maplemetrics/finagent/output"
	"github.com/maplemetrics/finagent/tool"
)

// DefaultSystemPrompt steers the model toward proactive tool use for
// financial questions.
const DefaultSystemPrompt = `You are a financial expert AI assistant with access to powerful tools. Answer questions directly and use tools proactively.

Available tools:
- Yahoo Finance: real stock prices, historical data, company info
- Charting: create visual charts (always use when the user asks for charts or visuals)
- Tavily: search the web for recent news and events

Rules:
1. When the user asks for charts, immediately use the charting tool without asking for permission.
2. When the user mentions recent events, search the web for dates and details.
3. Never ask the user for information you can look up yourself.
4. Be direct and actionable: include specific prices, dates and percentages, and include chart URLs when charts are created.`

// Options configures an Agent.
type Options struct {
	// SystemPrompt replaces the default financial-expert instruction.
	SystemPrompt string

	// ServerConfigs lists the MCP servers whose tools are aggregated at
	// Initialize time.
	ServerConfigs []mcp.ServerConfig

	// NativeTools are merged into the registry alongside the MCP tools.
	NativeTools []tool.Tool

	// Store overrides the default in-memory checkpoint store.
	Store checkpoint.Store

	// Summarizer overrides the main model for running-summary condensation.
	Summarizer model.Model

	MaxContextTokens int
	MaxSummaryTokens int
	MaxIterations    int
	ModelTimeout     time.Duration
	ToolTimeout      time.Duration

	Logger logging.Logger
}

// Agent is the top-level entry point. Construct with New, call Initialize
// once to aggregate tools, then Invoke/InvokeStructured from any number of
// goroutines. Close releases the tool transports.
type Agent struct {
	llm       model.Model
	opts      Options
	store     checkpoint.Store
	extractor *output.Extractor

	mu       sync.Mutex
	registry *tool.Registry
	runner   *agent.Runner
}

// New creates an Agent around the given model.
func New(llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		SystemPrompt:     DefaultSystemPrompt,
		MaxContextTokens: 2000,
		MaxSummaryTokens: 1000,
		MaxIterations:    25,
		ModelTimeout:     120 * time.Second,
		ToolTimeout:      30 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store := opts.Store
	if store == nil {
		store = checkpoint.NewInMemoryStore()
	}
	return &Agent{
		llm:   llm,
		opts:  opts,
		store: store,
		extractor: output.NewExtractor(llm, func(o *output.ExtractorOptions) {
			o.Logger = opts.Logger
		}),
	}
}

// Initialize aggregates tools from the configured transports and builds the
// reasoning loop. It must be called once before Invoke.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runner != nil {
		return nil
	}

	registry, err := tool.BuildRegistry(ctx, a.opts.ServerConfigs,
		tool.WithNativeTools(a.opts.NativeTools...),
		tool.WithRegistryLogger(a.opts.Logger),
	)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	summarizer := a.opts.Summarizer
	if summarizer == nil {
		summarizer = a.llm
	}
	window := memory.NewManager(summarizer, func(o *memory.ManagerOptions) {
		o.MaxContextTokens = a.opts.MaxContextTokens
		o.MaxSummaryTokens = a.opts.MaxSummaryTokens
		o.Logger = a.opts.Logger
	})

	a.registry = registry
	a.runner = agent.NewRunner(a.llm, registry, a.store, window, func(o *agent.RunnerOptions) {
		o.SystemPrompt = a.opts.SystemPrompt
		o.MaxIterations = a.opts.MaxIterations
		o.ModelTimeout = a.opts.ModelTimeout
		o.ToolTimeout = a.opts.ToolTimeout
		o.Logger = a.opts.Logger
	})
	return nil
}

// Invoke runs one turn on the given thread and returns the final answer text.
// An empty threadID selects the default thread.
func (a *Agent) Invoke(ctx context.Context, prompt, threadID string) (string, error) {
	runner, err := a.activeRunner()
	if err != nil {
		return "", err
	}
	thread, err := runner.Invoke(ctx, prompt, threadID)
	if err != nil {
		return "", err
	}
	return finalAnswer(thread), nil
}

// InvokeStructured runs one turn and extracts the answer into a structured
// record. Extraction never loses the answer: on any extraction failure the
// record degrades to the verbatim text.
func (a *Agent) InvokeStructured(ctx context.Context, prompt, threadID string) (*output.Record, error) {
	runner, err := a.activeRunner()
	if err != nil {
		return nil, err
	}
	thread, err := runner.Invoke(ctx, prompt, threadID)
	if err != nil {
		return nil, err
	}
	return a.extractor.Extract(ctx, finalAnswer(thread))
}

// Tools returns the aggregated tool inventory.
func (a *Agent) Tools() []tool.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registry == nil {
		return nil
	}
	return a.registry.List()
}

// Close tears down the tool transports. Idempotent.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registry == nil {
		return nil
	}
	return a.registry.Close()
}

func (a *Agent) activeRunner() (*agent.Runner, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runner == nil {
		return nil, fmt.Errorf("agent not initialized")
	}
	return a.runner, nil
}

// finalAnswer returns the text of the last assistant message in the thread.
func finalAnswer(thread *core.Thread) string {
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if thread.Messages[i].Role == core.RoleAssistant {
			if text := thread.Messages[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}
