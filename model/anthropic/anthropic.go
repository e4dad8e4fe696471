// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/maplemetrics/finagent/core"
	"github.com/maplemetrics/finagent/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate implements non-streaming generation against the Messages API.
// Anthropic has no native JSON schema response format; when the request
// carries one the schema is injected as a system instruction demanding a
// single conforming JSON object.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    buildMessages(req.Messages),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}

		system := extractSystemBlocks(req.Messages)
		if rf := req.ResponseFormat; rf != nil {
			schemaJSON, err := json.Marshal(rf.Schema)
			if err != nil {
				errCh <- fmt.Errorf("marshal response schema: %w", err)
				return
			}
			system = append(system, anthropic.TextBlockParam{
				Text: fmt.Sprintf("Respond with a single JSON object conforming to this JSON schema, with no surrounding text:\n%s", schemaJSON),
			})
		}
		if len(system) > 0 {
			params.System = system
		}

		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var parts []core.Part
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				if text := block.AsText().Text; text != "" {
					parts = append(parts, core.TextPart{Text: text})
				}
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if raw, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(raw)
					}
				}
				parts = append(parts, core.ToolCallPart{ToolCall: core.ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				}})
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}

		out <- model.Response{
			Message:      core.NewMessage(core.RoleAssistant, parts...),
			FinishReason: finishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// buildMessages converts normalized messages to the Anthropic message format.
// Tool observations are attached as tool_result blocks on the user turn
// following their originating assistant tool_use blocks, as the API expects.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	toolResults := make(map[string]core.ToolResult)
	for _, msg := range msgs {
		if msg.Role != core.RoleTool {
			continue
		}
		for _, p := range msg.Parts {
			if tr, ok := p.(core.ToolResultPart); ok && tr.ToolResult.ID != "" {
				toolResults[tr.ToolResult.ID] = tr.ToolResult
			}
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem, core.RoleTool:
			continue // system handled separately, tool results embedded below
		case core.RoleAssistant:
			content, callIDs := buildAssistantContent(msg)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
			var resultBlocks []anthropic.ContentBlockParamUnion
			for _, id := range callIDs {
				if res, ok := toolResults[id]; ok {
					isError := res.Error != ""
					text := res.Content
					if isError {
						text = res.Error
					}
					resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(id, text, isError))
					delete(toolResults, id)
				}
			}
			if len(resultBlocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(resultBlocks...))
			}
		default:
			if text := msg.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	return messages
}

// buildAssistantContent returns the assistant content blocks plus the ids of
// any tool calls, in part order.
func buildAssistantContent(msg core.Message) ([]anthropic.ContentBlockParamUnion, []string) {
	var content []anthropic.ContentBlockParamUnion
	var callIDs []string

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ToolCallPart:
			var input any
			if part.ToolCall.Arguments != "" {
				if err := json.Unmarshal([]byte(part.ToolCall.Arguments), &input); err != nil {
					input = part.ToolCall.Arguments
				}
			}
			content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			callIDs = append(callIDs, part.ToolCall.ID)
		}
	}
	return content, callIDs
}

// extractSystemBlocks collects system-role text into system prompt blocks.
func extractSystemBlocks(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range msgs {
		if msg.Role != core.RoleSystem {
			continue
		}
		if text := msg.Text(); text != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: text})
		}
	}
	return blocks
}

// buildTools converts tool definitions to the Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := tdef.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := params["required"]; ok {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return anthropicTools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
