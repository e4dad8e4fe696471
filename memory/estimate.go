package memory

import "github.com/maplemetrics/finagent/core"

// EstimateMessage approximates the token count of one message including a
// fixed per-message overhead for role framing.
func EstimateMessage(msg core.Message) int {
	tokens := perMessageOverhead
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			tokens += EstimateText(part.Text)
		case core.ToolCallPart:
			tokens += perToolCallOverhead
			tokens += EstimateText(part.ToolCall.Name)
			tokens += EstimateText(part.ToolCall.Arguments)
		case core.ToolResultPart:
			tokens += perToolCallOverhead
			tokens += EstimateText(part.ToolResult.Content)
			tokens += EstimateText(part.ToolResult.Error)
		}
	}
	return tokens
}

// EstimateMessages approximates the total token count of a message sequence.
func EstimateMessages(msgs []core.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
