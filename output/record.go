// Package output turns a free-form final answer into a validated structured
// record, with a verbatim fallback that guarantees callers always receive
// the answer text even when extraction fails.
package output

// Record is the structured form of one completed agent turn.
type Record struct {
	// UserOutput is the user-facing answer. Always non-empty.
	UserOutput string `json:"user_output"`

	// InsightsSummary condenses key findings. Absent when the turn produced
	// no distinct insights.
	InsightsSummary string `json:"insights_summary,omitempty"`

	// ChartingURL points at a generated chart. Absent unless a chart was
	// produced; must be an absolute http(s) URL.
	ChartingURL string `json:"charting_url,omitempty"`
}

// SchemaName identifies the record schema in model response format requests.
const SchemaName = "agent_output"

// Schema returns the JSON schema the extraction model call is constrained to.
func Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_output": map[string]any{
				"type":        "string",
				"description": "The complete user-facing answer text.",
			},
			"insights_summary": map[string]any{
				"type":        "string",
				"description": "A short summary of the key insights, or an empty string if there are none.",
			},
			"charting_url": map[string]any{
				"type":        "string",
				"description": "Absolute URL of a generated chart, or an empty string if no chart was produced.",
			},
		},
		"required":             []string{"user_output", "insights_summary", "charting_url"},
		"additionalProperties": false,
	}
}
