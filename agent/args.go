package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeArguments parses a tool call's raw JSON arguments. Models
// occasionally emit an empty string for parameterless tools, which is
// treated as an empty object.
func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}
