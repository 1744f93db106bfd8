// Package builtin provides the tools that ship with the server: current
// time, weather lookup, arithmetic, and web search.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

var _ tool.Tool = (*TimeTool)(nil)

// TimeTool reports the current date and time, optionally in a requested IANA
// timezone.
type TimeTool struct {
	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Definition implements tool.Tool.
func (t *TimeTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "get_time",
		Description: "Get the current date and time. Optionally pass an IANA timezone name such as \"Asia/Shanghai\" or \"America/New_York\".",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name; defaults to the server's local time",
				},
			},
		},
	}
}

// Invoke implements tool.Tool.
func (t *TimeTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	loc := time.Local
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("builtin: unknown timezone %q", tz)
		}
		loc = parsed
	}

	n := now().In(loc)
	return fmt.Sprintf("%s (%s)", n.Format("2006-01-02 15:04:05 Monday"), loc.String()), nil
}
