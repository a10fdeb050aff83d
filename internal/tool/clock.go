package tool

import (
	"context"
	"time"
)

const datetimeLayout = "2006-01-02 15:04:05"

// ClockTool reports the current local date and time.
type ClockTool struct {
	now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string { return "current_datetime" }
func (t *ClockTool) Description() string {
	return "Get the current date and time. Use it for questions about today, the current year, or how long ago a reporting period ended."
}
func (t *ClockTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"query": {Type: "string", Description: "Optional, ignored"},
	}, nil)
}

func (t *ClockTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.now().Format(datetimeLayout), nil
}
