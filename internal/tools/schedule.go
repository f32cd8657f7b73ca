package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/schedule"
	"github.com/valetd/valet/internal/taskstore"
)

// ScheduleTaskTool creates a scheduled task. The tool computes the first
// trigger itself; the recurrence engine only computes subsequent ones.
type ScheduleTaskTool struct {
	store *taskstore.Store
}

// NewScheduleTaskTool creates a ScheduleTaskTool backed by the given store.
func NewScheduleTaskTool(store *taskstore.Store) *ScheduleTaskTool {
	return &ScheduleTaskTool{store: store}
}

func (t *ScheduleTaskTool) Name() string        { return "schedule_task" }
func (t *ScheduleTaskTool) Risk() autonomy.Risk { return autonomy.RiskModerate }

func (t *ScheduleTaskTool) Description() string {
	return "Schedule a tool to run later, once or on a recurring schedule. " +
		"Types: one_time (run_at), every_n (interval_seconds), daily_at (time_of_day), " +
		"weekly_on (weekdays + time_of_day), monthly_on (day_of_month + time_of_day)."
}

func (t *ScheduleTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool_name": map[string]any{
				"type":        "string",
				"description": "Name of the tool to run",
			},
			"tool_args": map[string]any{
				"type":        "object",
				"description": "Arguments to pass to the tool",
			},
			"schedule_type": map[string]any{
				"type":        "string",
				"description": "one_time, every_n, daily_at, weekly_on or monthly_on",
			},
			"run_at": map[string]any{
				"type":        "string",
				"description": "one_time: RFC 3339 instant (default: now)",
			},
			"interval_seconds": map[string]any{
				"type":        "integer",
				"description": "every_n: interval in seconds",
			},
			"time_of_day": map[string]any{
				"type":        "string",
				"description": "HH:MM local time for daily_at/weekly_on/monthly_on",
			},
			"weekdays": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "weekly_on: weekday names, e.g. [\"monday\", \"thursday\"]",
			},
			"day_of_month": map[string]any{
				"type":        "integer",
				"description": "monthly_on: 1-31, clamped to the month's length",
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone, e.g. Europe/Berlin (default UTC)",
			},
		},
		"required": []string{"tool_name", "schedule_type"},
	}
}

func (t *ScheduleTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	toolName := GetString(params, "tool_name", "")
	if toolName == "" {
		return "Error: tool_name is required", nil
	}
	if toolName == t.Name() {
		return "Error: a scheduled task cannot schedule further tasks", nil
	}

	spec := schedule.Spec{
		Type:            schedule.Type(GetString(params, "schedule_type", "")),
		RunAt:           GetString(params, "run_at", ""),
		IntervalSeconds: GetInt(params, "interval_seconds", 0),
		TimeOfDay:       GetString(params, "time_of_day", ""),
		DayOfMonth:      GetInt(params, "day_of_month", 0),
		Timezone:        GetString(params, "timezone", ""),
	}
	for _, name := range GetStringSlice(params, "weekdays") {
		day, err := schedule.ParseWeekday(name)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		spec.Weekdays = append(spec.Weekdays, day)
	}
	if err := spec.Validate(); err != nil {
		return fmt.Sprintf("Error: invalid schedule: %v", err), nil
	}

	first, ok := schedule.FirstRun(spec, time.Now())
	if !ok {
		return "Error: schedule produces no trigger", nil
	}

	var toolArgs map[string]any
	if raw, exists := params["tool_args"]; exists {
		toolArgs, _ = raw.(map[string]any)
	}

	id, err := t.store.Create(ctx, &taskstore.Task{
		UserKey:  GetString(params, ParamUserKey, ""),
		ToolName: toolName,
		Args:     toolArgs,
		Schedule: spec,
		NextRun:  first,
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return fmt.Sprintf("Scheduled task %s: %s %s, first run %s",
		id, toolName, spec.Describe(), first.Format(time.RFC3339)), nil
}

// ListTasksTool lists the calling user's scheduled tasks.
type ListTasksTool struct {
	store *taskstore.Store
}

// NewListTasksTool creates a ListTasksTool.
func NewListTasksTool(store *taskstore.Store) *ListTasksTool {
	return &ListTasksTool{store: store}
}

func (t *ListTasksTool) Name() string        { return "list_tasks" }
func (t *ListTasksTool) Risk() autonomy.Risk { return autonomy.RiskSafe }

func (t *ListTasksTool) Description() string {
	return "List your scheduled tasks with status and next run time."
}

func (t *ListTasksTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListTasksTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	userKey := GetString(params, ParamUserKey, "")
	tasks, err := t.store.ListForUser(ctx, userKey, 50)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "No scheduled tasks.", nil
	}

	var out strings.Builder
	for _, task := range tasks {
		next := "-"
		if !task.NextRun.IsZero() {
			next = task.NextRun.Format(time.RFC3339)
		}
		fmt.Fprintf(&out, "%s  %-10s %s (%s), next: %s, runs: %d\n",
			task.ID, task.Status, task.ToolName, task.Schedule.Describe(), next, task.RunCount)
		if task.LastError != "" {
			fmt.Fprintf(&out, "    last error: %s\n", task.LastError)
		}
	}
	return out.String(), nil
}

// CancelTaskTool cancels one of the calling user's active tasks.
type CancelTaskTool struct {
	store *taskstore.Store
}

// NewCancelTaskTool creates a CancelTaskTool.
func NewCancelTaskTool(store *taskstore.Store) *CancelTaskTool {
	return &CancelTaskTool{store: store}
}

func (t *CancelTaskTool) Name() string        { return "cancel_task" }
func (t *CancelTaskTool) Risk() autonomy.Risk { return autonomy.RiskSafe }

func (t *CancelTaskTool) Description() string {
	return "Cancel one of your scheduled tasks by id."
}

func (t *CancelTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "The id of the task to cancel",
			},
		},
		"required": []string{"task_id"},
	}
}

func (t *CancelTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	taskID := GetString(params, "task_id", "")
	if taskID == "" {
		return "Error: task_id is required", nil
	}
	userKey := GetString(params, ParamUserKey, "")

	ok, err := t.store.Cancel(ctx, taskID, userKey)
	if err != nil {
		return "", fmt.Errorf("cancel task: %w", err)
	}
	if !ok {
		return fmt.Sprintf("Error: task %s not found, not yours, or already finished", taskID), nil
	}
	return fmt.Sprintf("Cancelled task %s", taskID), nil
}
