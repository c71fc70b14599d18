package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CronJobSpec is what the cron tool asks the scheduler to create. Exactly
// one of EverySeconds, CronExpr or At is set.
type CronJobSpec struct {
	Name           string
	Message        string
	EverySeconds   int
	CronExpr       string
	TZ             string
	At             time.Time
	Channel        string
	To             string
	DeleteAfterRun bool
}

// CronJobInfo is the summary the cron tool shows to the model.
type CronJobInfo struct {
	ID        string
	Name      string
	Kind      string
	NextRunAt *time.Time
}

// CronManager is the scheduling backend used by CronTool.
type CronManager interface {
	AddJob(spec CronJobSpec) (CronJobInfo, error)
	ListJobs() []CronJobInfo
	RemoveJob(id string) bool
}

// CronTool schedules reminders and recurring tasks that are delivered back
// to the conversation that created them.
type CronTool struct {
	cron CronManager
}

// NewCronTool creates a CronTool.
func NewCronTool(cron CronManager) *CronTool {
	return &CronTool{cron: cron}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Schedule reminders and recurring tasks. Actions: add, list, remove."
}

func (t *CronTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"add", "list", "remove"},
				"description": "Action to perform",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Reminder message (for add)",
			},
			"every_seconds": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Interval in seconds (for recurring tasks)",
			},
			"cron_expr": map[string]any{
				"type":        "string",
				"description": "Cron expression like '0 9 * * *' (for scheduled tasks)",
			},
			"tz": map[string]any{
				"type":        "string",
				"description": "Optional IANA timezone for cron_expr, e.g. 'Europe/Berlin'",
			},
			"at": map[string]any{
				"type":        "string",
				"description": "RFC3339 timestamp for a one-time reminder, e.g. '2026-01-02T15:04:05Z'",
			},
			"job_id": map[string]any{
				"type":        "string",
				"description": "Job ID (for remove)",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, origin Origin, params map[string]any) (string, error) {
	if t.cron == nil {
		return "Error: scheduling is not available", nil
	}
	switch action := GetString(params, "action", ""); action {
	case "add":
		return t.add(origin, params), nil
	case "list":
		return t.list(), nil
	case "remove":
		return t.remove(GetString(params, "job_id", "")), nil
	default:
		return fmt.Sprintf("Unknown action: %s", action), nil
	}
}

func (t *CronTool) add(origin Origin, params map[string]any) string {
	message := GetString(params, "message", "")
	if message == "" {
		return "Error: message is required for add"
	}
	if origin.Channel == "" || origin.ChatID == "" {
		return "Error: no session context (channel/chat_id)"
	}

	spec := CronJobSpec{
		Name:    truncateRunes(message, 30),
		Message: message,
		Channel: origin.Channel,
		To:      origin.ChatID,
	}
	switch {
	case GetInt(params, "every_seconds", 0) > 0:
		spec.EverySeconds = GetInt(params, "every_seconds", 0)
	case GetString(params, "cron_expr", "") != "":
		spec.CronExpr = GetString(params, "cron_expr", "")
		spec.TZ = GetString(params, "tz", "")
	case GetString(params, "at", "") != "":
		at, err := time.Parse(time.RFC3339, GetString(params, "at", ""))
		if err != nil {
			return fmt.Sprintf("Error: invalid at timestamp: %v", err)
		}
		spec.At = at
		spec.DeleteAfterRun = true
	default:
		return "Error: either every_seconds, cron_expr or at is required"
	}

	info, err := t.cron.AddJob(spec)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Created job '%s' (id: %s)", info.Name, info.ID)
}

func (t *CronTool) list() string {
	jobs := t.cron.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	var b strings.Builder
	b.WriteString("Scheduled jobs:")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n- %s (id: %s, %s)", j.Name, j.ID, j.Kind)
		if j.NextRunAt != nil {
			fmt.Fprintf(&b, " next: %s", j.NextRunAt.Format(time.RFC3339))
		}
	}
	return b.String()
}

func (t *CronTool) remove(id string) string {
	if id == "" {
		return "Error: job_id is required for remove"
	}
	if t.cron.RemoveJob(id) {
		return fmt.Sprintf("Removed job %s", id)
	}
	return fmt.Sprintf("Job %s not found", id)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
