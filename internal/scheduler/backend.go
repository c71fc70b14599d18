package scheduler

import (
	"time"

	"github.com/KafClaw/clawlet/internal/tools"
)

// ToolBackend exposes a Service to the agent's cron tool. Jobs created by
// the agent always deliver their reply to the originating chat.
type ToolBackend struct {
	svc *Service
}

var _ tools.CronManager = (*ToolBackend)(nil)

// NewToolBackend adapts svc to tools.CronManager.
func NewToolBackend(svc *Service) *ToolBackend {
	return &ToolBackend{svc: svc}
}

func (b *ToolBackend) AddJob(spec tools.CronJobSpec) (tools.CronJobInfo, error) {
	req := AddJobRequest{
		Name:           spec.Name,
		Message:        spec.Message,
		Deliver:        true,
		Channel:        spec.Channel,
		To:             spec.To,
		DeleteAfterRun: spec.DeleteAfterRun,
	}
	switch {
	case spec.EverySeconds > 0:
		req.Schedule = Schedule{Kind: KindEvery, EveryMs: int64(spec.EverySeconds) * 1000}
	case spec.CronExpr != "":
		req.Schedule = Schedule{Kind: KindCron, Expr: spec.CronExpr, TZ: spec.TZ}
	default:
		req.Schedule = Schedule{Kind: KindAt, AtMs: spec.At.UnixMilli()}
	}

	job, err := b.svc.AddJob(req)
	if err != nil {
		return tools.CronJobInfo{}, err
	}
	return jobInfo(job), nil
}

func (b *ToolBackend) ListJobs() []tools.CronJobInfo {
	jobs := b.svc.ListJobs(false)
	out := make([]tools.CronJobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobInfo(j))
	}
	return out
}

func (b *ToolBackend) RemoveJob(id string) bool {
	return b.svc.RemoveJob(id)
}

func jobInfo(j *Job) tools.CronJobInfo {
	info := tools.CronJobInfo{ID: j.ID, Name: j.Name, Kind: string(j.Schedule.Kind)}
	if j.State.NextRunAtMs != nil {
		t := time.UnixMilli(*j.State.NextRunAtMs)
		info.NextRunAt = &t
	}
	return info
}
