// Package scheduler runs persisted agent jobs on one-shot, interval and cron
// schedules.
package scheduler

// ScheduleKind selects how a job's next run is computed.
type ScheduleKind string

const (
	KindAt    ScheduleKind = "at"
	KindEvery ScheduleKind = "every"
	KindCron  ScheduleKind = "cron"
)

// Last run outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// PayloadAgentTurn is the only payload kind: run the message as an agent turn.
const PayloadAgentTurn = "agent_turn"

// Schedule defines when a job runs. Only the fields of its kind are used.
type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	AtMs    int64        `json:"atMs,omitempty"`
	EveryMs int64        `json:"everyMs,omitempty"`
	Expr    string       `json:"expr,omitempty"`
	TZ      string       `json:"tz,omitempty"`
}

// Payload is what a job does when it fires.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Deliver sends the agent's reply to Channel/To.
	Deliver bool   `json:"deliver"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState is the runtime state of a job. NextRunAtMs is nil when the job
// is disabled or has no future run.
type JobState struct {
	NextRunAtMs *int64  `json:"nextRunAtMs"`
	LastRunAtMs *int64  `json:"lastRunAtMs"`
	LastStatus  string  `json:"lastStatus,omitempty"`
	LastError   *string `json:"lastError"`
}

// Job is one scheduled unit of work.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

func (j *Job) clone() *Job {
	c := *j
	c.State.NextRunAtMs = copyInt64(j.State.NextRunAtMs)
	c.State.LastRunAtMs = copyInt64(j.State.LastRunAtMs)
	if j.State.LastError != nil {
		e := *j.State.LastError
		c.State.LastError = &e
	}
	return &c
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// storeVersion is written into every store file.
const storeVersion = 1

// Store is the on-disk document.
type Store struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// AddJobRequest describes a new job.
type AddJobRequest struct {
	Name           string
	Schedule       Schedule
	Message        string
	Deliver        bool
	Channel        string
	To             string
	DeleteAfterRun bool
}

// Status summarizes the service.
type Status struct {
	Enabled      bool   `json:"enabled"`
	Jobs         int    `json:"jobs"`
	NextWakeAtMs *int64 `json:"nextWakeAtMs"`
}
