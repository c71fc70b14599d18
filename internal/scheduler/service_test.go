package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KafClaw/clawlet/internal/tools"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "cron", "jobs.json")
}

type recorder struct {
	mu   sync.Mutex
	runs []string
	ch   chan string
	err  error
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 16)} }

func (r *recorder) run(ctx context.Context, job *Job) (string, error) {
	r.mu.Lock()
	r.runs = append(r.runs, job.ID)
	err := r.err
	r.mu.Unlock()
	select {
	case r.ch <- job.ID:
	default:
	}
	return "done", err
}

func (r *recorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.ch:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
		return ""
	}
}

func TestEveryJobFiresAndReschedules(t *testing.T) {
	rec := newRecorder()
	svc := NewService(storePath(t), rec.run)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	job, err := svc.AddJob(AddJobRequest{
		Name:     "tick",
		Schedule: Schedule{Kind: KindEvery, EveryMs: 50},
		Message:  "ping",
	})
	require.NoError(t, err)
	require.Len(t, job.ID, 8)

	assert.Equal(t, job.ID, rec.wait(t))
	assert.Equal(t, job.ID, rec.wait(t))

	require.Eventually(t, func() bool {
		got, ok := svc.GetJob(job.ID)
		return ok && got.State.LastStatus == StatusOK && got.State.LastRunAtMs != nil
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := svc.GetJob(job.ID)
	assert.True(t, got.Enabled)
	assert.NotNil(t, got.State.NextRunAtMs)
	assert.Nil(t, got.State.LastError)
}

func TestAtJobDisablesOrDeletes(t *testing.T) {
	rec := newRecorder()
	svc := NewService(storePath(t), rec.run)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	at := time.Now().Add(30 * time.Millisecond).UnixMilli()
	keep, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindAt, AtMs: at}, Message: "keep me"})
	require.NoError(t, err)
	drop, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindAt, AtMs: at}, Message: "drop me", DeleteAfterRun: true})
	require.NoError(t, err)
	assert.Equal(t, "keep me", keep.Name, "name defaults to the message")

	rec.wait(t)
	rec.wait(t)

	require.Eventually(t, func() bool {
		_, ok := svc.GetJob(drop.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	got, ok := svc.GetJob(keep.ID)
	require.True(t, ok)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.State.NextRunAtMs)
	assert.Equal(t, StatusOK, got.State.LastStatus)
}

func TestJobErrorIsRecorded(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("provider down")
	svc := NewService(storePath(t), rec.run)

	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)

	require.True(t, svc.RunJob(context.Background(), job.ID, false))
	got, _ := svc.GetJob(job.ID)
	assert.Equal(t, StatusError, got.State.LastStatus)
	require.NotNil(t, got.State.LastError)
	assert.Equal(t, "provider down", *got.State.LastError)
	assert.True(t, got.Enabled, "recurring jobs stay enabled after an error")
}

func TestJobPanicIsRecorded(t *testing.T) {
	svc := NewService(storePath(t), func(ctx context.Context, job *Job) (string, error) {
		panic("boom")
	})
	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)

	require.True(t, svc.RunJob(context.Background(), job.ID, false))
	got, _ := svc.GetJob(job.ID)
	require.NotNil(t, got.State.LastError)
	assert.Equal(t, "panic: boom", *got.State.LastError)
}

func TestRunJobForceAndEnable(t *testing.T) {
	rec := newRecorder()
	svc := NewService(storePath(t), rec.run)
	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)

	disabled := svc.EnableJob(job.ID, false)
	require.NotNil(t, disabled)
	assert.Nil(t, disabled.State.NextRunAtMs)

	assert.False(t, svc.RunJob(context.Background(), job.ID, false))
	assert.True(t, svc.RunJob(context.Background(), job.ID, true))
	assert.Len(t, rec.runs, 1)
	assert.False(t, svc.RunJob(context.Background(), "missing", true))

	enabled := svc.EnableJob(job.ID, true)
	require.NotNil(t, enabled)
	assert.NotNil(t, enabled.State.NextRunAtMs)
	assert.Nil(t, svc.EnableJob("missing", true))
}

func TestForcedRunKeepsDisabledJobUnscheduled(t *testing.T) {
	rec := newRecorder()
	path := storePath(t)
	svc := NewService(path, rec.run)
	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)
	svc.EnableJob(job.ID, false)

	require.True(t, svc.RunJob(context.Background(), job.ID, true))

	got, _ := svc.GetJob(job.ID)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.State.NextRunAtMs)
	assert.NotNil(t, got.State.LastRunAtMs)
	assert.Nil(t, loadStore(path).Jobs[0].State.NextRunAtMs)
	assert.Nil(t, svc.Status().NextWakeAtMs)
}

func TestDisableWhileRunningClearsNextRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	svc := NewService(storePath(t), func(ctx context.Context, job *Job) (string, error) {
		close(started)
		<-release
		return "", nil
	})
	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- svc.RunJob(context.Background(), job.ID, false) }()
	<-started
	require.NotNil(t, svc.EnableJob(job.ID, false))
	close(release)
	assert.True(t, <-done)

	got, _ := svc.GetJob(job.ID)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.State.NextRunAtMs)
	assert.Equal(t, StatusOK, got.State.LastStatus)
}

func TestEveryJobNextRunArithmetic(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(storePath(t), nil)
	svc.now = func() time.Time { return clock }

	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)
	require.NotNil(t, job.State.NextRunAtMs)
	assert.Equal(t, clock.UnixMilli()+60_000, *job.State.NextRunAtMs)

	clock = clock.Add(time.Minute)
	require.True(t, svc.RunJob(context.Background(), job.ID, false))

	got, _ := svc.GetJob(job.ID)
	require.NotNil(t, got.State.NextRunAtMs)
	assert.Equal(t, clock.UnixMilli()+60_000, *got.State.NextRunAtMs)
	require.NotNil(t, got.State.LastRunAtMs)
	assert.Equal(t, clock.UnixMilli(), *got.State.LastRunAtMs)
}

func TestAddJobRejectsPastAt(t *testing.T) {
	svc := NewService(storePath(t), nil)
	now := time.Now()

	_, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindAt, AtMs: now.Add(-time.Hour).UnixMilli()}, Message: "x"})
	assert.ErrorIs(t, err, ErrAtInPast)

	_, err = NewToolBackend(svc).AddJob(tools.CronJobSpec{Name: "late", Message: "m", At: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrAtInPast)
	assert.Empty(t, svc.ListJobs(true))
}

func TestRemoveWhileRunningStaysRemoved(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	path := storePath(t)
	svc := NewService(path, func(ctx context.Context, job *Job) (string, error) {
		close(started)
		<-release
		return "", nil
	})
	job, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "x"})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- svc.RunJob(context.Background(), job.ID, false) }()
	<-started
	assert.True(t, svc.RemoveJob(job.ID))
	close(release)
	assert.True(t, <-done)

	_, ok := svc.GetJob(job.ID)
	assert.False(t, ok)
	assert.Empty(t, loadStore(path).Jobs)
}

func TestListJobsOrdering(t *testing.T) {
	svc := NewService(storePath(t), nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	late, _ := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 3_600_000}, Message: "late"})
	soon, _ := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 60_000}, Message: "soon"})
	off, _ := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 1_000}, Message: "off"})
	svc.EnableJob(off.ID, false)

	jobs := svc.ListJobs(false)
	require.Len(t, jobs, 2)
	assert.Equal(t, soon.ID, jobs[0].ID)
	assert.Equal(t, late.ID, jobs[1].ID)

	all := svc.ListJobs(true)
	require.Len(t, all, 3)
	assert.Equal(t, off.ID, all[2].ID, "jobs without a next run sort last")

	st := svc.Status()
	assert.False(t, st.Enabled)
	assert.Equal(t, 3, st.Jobs)
	require.NotNil(t, st.NextWakeAtMs)
	assert.Equal(t, base.UnixMilli()+60_000, *st.NextWakeAtMs)
}

func TestAddJobValidation(t *testing.T) {
	svc := NewService(storePath(t), nil)

	_, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 1000}})
	assert.Error(t, err, "message is required")
	_, err = svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindCron, Expr: "not a cron"}, Message: "x"})
	assert.Error(t, err)
	_, err = svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindCron, Expr: "0 9 * * *", TZ: "Mars/Olympus"}, Message: "x"})
	assert.ErrorContains(t, err, "invalid timezone")
	_, err = svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: "weekly"}, Message: "x"})
	assert.ErrorContains(t, err, "unknown schedule kind")
}

func TestCronNextRunHonoursTimezone(t *testing.T) {
	now := time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC)
	next := NextRun(Schedule{Kind: KindCron, Expr: "0 9 * * *", TZ: "Europe/Berlin"}, now.UnixMilli())
	require.NotNil(t, next)
	// 09:00 in Berlin is 08:00 UTC in winter.
	assert.Equal(t, time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC), time.UnixMilli(*next).UTC())

	assert.Nil(t, NextRun(Schedule{Kind: KindAt, AtMs: now.UnixMilli() - 1}, now.UnixMilli()))
	every := NextRun(Schedule{Kind: KindEvery, EveryMs: 5000}, now.UnixMilli())
	require.NotNil(t, every)
	assert.Equal(t, now.UnixMilli()+5000, *every)
}

func TestStoreFormat(t *testing.T) {
	path := storePath(t)
	svc := NewService(path, nil)
	_, err := svc.AddJob(AddJobRequest{
		Name:     "report",
		Schedule: Schedule{Kind: KindCron, Expr: "0 9 * * 1", TZ: "UTC"},
		Message:  "weekly report",
		Deliver:  true,
		Channel:  "slack",
		To:       "C123",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 1, raw["version"])

	job := raw["jobs"].([]any)[0].(map[string]any)
	for _, key := range []string{"id", "name", "enabled", "schedule", "payload", "state", "createdAtMs", "updatedAtMs", "deleteAfterRun"} {
		assert.Contains(t, job, key)
	}
	assert.Equal(t, "agent_turn", job["payload"].(map[string]any)["kind"])
	assert.Contains(t, job["state"].(map[string]any), "nextRunAtMs")

	reloaded := NewService(path, nil)
	jobs := reloaded.ListJobs(true)
	require.Len(t, jobs, 1)
	assert.Equal(t, "C123", jobs[0].Payload.To)
}

func TestCorruptStoreStartsEmpty(t *testing.T) {
	path := storePath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	svc := NewService(path, nil)
	assert.Empty(t, svc.ListJobs(true))
}

func TestStopWaitsAndDisarms(t *testing.T) {
	rec := newRecorder()
	svc := NewService(storePath(t), rec.run)
	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()))

	_, err := svc.AddJob(AddJobRequest{Schedule: Schedule{Kind: KindEvery, EveryMs: 20}, Message: "x"})
	require.NoError(t, err)
	rec.wait(t)
	svc.Stop()
	assert.False(t, svc.Status().Enabled)

	rec.mu.Lock()
	n := len(rec.runs)
	rec.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, n, len(rec.runs), "no runs after Stop")
}

func TestStoreLock(t *testing.T) {
	path := storePath(t)
	first, err := AcquireStoreLock(path)
	require.NoError(t, err)

	assert.Equal(t, LockPath(path), first.Path())
	assert.Equal(t, os.Getpid(), LockHolder(path))

	_, err = AcquireStoreLock(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock(), "second unlock is a no-op")
	assert.Zero(t, LockHolder(path))

	second, err := AcquireStoreLock(path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

func TestToolBackend(t *testing.T) {
	svc := NewService(storePath(t), nil)
	b := NewToolBackend(svc)

	info, err := b.AddJob(tools.CronJobSpec{Name: "stretch", Message: "stand up", EverySeconds: 90, Channel: "telegram", To: "42"})
	require.NoError(t, err)
	assert.Equal(t, "every", info.Kind)
	assert.NotNil(t, info.NextRunAt)

	job, ok := svc.GetJob(info.ID)
	require.True(t, ok)
	assert.Equal(t, int64(90_000), job.Schedule.EveryMs)
	assert.True(t, job.Payload.Deliver)
	assert.Equal(t, "telegram", job.Payload.Channel)
	assert.Equal(t, "42", job.Payload.To)

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	info, err = b.AddJob(tools.CronJobSpec{Name: "once", Message: "m", At: at, DeleteAfterRun: true})
	require.NoError(t, err)
	assert.Equal(t, "at", info.Kind)
	require.NotNil(t, info.NextRunAt)
	assert.True(t, at.Equal(*info.NextRunAt))

	info, err = b.AddJob(tools.CronJobSpec{Name: "daily", Message: "m", CronExpr: "0 8 * * *", TZ: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "cron", info.Kind)

	assert.Len(t, b.ListJobs(), 3)
	assert.True(t, b.RemoveJob(info.ID))
	assert.False(t, b.RemoveJob(info.ID))
}
