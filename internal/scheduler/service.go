package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAtInPast rejects a one-shot job whose time has already passed.
var ErrAtInPast = errors.New("at time is in the past")

// JobFunc executes a job and returns the agent's reply.
type JobFunc func(ctx context.Context, job *Job) (string, error)

// Service owns the job store and a single timer armed for the earliest
// pending run. All store access is serialized by mu; OnJob runs outside it.
type Service struct {
	storePath string
	onJob     JobFunc
	now       func() time.Time

	mu       sync.Mutex
	store    *Store
	timer    *time.Timer
	running  bool
	inFlight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a service backed by the JSON file at storePath.
// onJob may be nil, in which case jobs only update their state.
func NewService(storePath string, onJob JobFunc) *Service {
	return &Service{
		storePath: storePath,
		onJob:     onJob,
		now:       time.Now,
		inFlight:  make(map[string]bool),
	}
}

// StorePath returns the job store location.
func (s *Service) StorePath() string { return s.storePath }

func (s *Service) nowMs() int64 { return s.now().UnixMilli() }

func (s *Service) loadLocked() *Store {
	if s.store == nil {
		s.store = loadStore(s.storePath)
	}
	return s.store
}

func (s *Service) saveLocked() {
	if err := saveStore(s.storePath, s.loadLocked()); err != nil {
		slog.Error("Failed to save cron store", "path", s.storePath, "error", err)
	}
}

func (s *Service) findLocked(id string) *Job {
	for _, j := range s.loadLocked().Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// Start loads the store, recomputes every enabled job's next run, saves and
// arms the timer. Timer-fired jobs run under a context derived from ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("cron service already running")
	}

	st := s.loadLocked()
	now := s.nowMs()
	for _, j := range st.Jobs {
		if j.Enabled {
			j.State.NextRunAtMs = NextRun(j.Schedule, now)
		}
	}
	if err := saveStore(s.storePath, st); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.armLocked()
	slog.Info("Cron service started", "jobs", len(st.Jobs), "store", s.storePath)
	return nil
}

// Stop disarms the timer, cancels running jobs and waits for them.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	slog.Info("Cron service stopped")
}

func (s *Service) nextWakeLocked() *int64 {
	var next *int64
	for _, j := range s.loadLocked().Jobs {
		if !j.Enabled || j.State.NextRunAtMs == nil {
			continue
		}
		if next == nil || *j.State.NextRunAtMs < *next {
			next = j.State.NextRunAtMs
		}
	}
	return copyInt64(next)
}

// armLocked replaces the timer with one firing at the earliest next run.
func (s *Service) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.running {
		return
	}
	next := s.nextWakeLocked()
	if next == nil {
		return
	}
	delay := time.Duration(*next-s.nowMs()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, s.onTimer)
}

func (s *Service) onTimer() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	now := s.nowMs()
	var due []string
	for _, j := range s.loadLocked().Jobs {
		if j.Enabled && j.State.NextRunAtMs != nil && now >= *j.State.NextRunAtMs && !s.inFlight[j.ID] {
			due = append(due, j.ID)
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	for _, id := range due {
		s.execute(ctx, id)
	}

	s.mu.Lock()
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()
}

// execute runs one job and writes the outcome back by id. A job removed
// while it ran stays removed.
func (s *Service) execute(ctx context.Context, id string) {
	s.mu.Lock()
	job := s.findLocked(id)
	if job == nil || s.inFlight[id] {
		s.mu.Unlock()
		return
	}
	s.inFlight[id] = true
	snapshot := job.clone()
	s.mu.Unlock()

	start := s.nowMs()
	slog.Info("Cron: executing job", "name", snapshot.Name, "id", id)
	_, err := s.invoke(ctx, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)

	job = s.findLocked(id)
	if job == nil {
		slog.Info("Cron: job removed while running", "id", id)
		return
	}
	if err != nil {
		msg := err.Error()
		job.State.LastStatus = StatusError
		job.State.LastError = &msg
		slog.Error("Cron: job failed", "name", job.Name, "id", id, "error", err)
	} else {
		job.State.LastStatus = StatusOK
		job.State.LastError = nil
		slog.Info("Cron: job completed", "name", job.Name, "id", id)
	}
	job.State.LastRunAtMs = &start
	job.UpdatedAtMs = s.nowMs()

	if job.Schedule.Kind == KindAt {
		if job.DeleteAfterRun {
			s.removeLocked(id)
		} else {
			job.Enabled = false
			job.State.NextRunAtMs = nil
		}
		return
	}
	if !job.Enabled {
		job.State.NextRunAtMs = nil
		return
	}
	job.State.NextRunAtMs = NextRun(job.Schedule, s.nowMs())
}

func (s *Service) invoke(ctx context.Context, job *Job) (resp string, err error) {
	if s.onJob == nil {
		return "", nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Cron: job panicked", "id", job.ID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.onJob(ctx, job)
}

func (s *Service) removeLocked(id string) bool {
	st := s.loadLocked()
	for i, j := range st.Jobs {
		if j.ID == id {
			st.Jobs = append(st.Jobs[:i], st.Jobs[i+1:]...)
			return true
		}
	}
	return false
}

// ListJobs returns copies of the jobs ordered by next run; jobs without one
// sort last.
func (s *Service) ListJobs(includeDisabled bool) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, j := range s.loadLocked().Jobs {
		if includeDisabled || j.Enabled {
			out = append(out, j.clone())
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		na, nb := out[a].State.NextRunAtMs, out[b].State.NextRunAtMs
		switch {
		case na == nil:
			return false
		case nb == nil:
			return true
		}
		return *na < *nb
	})
	return out
}

// GetJob returns a copy of one job.
func (s *Service) GetJob(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.findLocked(id); j != nil {
		return j.clone(), true
	}
	return nil, false
}

// AddJob validates, stores and schedules a new job.
func (s *Service) AddJob(req AddJobRequest) (*Job, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("job message is required")
	}
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = req.Message
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMs()
	if req.Schedule.Kind == KindAt && req.Schedule.AtMs <= now {
		return nil, ErrAtInPast
	}
	job := &Job{
		ID:       uuid.NewString()[:8],
		Name:     name,
		Enabled:  true,
		Schedule: req.Schedule,
		Payload: Payload{
			Kind:    PayloadAgentTurn,
			Message: req.Message,
			Deliver: req.Deliver,
			Channel: req.Channel,
			To:      req.To,
		},
		State:          JobState{NextRunAtMs: NextRun(req.Schedule, now)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: req.DeleteAfterRun,
	}

	st := s.loadLocked()
	st.Jobs = append(st.Jobs, job)
	if err := saveStore(s.storePath, st); err != nil {
		st.Jobs = st.Jobs[:len(st.Jobs)-1]
		return nil, err
	}
	s.armLocked()
	slog.Info("Cron: added job", "name", name, "id", job.ID, "schedule", job.Schedule.Describe())
	return job.clone(), nil
}

// RemoveJob deletes a job and reports whether it existed.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(id) {
		return false
	}
	s.saveLocked()
	s.armLocked()
	slog.Info("Cron: removed job", "id", id)
	return true
}

// EnableJob enables or disables a job. It returns nil for an unknown id.
func (s *Service) EnableJob(id string, enabled bool) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.findLocked(id)
	if job == nil {
		return nil
	}
	job.Enabled = enabled
	job.UpdatedAtMs = s.nowMs()
	if enabled {
		job.State.NextRunAtMs = NextRun(job.Schedule, s.nowMs())
	} else {
		job.State.NextRunAtMs = nil
	}
	s.saveLocked()
	s.armLocked()
	return job.clone()
}

// RunJob runs a job now. Disabled jobs only run when force is set. It
// reports whether the job ran.
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	s.mu.Lock()
	job := s.findLocked(id)
	if job == nil || (!force && !job.Enabled) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.execute(ctx, id)

	s.mu.Lock()
	s.saveLocked()
	s.armLocked()
	s.mu.Unlock()
	return true
}

// Status reports whether the timer is running, the job count and the next
// wake-up.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:      s.running,
		Jobs:         len(s.loadLocked().Jobs),
		NextWakeAtMs: s.nextWakeLocked(),
	}
}
