// Package heartbeat periodically wakes the agent to act on the checklist in
// the workspace's HEARTBEAT.md.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is used when Interval is zero.
const DefaultInterval = 30 * time.Minute

// FileName is the checklist the agent is asked to read.
const FileName = "HEARTBEAT.md"

// Prompt is sent to the agent on every actionable tick.
const Prompt = "Read HEARTBEAT.md in your workspace (if it exists).\n" +
	"Follow any instructions or tasks listed there.\n" +
	"If nothing needs attention, reply with just: HEARTBEAT_OK"

// OKToken is the reply that means nothing needed doing.
const OKToken = "HEARTBEAT_OK"

// Handler runs one agent turn for the heartbeat prompt.
type Handler func(ctx context.Context, prompt string) (string, error)

// Service ticks every Interval and calls OnHeartbeat when HEARTBEAT.md has
// something actionable in it.
type Service struct {
	Workspace   string
	OnHeartbeat Handler
	Interval    time.Duration
	Enabled     bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates an enabled service with the default interval.
func NewService(workspace string, onHeartbeat Handler) *Service {
	return &Service{
		Workspace:   workspace,
		OnHeartbeat: onHeartbeat,
		Interval:    DefaultInterval,
		Enabled:     true,
	}
}

func (s *Service) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

// Start begins ticking in a background goroutine. It is a no-op when the
// service is disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled {
		slog.Info("Heartbeat disabled")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	slog.Info("Heartbeat started", "interval", s.interval().String())
}

// Stop cancels the ticker and waits for an in-progress tick to return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			slog.Info("Heartbeat stopped")
			return
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	content := s.readFile()
	if isEmpty(content) {
		slog.Debug("Heartbeat: no tasks")
		return
	}
	if s.OnHeartbeat == nil {
		return
	}

	slog.Info("Heartbeat: checking for tasks")
	resp, err := s.OnHeartbeat(ctx, Prompt)
	if err != nil {
		slog.Error("Heartbeat failed", "error", err)
		return
	}
	if IsOK(resp) {
		slog.Info("Heartbeat: OK, no action")
	} else {
		slog.Info("Heartbeat: completed task")
	}
}

// TriggerNow runs the agent immediately, regardless of the checklist. It
// returns "" without a handler.
func (s *Service) TriggerNow(ctx context.Context) (string, error) {
	if s.OnHeartbeat == nil {
		return "", nil
	}
	return s.OnHeartbeat(ctx, Prompt)
}

func (s *Service) readFile() string {
	data, err := os.ReadFile(filepath.Join(s.Workspace, FileName))
	if err != nil {
		return ""
	}
	return string(data)
}

var checkboxOnly = map[string]bool{
	"- [ ]": true,
	"* [ ]": true,
	"- [x]": true,
	"* [x]": true,
}

// isEmpty reports whether content has nothing but headers, comments, blank
// lines and bare checkboxes.
func isEmpty(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") || checkboxOnly[line] {
			continue
		}
		return false
	}
	return true
}

// IsOK reports whether a reply contains the OK token. The match ignores
// case and underscores, so "heartbeat ok" inside a longer reply also counts.
func IsOK(resp string) bool {
	return strings.Contains(strings.ToUpper(strings.ReplaceAll(resp, "_", "")), strings.ReplaceAll(OKToken, "_", ""))
}
