package heartbeat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"missing", "", true},
		{"headers only", "# Heartbeat\n\n## Tasks\n", true},
		{"comments and boxes", "<!-- add tasks below -->\n- [ ]\n* [x]\n   \n", true},
		{"real task", "# Tasks\n- [ ] water the plants\n", false},
		{"plain text", "check the build", false},
		{"multi-line comment body", "<!--\nnotes\n-->", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmpty(tt.content); got != tt.want {
				t.Errorf("isEmpty(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestIsOK(t *testing.T) {
	for _, resp := range []string{"HEARTBEAT_OK", "heartbeat_ok", "HeartbeatOK", "All good. HEARTBEAT_OK"} {
		if !IsOK(resp) {
			t.Errorf("IsOK(%q) = false", resp)
		}
	}
	if IsOK("I watered the plants.") {
		t.Error("task reply must not count as OK")
	}
}

func writeHeartbeat(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTickSkipsEmptyChecklist(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "# Heartbeat\n- [ ]\n")

	var calls atomic.Int32
	s := NewService(ws, func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		return "HEARTBEAT_OK", nil
	})
	s.tick(context.Background())
	if calls.Load() != 0 {
		t.Fatal("empty checklist should not wake the agent")
	}

	writeHeartbeat(t, ws, "- [ ] send the weekly summary\n")
	s.tick(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestTickSurvivesHandlerError(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "do something")
	s := NewService(ws, func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("offline")
	})
	s.tick(context.Background())
}

func TestStartTicksAndStop(t *testing.T) {
	ws := t.TempDir()
	writeHeartbeat(t, ws, "- [ ] ping\n")

	got := make(chan string, 8)
	s := NewService(ws, func(ctx context.Context, prompt string) (string, error) {
		select {
		case got <- prompt:
		default:
		}
		return "HEARTBEAT_OK", nil
	})
	s.Interval = 20 * time.Millisecond
	s.Start(context.Background())
	s.Start(context.Background())

	select {
	case prompt := <-got:
		if prompt != Prompt {
			t.Errorf("unexpected prompt %q", prompt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat never fired")
	}
	s.Stop()
	s.Stop()
}

func TestDisabledStartIsNoop(t *testing.T) {
	var calls atomic.Int32
	s := NewService(t.TempDir(), func(ctx context.Context, prompt string) (string, error) {
		calls.Add(1)
		return "", nil
	})
	s.Enabled = false
	s.Interval = 5 * time.Millisecond
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	if calls.Load() != 0 {
		t.Fatal("disabled heartbeat must not run")
	}
}

func TestTriggerNowIgnoresChecklist(t *testing.T) {
	s := NewService(t.TempDir(), func(ctx context.Context, prompt string) (string, error) {
		return "done", nil
	})
	resp, err := s.TriggerNow(context.Background())
	if err != nil || resp != "done" {
		t.Fatalf("TriggerNow = %q, %v", resp, err)
	}
	if resp, _ := (&Service{}).TriggerNow(context.Background()); resp != "" {
		t.Error("no handler should return empty")
	}
}
