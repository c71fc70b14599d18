package agent

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedMemory(t *testing.T, day time.Time) *MemoryStore {
	t.Helper()
	m := NewMemoryStore(t.TempDir())
	m.now = func() time.Time { return day }
	return m
}

func TestAppendTodayStartsWithHeader(t *testing.T) {
	m := fixedMemory(t, time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))

	if err := m.AppendToday("- bought milk"); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendToday("- called mom"); err != nil {
		t.Fatal(err)
	}

	got := m.ReadToday()
	want := "# 2026-05-04\n\n- bought milk\n- called mom"
	if got != want {
		t.Fatalf("ReadToday = %q, want %q", got, want)
	}
}

func TestLongTermAndContext(t *testing.T) {
	m := fixedMemory(t, time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	if m.MemoryContext() != "" {
		t.Fatal("expected empty context for a fresh store")
	}

	if err := m.WriteLongTerm("User prefers metric units"); err != nil {
		t.Fatal(err)
	}
	if m.ReadLongTerm() != "User prefers metric units" {
		t.Fatal("long-term memory not persisted")
	}
	m.AppendToday("- note")

	ctx := m.MemoryContext()
	if !strings.HasPrefix(ctx, "## Long-term Memory\nUser prefers metric units") {
		t.Errorf("unexpected context: %q", ctx)
	}
	if !strings.Contains(ctx, "## Today's Notes\n# 2026-05-04") {
		t.Errorf("context missing today's notes: %q", ctx)
	}
}

func TestRecentMemoriesAndListing(t *testing.T) {
	day := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m := fixedMemory(t, day)

	for i := 0; i < 3; i++ {
		m.now = func() time.Time { return day.AddDate(0, 0, -i) }
		m.AppendToday("entry")
	}
	m.now = func() time.Time { return day }

	recent := m.RecentMemories(2)
	if strings.Count(recent, "entry") != 2 {
		t.Fatalf("expected two days of notes, got %q", recent)
	}
	if !strings.HasPrefix(recent, "# 2026-05-04") {
		t.Errorf("newest day should come first: %q", recent)
	}

	files := m.ListMemoryFiles()
	if len(files) != 3 {
		t.Fatalf("expected 3 daily files, got %v", files)
	}
	if filepath.Base(files[0]) != "2026-05-04.md" || filepath.Base(files[2]) != "2026-05-02.md" {
		t.Errorf("files not sorted newest first: %v", files)
	}
}
