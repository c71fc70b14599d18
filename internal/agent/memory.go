package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// MemoryStore manages the workspace memory files: long-term memory in
// memory/MEMORY.md and one note file per day in memory/YYYY-MM-DD.md.
type MemoryStore struct {
	dir string
	now func() time.Time
}

// NewMemoryStore creates a store under <workspace>/memory.
func NewMemoryStore(workspace string) *MemoryStore {
	dir := filepath.Join(workspace, "memory")
	os.MkdirAll(dir, 0o755)
	return &MemoryStore{dir: dir, now: time.Now}
}

// Dir returns the memory directory.
func (m *MemoryStore) Dir() string { return m.dir }

func (m *MemoryStore) todayFile() string {
	return filepath.Join(m.dir, m.now().Format(dateLayout)+".md")
}

func (m *MemoryStore) longTermFile() string {
	return filepath.Join(m.dir, "MEMORY.md")
}

// ReadToday returns today's notes or "".
func (m *MemoryStore) ReadToday() string {
	return readIfExists(m.todayFile())
}

// AppendToday appends to today's notes, starting a new file with a date
// header.
func (m *MemoryStore) AppendToday(content string) error {
	path := m.todayFile()
	existing := readIfExists(path)
	if existing == "" {
		content = "# " + m.now().Format(dateLayout) + "\n\n" + content
	} else {
		content = existing + "\n" + content
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// ReadLongTerm returns MEMORY.md or "".
func (m *MemoryStore) ReadLongTerm() string {
	return readIfExists(m.longTermFile())
}

// WriteLongTerm replaces MEMORY.md.
func (m *MemoryStore) WriteLongTerm(content string) error {
	return os.WriteFile(m.longTermFile(), []byte(content), 0o644)
}

// RecentMemories joins the daily notes of the last days days, newest first.
func (m *MemoryStore) RecentMemories(days int) string {
	var parts []string
	today := m.now()
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i).Format(dateLayout)
		if c := readIfExists(filepath.Join(m.dir, day+".md")); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// ListMemoryFiles returns the daily note files, newest first.
func (m *MemoryStore) ListMemoryFiles() []string {
	files, _ := filepath.Glob(filepath.Join(m.dir, "????-??-??.md"))
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files
}

// MemoryContext renders long-term memory and today's notes for the system
// prompt.
func (m *MemoryStore) MemoryContext() string {
	var parts []string
	if lt := m.ReadLongTerm(); lt != "" {
		parts = append(parts, "## Long-term Memory\n"+lt)
	}
	if today := m.ReadToday(); today != "" {
		parts = append(parts, "## Today's Notes\n"+today)
	}
	return strings.Join(parts, "\n\n")
}

func readIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
