package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// loadStore reads the job store. A missing file yields an empty store; an
// unreadable one is logged and replaced by an empty store.
func loadStore(path string) *Store {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read cron store", "path", path, "error", err)
		}
		return &Store{Version: storeVersion}
	}
	var st Store
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("Failed to parse cron store", "path", path, "error", err)
		return &Store{Version: storeVersion}
	}
	if st.Version == 0 {
		st.Version = storeVersion
	}
	jobs := st.Jobs[:0]
	for _, j := range st.Jobs {
		if j != nil && j.ID != "" {
			jobs = append(jobs, j)
		}
	}
	st.Jobs = jobs
	return &st
}

// saveStore writes the store through a temp file and rename.
func saveStore(path string, st *Store) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}
	if st.Jobs == nil {
		st.Jobs = []*Job{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}
