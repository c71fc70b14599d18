package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/KafClaw/clawlet/internal/config"
)

// Transcriber turns a saved voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// mediaStore saves downloaded attachments under one directory.
type mediaStore struct {
	dir string
}

func defaultMediaStore() mediaStore {
	dir, err := config.DataDir()
	if err != nil {
		return mediaStore{dir: filepath.Join(os.TempDir(), "clawlet-media")}
	}
	return mediaStore{dir: filepath.Join(dir, "media")}
}

func (s mediaStore) save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("media dir: %w", err)
	}
	path := filepath.Join(s.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}
	return path, nil
}

// describeAudio returns the marker the agent sees for a voice note: the
// transcription when one succeeds, otherwise the file path.
func describeAudio(ctx context.Context, tr Transcriber, kind, path string) string {
	if tr != nil {
		text, err := tr.Transcribe(ctx, path)
		switch {
		case err != nil:
			slog.Warn("Transcription failed", "kind", kind, "path", path, "error", err)
		case text != "":
			slog.Info("Transcribed audio", "kind", kind, "preview", truncateRunes(text, 50))
			return "[transcription: " + text + "]"
		}
	}
	return fmt.Sprintf("[%s: %s]", kind, path)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
