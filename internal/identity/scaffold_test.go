package identity

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestScaffoldWorkspace(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "ws")

	res, err := ScaffoldWorkspace(ws, false)
	if err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	if len(res.Errors) > 0 || len(res.Skipped) > 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(res.Created, TemplateNames) {
		t.Fatalf("created %v, want %v", res.Created, TemplateNames)
	}
	for _, name := range TemplateNames {
		data, err := os.ReadFile(filepath.Join(ws, name))
		if err != nil || len(data) == 0 {
			t.Fatalf("%s: empty or missing (%v)", name, err)
		}
	}
	for _, dir := range []string{"memory", "skills", "sessions"} {
		if info, err := os.Stat(filepath.Join(ws, dir)); err != nil || !info.IsDir() {
			t.Fatalf("missing dir %s", dir)
		}
	}
	if m := MissingFiles(ws); len(m) != 0 {
		t.Fatalf("nothing should be missing, got %v", m)
	}
}

func TestScaffoldKeepsUserEdits(t *testing.T) {
	ws := t.TempDir()
	soul := filepath.Join(ws, "SOUL.md")
	if err := os.WriteFile(soul, []byte("# Mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := ScaffoldWorkspace(ws, false)
	if err != nil {
		t.Fatalf("scaffold: %v", err)
	}
	if !slices.Contains(res.Skipped, "SOUL.md") || slices.Contains(res.Created, "SOUL.md") {
		t.Fatalf("SOUL.md should be skipped: %+v", res)
	}
	if data, _ := os.ReadFile(soul); string(data) != "# Mine" {
		t.Fatalf("SOUL.md overwritten: %q", data)
	}

	res, err = ScaffoldWorkspace(ws, true)
	if err != nil {
		t.Fatalf("forced scaffold: %v", err)
	}
	if len(res.Created) != len(TemplateNames) {
		t.Fatalf("force should rewrite everything, created %v", res.Created)
	}
	if data, _ := os.ReadFile(soul); string(data) == "# Mine" {
		t.Fatal("force should overwrite SOUL.md")
	}
}

func TestMissingFiles(t *testing.T) {
	ws := t.TempDir()
	if got := MissingFiles(ws); !slices.Equal(got, TemplateNames) {
		t.Fatalf("empty workspace: %v", got)
	}
	if err := os.WriteFile(filepath.Join(ws, "AGENTS.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := MissingFiles(ws); slices.Contains(got, "AGENTS.md") || len(got) != len(TemplateNames)-1 {
		t.Fatalf("after AGENTS.md: %v", got)
	}
}

func TestTemplatesHaveContent(t *testing.T) {
	for _, name := range TemplateNames {
		data, err := Template(name)
		if err != nil || len(data) == 0 {
			t.Fatalf("template %s: %v", name, err)
		}
	}
	if _, err := Template("nope.md"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
