package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillInfo locates one SKILL.md.
type SkillInfo struct {
	Name   string
	Path   string
	Source string // "workspace" or "builtin"
}

// SkillRequirements lists what must be present for a skill to be usable.
type SkillRequirements struct {
	Bins []string `yaml:"bins"`
	Env  []string `yaml:"env"`
}

// SkillMeta is the runtime section of a skill's metadata.
type SkillMeta struct {
	Always   bool              `yaml:"always"`
	Requires SkillRequirements `yaml:"requires"`
}

// SkillFrontmatter is the YAML header of a SKILL.md file.
type SkillFrontmatter struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Always      bool      `yaml:"always"`
	Metadata    yaml.Node `yaml:"metadata"`
}

// Meta returns the runtime metadata. It accepts a YAML mapping or a JSON
// string, either flat or nested under a "clawlet" or "openclaw" key.
func (f *SkillFrontmatter) Meta() SkillMeta {
	var raw struct {
		SkillMeta `yaml:",inline"`
		Clawlet   *SkillMeta `yaml:"clawlet"`
		OpenClaw  *SkillMeta `yaml:"openclaw"`
	}
	switch f.Metadata.Kind {
	case yaml.MappingNode:
		_ = f.Metadata.Decode(&raw)
	case yaml.ScalarNode:
		_ = yaml.Unmarshal([]byte(f.Metadata.Value), &raw)
	}
	meta := raw.SkillMeta
	if raw.Clawlet != nil {
		meta = *raw.Clawlet
	} else if raw.OpenClaw != nil {
		meta = *raw.OpenClaw
	}
	meta.Always = meta.Always || f.Always
	return meta
}

// SkillsLoader finds skills in <workspace>/skills and an optional builtin
// directory. Workspace skills shadow builtin ones with the same name.
type SkillsLoader struct {
	workspaceDir string
	builtinDir   string
}

// NewSkillsLoader creates a loader. builtinDir may be empty.
func NewSkillsLoader(workspace, builtinDir string) *SkillsLoader {
	return &SkillsLoader{
		workspaceDir: filepath.Join(workspace, "skills"),
		builtinDir:   builtinDir,
	}
}

// ListSkills returns all skills, optionally only those whose requirements
// are met.
func (l *SkillsLoader) ListSkills(filterUnavailable bool) []SkillInfo {
	seen := map[string]bool{}
	var out []SkillInfo
	for _, src := range []struct{ dir, name string }{{l.workspaceDir, "workspace"}, {l.builtinDir, "builtin"}} {
		if src.dir == "" {
			continue
		}
		entries, err := os.ReadDir(src.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			path := filepath.Join(src.dir, e.Name(), "SKILL.md")
			if _, err := os.Stat(path); err != nil {
				continue
			}
			seen[e.Name()] = true
			out = append(out, SkillInfo{Name: e.Name(), Path: path, Source: src.name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	if !filterUnavailable {
		return out
	}
	available := out[:0]
	for _, s := range out {
		if len(missingRequirements(l.meta(s.Name))) == 0 {
			available = append(available, s)
		}
	}
	return available
}

// LoadSkill returns the raw SKILL.md content.
func (l *SkillsLoader) LoadSkill(name string) (string, bool) {
	for _, dir := range []string{l.workspaceDir, l.builtinDir} {
		if dir == "" {
			continue
		}
		if data, err := os.ReadFile(filepath.Join(dir, name, "SKILL.md")); err == nil {
			return string(data), true
		}
	}
	return "", false
}

// LoadSkillsForContext renders the bodies of the named skills without
// their frontmatter.
func (l *SkillsLoader) LoadSkillsForContext(names []string) string {
	var parts []string
	for _, name := range names {
		content, ok := l.LoadSkill(name)
		if !ok {
			continue
		}
		_, body := splitFrontmatter(content)
		parts = append(parts, fmt.Sprintf("### Skill: %s\n\n%s", name, body))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildSkillsSummary renders every skill as XML so the model can decide
// which SKILL.md to read.
func (l *SkillsLoader) BuildSkillsSummary() string {
	skills := l.ListSkills(false)
	if len(skills) == 0 {
		return ""
	}
	lines := []string{"<skills>"}
	for _, s := range skills {
		desc := s.Name
		if fm, ok := l.SkillMetadata(s.Name); ok && fm.Description != "" {
			desc = fm.Description
		}
		missing := missingRequirements(l.meta(s.Name))
		lines = append(lines,
			fmt.Sprintf("  <skill available=\"%t\">", len(missing) == 0),
			"    <name>"+escapeXML(s.Name)+"</name>",
			"    <description>"+escapeXML(desc)+"</description>",
			"    <location>"+s.Path+"</location>",
		)
		if len(missing) > 0 {
			lines = append(lines, "    <requires>"+escapeXML(strings.Join(missing, ", "))+"</requires>")
		}
		lines = append(lines, "  </skill>")
	}
	lines = append(lines, "</skills>")
	return strings.Join(lines, "\n")
}

// AlwaysSkills returns available skills marked always-on.
func (l *SkillsLoader) AlwaysSkills() []string {
	var out []string
	for _, s := range l.ListSkills(true) {
		if l.meta(s.Name).Always {
			out = append(out, s.Name)
		}
	}
	return out
}

// SkillMetadata parses the frontmatter of a skill.
func (l *SkillsLoader) SkillMetadata(name string) (*SkillFrontmatter, bool) {
	content, ok := l.LoadSkill(name)
	if !ok {
		return nil, false
	}
	header, _ := splitFrontmatter(content)
	if header == "" {
		return nil, false
	}
	var fm SkillFrontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, false
	}
	return &fm, true
}

func (l *SkillsLoader) meta(name string) SkillMeta {
	fm, ok := l.SkillMetadata(name)
	if !ok {
		return SkillMeta{}
	}
	return fm.Meta()
}

func missingRequirements(m SkillMeta) []string {
	var missing []string
	for _, bin := range m.Requires.Bins {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, "CLI: "+bin)
		}
	}
	for _, env := range m.Requires.Env {
		if os.Getenv(env) == "" {
			missing = append(missing, "ENV: "+env)
		}
	}
	return missing
}

// splitFrontmatter separates a leading "---" YAML block from the body.
func splitFrontmatter(content string) (header, body string) {
	if !strings.HasPrefix(content, "---") {
		return "", content
	}
	rest := content[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", content
	}
	header = strings.TrimSpace(rest[:idx])
	body = rest[idx+4:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return header, strings.TrimSpace(body)
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeXML(s string) string { return xmlEscaper.Replace(s) }
