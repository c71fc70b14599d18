// Package identity holds the workspace templates: the bootstrap files the
// agent reads into every prompt, the heartbeat task list and the initial
// long-term memory.
package identity

import "embed"

//go:embed templates
var templates embed.FS

// BootstrapFiles are loaded into the system prompt in this order.
var BootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

// TemplateNames lists every scaffolded file relative to the workspace root.
var TemplateNames = append(append([]string{}, BootstrapFiles...), "HEARTBEAT.md", "memory/MEMORY.md")

// Template returns an embedded template by its workspace-relative name.
func Template(name string) ([]byte, error) {
	return templates.ReadFile("templates/" + name)
}
