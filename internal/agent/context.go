package agent

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/KafClaw/clawlet/internal/identity"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/session"
)

const sectionSeparator = "\n\n---\n\n"

// ContextBuilder assembles the system prompt and messages.
type ContextBuilder struct {
	workspace string
	memory    *MemoryStore
	skills    *SkillsLoader
	now       func() time.Time
}

// NewContextBuilder creates a ContextBuilder for a workspace. builtinSkills
// may be empty.
func NewContextBuilder(workspace, builtinSkills string) *ContextBuilder {
	ws := expandHome(workspace)
	if abs, err := filepath.Abs(ws); err == nil {
		ws = abs
	}
	return &ContextBuilder{
		workspace: ws,
		memory:    NewMemoryStore(ws),
		skills:    NewSkillsLoader(ws, builtinSkills),
		now:       time.Now,
	}
}

// Workspace returns the resolved workspace path.
func (b *ContextBuilder) Workspace() string { return b.workspace }

// Memory returns the workspace memory store.
func (b *ContextBuilder) Memory() *MemoryStore { return b.memory }

// Skills returns the skills loader.
func (b *ContextBuilder) Skills() *SkillsLoader { return b.skills }

// BuildSystemPrompt constructs the full system prompt from files and runtime info.
func (b *ContextBuilder) BuildSystemPrompt() string {
	var parts []string

	// 1. Core identity and runtime info
	parts = append(parts, b.identity())

	// 2. Bootstrap files
	if bootstrap := b.loadBootstrapFiles(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	// 3. Memory
	if mem := b.memory.MemoryContext(); mem != "" {
		parts = append(parts, "# Memory\n\n"+mem)
	}

	// 4. Always-on skills, full body
	if always := b.skills.AlwaysSkills(); len(always) > 0 {
		if content := b.skills.LoadSkillsForContext(always); content != "" {
			parts = append(parts, "# Active Skills\n\n"+content)
		}
	}

	// 5. Everything else as a summary; the model reads SKILL.md on demand.
	if summary := b.skills.BuildSkillsSummary(); summary != "" {
		parts = append(parts, `# Skills

The following skills extend your capabilities. To use a skill, read its SKILL.md file using the read_file tool.
Skills with available="false" need dependencies installed first. You can try installing them with apt/brew.

`+summary)
	}

	return strings.Join(parts, sectionSeparator)
}

func (b *ContextBuilder) identity() string {
	now := b.now().Format("2006-01-02 15:04 (Monday)")
	runtimeInfo := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, strings.TrimPrefix(runtime.Version(), "go"))
	ws := b.workspace

	return fmt.Sprintf(`# clawlet

You are clawlet, a helpful AI assistant. You have access to tools that allow you to:
- Read, write, and edit files
- Execute shell commands
- Search the web and fetch web pages
- Send messages to users on chat channels
- Spawn subagents for complex background tasks
- Schedule reminders and recurring tasks

## Current Time
%s

## Runtime
%s

## Workspace
Your workspace is at: %s
- Memory files: %s/memory/MEMORY.md
- Daily notes: %s/memory/YYYY-MM-DD.md
- Custom skills: %s/skills/{skill-name}/SKILL.md

IMPORTANT: When responding to direct questions or conversations, reply directly with your text response.
Only use the 'message' tool when you need to send a message to a specific chat channel.
For normal conversation, just respond with text. Do not call the message tool.

Always be helpful, accurate, and concise. When using tools, explain what you're doing.
When remembering something, write to %s/memory/MEMORY.md`, now, runtimeInfo, ws, ws, ws, ws, ws)
}

func (b *ContextBuilder) loadBootstrapFiles() string {
	var parts []string
	for _, filename := range identity.BootstrapFiles {
		content, err := os.ReadFile(filepath.Join(b.workspace, filename))
		if err == nil {
			parts = append(parts, fmt.Sprintf("## %s\n\n%s", filename, string(content)))
		}
	}
	return strings.Join(parts, "\n\n")
}

// BuildMessages constructs the message list for one model call: system
// prompt, replayed history and the current user message with any images.
func (b *ContextBuilder) BuildMessages(history []session.Message, current string, media []string, channel, chatID string) []provider.Message {
	systemPrompt := b.BuildSystemPrompt()
	if channel != "" && chatID != "" {
		systemPrompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	for _, msg := range history {
		messages = append(messages, provider.Message{Role: msg.Role, Content: msg.Content})
	}

	user := provider.Message{Role: "user", Content: current}
	if parts := imageParts(media); len(parts) > 0 {
		user.Parts = append(parts, provider.ContentPart{Type: "text", Text: current})
	}
	return append(messages, user)
}

// imageParts inlines local image files as data URLs. Anything that is not a
// readable image is skipped.
func imageParts(media []string) []provider.ContentPart {
	var parts []provider.ContentPart
	for _, path := range media {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		if !strings.HasPrefix(mimeType, "image/") {
			continue
		}
		parts = append(parts, provider.ContentPart{
			Type:     "image_url",
			ImageURL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		})
	}
	return parts
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
