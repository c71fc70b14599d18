// Package session stores per-conversation message history as JSONL files.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHistory is how many recent messages are replayed to the model.
const DefaultHistory = 50

// ErrNotFound is returned when a session has no file on disk.
var ErrNotFound = errors.New("session not found")

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Session is the history of one conversation, keyed by "channel:chat_id".
type Session struct {
	Key       string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any
	mu        sync.RWMutex
}

// New creates an empty session.
func New(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// AddMessage appends a message.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.UpdatedAt = now
}

// History returns up to max of the most recent messages, oldest first.
func (s *Session) History(max int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if max > 0 && len(s.Messages) > max {
		start = len(s.Messages) - max
	}
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Clear removes all messages.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Messages = []Message{}
	s.UpdatedAt = time.Now()
}

// SetMetadata sets a metadata value.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = value
	s.UpdatedAt = time.Now()
}

// GetMetadata returns a metadata value.
func (s *Session) GetMetadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Metadata[key]
	return v, ok
}

// header is the first JSONL line of a session file.
type header struct {
	Type      string         `json:"_type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Manager owns all sessions: at most one in-memory Session per key, backed
// by <dir>/<safe key>.jsonl.
type Manager struct {
	dir   string
	cache map[string]*Session
	mu    sync.Mutex
}

// NewManager creates a manager storing files in dir.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{dir: dir, cache: make(map[string]*Session)}, nil
}

// Dir returns the storage directory.
func (m *Manager) Dir() string { return m.dir }

// GetOrCreate returns the cached session, loads it from disk, or creates it.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s
	}
	s, err := m.load(key)
	if err != nil {
		s = New(key)
	}
	m.cache[key] = s
	return s
}

// Get returns an existing session or ErrNotFound.
func (m *Manager) Get(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.load(key)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

// Save writes the session atomically.
func (m *Manager) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.mu.RLock()
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	err := enc.Encode(header{Type: "metadata", CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt, Metadata: s.Metadata})
	for _, msg := range s.Messages {
		if err != nil {
			break
		}
		err = enc.Encode(msg)
	}
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.Key, err)
	}

	path := m.path(s.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session: %w", err)
	}
	m.cache[s.Key] = s
	return nil
}

// Delete drops a session from memory and disk. It reports whether a file
// was removed.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, key)
	return os.Remove(m.path(key)) == nil
}

// Info summarizes a stored session.
type Info struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Path      string
}

// List returns all stored sessions, most recently updated first.
func (m *Manager) List() []Info {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		key, ok := decodeKey(strings.TrimSuffix(e.Name(), ".jsonl"))
		if !ok {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		info := Info{Key: key, Path: path}
		if h, err := readHeader(path); err == nil {
			info.CreatedAt, info.UpdatedAt = h.CreatedAt, h.UpdatedAt
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func readHeader(path string) (header, error) {
	var h header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// path maps a key to its file. The first colon becomes an underscore so
// common keys stay readable ("cli:direct" is cli_direct.jsonl); every other
// byte that could collide or escape the directory is %XX-escaped, which keeps
// the mapping reversible.
func (m *Manager) path(key string) string {
	return filepath.Join(m.dir, encodeKey(key)+".jsonl")
}

func encodeKey(key string) string {
	var b strings.Builder
	sep := false
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':' && !sep:
			sep = true
			b.WriteByte('_')
		case c == ':' || c == '_' || c == '%' || c == '/' || c == '\\' || c < 0x20 || c == 0x7f,
			c == '.' && i == 0:
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decodeKey reverses encodeKey. It reports false for names encodeKey could
// not have produced.
func decodeKey(name string) (string, bool) {
	var b strings.Builder
	sep := false
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '_':
			if sep {
				return "", false
			}
			sep = true
			b.WriteByte(':')
		case '%':
			if i+2 >= len(name) {
				return "", false
			}
			v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
			if err != nil {
				return "", false
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}

func (m *Manager) load(key string) (*Session, error) {
	f, err := os.Open(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer f.Close()

	s := New(key)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var kind struct {
			Type string `json:"_type"`
		}
		if json.Unmarshal(line, &kind) != nil {
			continue
		}
		if kind.Type == "metadata" {
			var h header
			if json.Unmarshal(line, &h) == nil {
				s.CreatedAt, s.UpdatedAt = h.CreatedAt, h.UpdatedAt
				if h.Metadata != nil {
					s.Metadata = h.Metadata
				}
			}
			continue
		}
		var msg Message
		if json.Unmarshal(line, &msg) == nil {
			s.Messages = append(s.Messages, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	return s, nil
}
