// Package session persists per-user conversation history as jsonl files.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/valetd/valet/internal/provider"
)

// Session holds one user's conversation transcript.
type Session struct {
	Key       string
	Messages  []provider.Message
	CreatedAt time.Time
	UpdatedAt time.Time
	mu        sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(key string) *Session {
	now := time.Now()
	return &Session{Key: key, CreatedAt: now, UpdatedAt: now}
}

// Append adds messages to the transcript.
func (s *Session) Append(msgs ...provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// History returns a copy of the transcript, keeping only the newest
// maxMessages when the transcript is longer (0 = everything).
func (s *Session) History(maxMessages int) []provider.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Trim drops everything but the newest maxMessages.
func (s *Session) Trim(maxMessages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxMessages > 0 && len(s.Messages) > maxMessages {
		s.Messages = append([]provider.Message(nil), s.Messages[len(s.Messages)-maxMessages:]...)
	}
}

// Clear removes all messages.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = nil
	s.UpdatedAt = time.Now()
}

// Len returns the transcript length.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Manager loads and saves sessions under a directory.
type Manager struct {
	dir   string
	cache map[string]*Session
	mu    sync.Mutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) *Manager {
	os.MkdirAll(dir, 0755)
	return &Manager{dir: dir, cache: make(map[string]*Session)}
}

// GetOrCreate returns the cached session for key, loading from disk or
// creating fresh.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.cache[key]; ok {
		return s
	}
	s := m.load(key)
	if s == nil {
		s = NewSession(key)
	}
	m.cache[key] = s
	return s
}

// Save writes the session to disk, one JSON message per line after a
// metadata header line.
func (m *Manager) Save(s *Session) error {
	path := m.path(s.Key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()

	header, _ := json.Marshal(map[string]any{
		"_type":      "metadata",
		"created_at": s.CreatedAt.Format(time.RFC3339),
		"updated_at": s.UpdatedAt.Format(time.RFC3339),
	})
	fmt.Fprintln(f, string(header))
	for _, msg := range s.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		fmt.Fprintln(f, string(line))
	}
	return nil
}

// Delete removes a session from cache and disk.
func (m *Manager) Delete(key string) bool {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return os.Remove(m.path(key)) == nil
}

// path sanitizes the key into a filename; separators and traversal
// components are stripped to prevent path injection.
func (m *Manager) path(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(m.dir, filepath.Base(safe)+".jsonl")
}

func (m *Manager) load(key string) *Session {
	f, err := os.Open(m.path(key))
	if err != nil {
		return nil
	}
	defer f.Close()

	s := NewSession(key)
	dec := json.NewDecoder(f)
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		var check map[string]any
		if json.Unmarshal(raw, &check) == nil && check["_type"] == "metadata" {
			if created, ok := check["created_at"].(string); ok {
				s.CreatedAt, _ = time.Parse(time.RFC3339, created)
			}
			if updated, ok := check["updated_at"].(string); ok {
				s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
			}
			continue
		}
		var msg provider.Message
		if json.Unmarshal(raw, &msg) == nil {
			s.Messages = append(s.Messages, msg)
		}
	}
	return s
}
