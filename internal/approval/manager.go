// Package approval provides the async confirmation protocol for risk-gated
// tool calls: one pending channel per request, resolved exactly once by the
// transport that asked the question.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/valetd/valet/internal/autonomy"
)

// Request describes one tool call awaiting a verdict.
type Request struct {
	ID        string         `json:"id"`
	UserKey   string         `json:"user_key"`
	Tool      string         `json:"tool"`
	Risk      autonomy.Risk  `json:"risk"`
	Arguments map[string]any `json:"arguments"`
	CreatedAt time.Time      `json:"created_at"`
}

// Manager tracks pending approvals. Create registers, Wait blocks the asking
// goroutine, Respond resolves from the transport side.
type Manager struct {
	mu      sync.Mutex
	pending map[string]chan bool
	reqs    map[string]*Request
}

// NewManager creates an empty approval manager.
func NewManager() *Manager {
	return &Manager{
		pending: make(map[string]chan bool),
		reqs:    make(map[string]*Request),
	}
}

// Create registers a request and returns its id.
func (m *Manager) Create(req *Request) string {
	req.ID = newID()
	req.CreatedAt = time.Now()

	ch := make(chan bool, 1)
	m.mu.Lock()
	m.pending[req.ID] = ch
	m.reqs[req.ID] = req
	m.mu.Unlock()
	return req.ID
}

// Wait blocks until the request is resolved or ctx expires. Context expiry
// returns context's error; the caller decides the verdict policy.
func (m *Manager) Wait(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no pending approval: %s", id)
	}

	select {
	case approved := <-ch:
		m.cleanup(id)
		return approved, nil
	case <-ctx.Done():
		m.cleanup(id)
		return false, ctx.Err()
	}
}

// Respond delivers a verdict for a pending request. The send is non-blocking
// because the channel is buffered; a second respond for the same id is a
// no-op.
func (m *Manager) Respond(id string, approved bool) error {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval: %s", id)
	}
	select {
	case ch <- approved:
	default:
	}
	return nil
}

// Get returns the request details for a pending id, or nil.
func (m *Manager) Get(id string) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[id]
}

// PendingCount returns the number of unresolved requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) cleanup(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	delete(m.reqs, id)
	m.mu.Unlock()
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("appr-%d", time.Now().UnixNano())
}
