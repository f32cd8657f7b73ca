package journal

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind classifies a journal entry.
type Kind string

const (
	KindDeliveryOK   Kind = "delivery_ok"
	KindDeliveryFail Kind = "delivery_fail"
	KindToolOK       Kind = "tool_ok"
	KindToolFail     Kind = "tool_fail"
	KindError        Kind = "error"
	KindWarning      Kind = "warning"
)

// attention reports whether a kind should be surfaced to the user via the
// injection digest.
func (k Kind) attention() bool {
	switch k {
	case KindError, KindWarning, KindToolFail, KindDeliveryFail:
		return true
	}
	return false
}

// Entry is one operational event. UserKey is empty for global events.
type Entry struct {
	Time    time.Time
	Kind    Kind
	Summary string
	Detail  string
	UserKey string
}

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 200

// Journal is a fixed-capacity ring buffer of operational events. Entries are
// insertion-ordered; the oldest entry is evicted silently on overflow.
// Nothing here is ever persisted.
type Journal struct {
	mu         sync.Mutex
	buf        []Entry
	head       int // index of oldest entry
	count      int
	watermarks map[string]time.Time // userKey -> last digest time
}

// New creates a journal with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		buf:        make([]Entry, capacity),
		watermarks: make(map[string]time.Time),
	}
}

// Record appends an entry, evicting the oldest when full. A zero Time is
// filled with the current time.
func (j *Journal) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	tail := (j.head + j.count) % len(j.buf)
	j.buf[tail] = e
	if j.count < len(j.buf) {
		j.count++
	} else {
		j.head = (j.head + 1) % len(j.buf)
	}
}

// snapshot returns entries oldest-first. Caller holds the lock.
func (j *Journal) snapshot() []Entry {
	out := make([]Entry, 0, j.count)
	for i := 0; i < j.count; i++ {
		out = append(out, j.buf[(j.head+i)%len(j.buf)])
	}
	return out
}

// Len returns the number of entries currently held.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// RecentErrors returns the most recent entries (up to limit) whose kind needs
// attention, optionally only those after since.
func (j *Journal) RecentErrors(since time.Time, limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.snapshot() {
		if !e.Kind.attention() {
			continue
		}
		if !since.IsZero() && !e.Time.After(since) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ForUser returns the most recent entries (up to limit) owned by userKey or
// global.
func (j *Journal) ForUser(userKey string, limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.snapshot() {
		if e.UserKey == "" || e.UserKey == userKey {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// DigestForInjection formats the attention-worthy entries recorded after the
// user's watermark, or returns "" when none qualify. Entries owned by another
// user are never included; global entries (empty UserKey) go to everyone. On
// a non-empty return the watermark advances to the newest entry seen, so each
// qualifying event is delivered to a given user at most once — and an entry
// stamped concurrently with the digest still lands in the next one.
func (j *Journal) DigestForInjection(userKey string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	mark := j.watermarks[userKey]
	latest := mark
	var lines []string
	for _, e := range j.snapshot() {
		if !e.Kind.attention() {
			continue
		}
		if e.UserKey != "" && e.UserKey != userKey {
			continue
		}
		if !e.Time.After(mark) {
			continue
		}
		if e.Time.After(latest) {
			latest = e.Time
		}
		line := fmt.Sprintf("- [%s] %s: %s", e.Time.Format("15:04:05"), e.Kind, e.Summary)
		if e.Detail != "" {
			line += " (" + e.Detail + ")"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	j.watermarks[userKey] = latest
	return "Recent operational events since your last turn:\n" + strings.Join(lines, "\n")
}
