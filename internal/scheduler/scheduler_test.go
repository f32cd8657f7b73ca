package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/schedule"
	"github.com/valetd/valet/internal/taskstore"
)

// fakeDispatcher records scheduled executions.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []provider.ToolCall
	users   []string
	succeed bool
}

func (d *fakeDispatcher) ExecuteScheduled(ctx context.Context, userKey string, call provider.ToolCall) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	d.users = append(d.users, userKey)
	if d.succeed {
		return "[OK] done", true
	}
	return "[ERROR] boom", false
}

func newTestScheduler(t *testing.T, disp Dispatcher, batch, rate int) (*Scheduler, *taskstore.Store) {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	s := New(Options{
		Store:         store,
		Dispatcher:    disp,
		Journal:       journal.New(50),
		BatchSize:     batch,
		RatePerMinute: rate,
	})
	return s, store
}

func TestTickExecutesDueOneTime(t *testing.T) {
	disp := &fakeDispatcher{succeed: true}
	s, store := newTestScheduler(t, disp, 10, 30)
	ctx := context.Background()

	id, _ := store.Create(ctx, &taskstore.Task{
		UserKey:  "telegram:7",
		ToolName: "exec",
		Args:     map[string]any{"command": "echo hi"},
		Schedule: schedule.Spec{Type: schedule.OneTime},
		NextRun:  time.Now().UTC().Add(-time.Minute),
	})

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(disp.calls) != 1 {
		t.Fatalf("executed %d tasks, want 1", len(disp.calls))
	}
	if !strings.HasPrefix(disp.calls[0].ID, "sched-"+id) {
		t.Errorf("synthetic call id = %q", disp.calls[0].ID)
	}
	if disp.users[0] != "telegram:7" {
		t.Errorf("dispatched for user %q", disp.users[0])
	}

	got, _ := store.Get(ctx, id)
	if got.Status != taskstore.StatusDone {
		t.Errorf("one_time after success: status = %s, want done", got.Status)
	}
	if got.RunCount != 1 {
		t.Errorf("run_count = %d", got.RunCount)
	}
}

func TestTickAdvancesRecurringOnFailure(t *testing.T) {
	disp := &fakeDispatcher{succeed: false}
	s, store := newTestScheduler(t, disp, 10, 30)
	ctx := context.Background()

	trigger := time.Now().UTC().Add(-time.Minute)
	id, _ := store.Create(ctx, &taskstore.Task{
		UserKey:  "u1",
		ToolName: "web_fetch",
		Schedule: schedule.Spec{Type: schedule.EveryN, IntervalSeconds: 3600},
		NextRun:  trigger,
	})

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, _ := store.Get(ctx, id)
	if got.Status != taskstore.StatusActive {
		t.Errorf("recurring task after failed run: status = %s, want active", got.Status)
	}
	want := trigger.Add(time.Hour)
	if got.NextRun.Sub(want).Abs() > time.Second {
		t.Errorf("next_run = %v, want trigger+1h (%v)", got.NextRun, want)
	}
	if got.LastError == "" {
		t.Error("last_error should carry the failure text")
	}
}

func TestTickRespectsBatchSize(t *testing.T) {
	disp := &fakeDispatcher{succeed: true}
	s, store := newTestScheduler(t, disp, 2, 30)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Create(ctx, &taskstore.Task{
			UserKey: "u", ToolName: "exec",
			Schedule: schedule.Spec{Type: schedule.OneTime},
			NextRun:  time.Now().UTC().Add(-time.Minute),
		})
	}

	s.Tick(ctx)
	if len(disp.calls) != 2 {
		t.Errorf("executed %d, want batch size 2", len(disp.calls))
	}

	// Deferred tasks are still due on the next tick.
	s.Tick(ctx)
	if len(disp.calls) != 4 {
		t.Errorf("after second tick executed %d, want 4", len(disp.calls))
	}
}

func TestTickDefersWhenRateLimited(t *testing.T) {
	disp := &fakeDispatcher{succeed: true}
	s, store := newTestScheduler(t, disp, 10, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Create(ctx, &taskstore.Task{
			UserKey: "u", ToolName: "exec",
			Schedule: schedule.Spec{Type: schedule.OneTime},
			NextRun:  time.Now().UTC().Add(-time.Minute),
		})
	}

	s.Tick(ctx)
	if len(disp.calls) != 1 {
		t.Errorf("rate cap 1: executed %d, want 1", len(disp.calls))
	}

	due, _ := store.FetchDue(ctx, 10)
	if len(due) != 2 {
		t.Errorf("deferred tasks must remain due, got %d", len(due))
	}
}

func TestRateLimiterRollingWindow(t *testing.T) {
	r := newRateLimiter(3, time.Minute)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !r.Allow(base.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("event %d within cap should be allowed", i)
		}
	}
	if r.Allow(base.Add(10 * time.Second)) {
		t.Error("4th event inside the window must be deferred")
	}
	// Once the first stamp ages out, capacity frees up again.
	if !r.Allow(base.Add(61 * time.Second)) {
		t.Error("event after the window slides should be allowed")
	}
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.lock")
	l1 := NewFileLock(path)
	ok, err := l1.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}

	l2 := NewFileLock(path)
	if ok, _ := l2.TryLock(); ok {
		t.Error("second lock on the same path must fail")
	}

	if err := l1.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := l2.TryLock(); !ok {
		t.Error("lock should succeed after release")
	}
	l2.Unlock()
}
