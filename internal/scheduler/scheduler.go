// Package scheduler polls the task store for due tasks and re-enters the
// same tool-dispatch pipeline live conversation uses, with interactive
// approval bypassed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/schedule"
	"github.com/valetd/valet/internal/taskstore"
)

// Defaults for the polling loop.
const (
	DefaultTickInterval  = 2 * time.Second
	DefaultBatchSize     = 10
	DefaultRatePerMinute = 30
)

// Dispatcher executes a scheduled tool call with approval bypassed. The
// agent loop implements this.
type Dispatcher interface {
	ExecuteScheduled(ctx context.Context, userKey string, call provider.ToolCall) (content string, success bool)
}

// Options configures a Scheduler.
type Options struct {
	Store      *taskstore.Store
	Dispatcher Dispatcher
	Journal    *journal.Journal

	TickInterval  time.Duration
	BatchSize     int
	RatePerMinute int
}

// Scheduler is the cooperative poller.
type Scheduler struct {
	store      *taskstore.Store
	dispatcher Dispatcher
	journal    *journal.Journal

	tickInterval time.Duration
	batchSize    int
	limiter      *rateLimiter
}

// New creates a scheduler, applying defaults.
func New(opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	return &Scheduler{
		store:        opts.Store,
		dispatcher:   opts.Dispatcher,
		journal:      opts.Journal,
		tickInterval: opts.TickInterval,
		batchSize:    opts.BatchSize,
		limiter:      newRateLimiter(opts.RatePerMinute, time.Minute),
	}
}

// Run ticks until ctx is cancelled. A failing tick is logged and skipped;
// the loop always continues on the next interval.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "tick", s.tickInterval, "batch", s.batchSize)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick fetches and executes one batch of due tasks. Over-fetching by 3x
// leaves room for rate-limit skipping without starving the next tick;
// deferred tasks stay active and due, so they are simply retried.
func (s *Scheduler) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	due, err := s.store.FetchDue(ctx, s.batchSize*3)
	if err != nil {
		return fmt.Errorf("fetch due: %w", err)
	}

	executed := 0
	for _, task := range due {
		if executed >= s.batchSize {
			break
		}
		if !s.limiter.Allow(time.Now()) {
			slog.Debug("rate limit reached, deferring remaining due tasks", "deferred", len(due)-executed)
			break
		}
		s.executeTask(ctx, task)
		executed++
	}
	return nil
}

// executeTask runs one task through the dispatcher and advances it via the
// recurrence engine in a single atomic completion.
func (s *Scheduler) executeTask(ctx context.Context, task *taskstore.Task) {
	started := time.Now().UTC()
	call := provider.ToolCall{
		ID:        fmt.Sprintf("sched-%s-%d", task.ID, started.Unix()),
		Name:      task.ToolName,
		Arguments: task.Args,
	}

	content, success := s.dispatcher.ExecuteScheduled(ctx, task.UserKey, call)
	finished := time.Now().UTC()

	run := taskstore.Run{
		StartedAt:  started,
		FinishedAt: finished,
		Success:    success,
	}
	if !success {
		run.Error = truncate(content, 500)
	}

	// Subsequent triggers derive from the task's current trigger, not from
	// wall-clock now, so an overdue recurring task catches up rather than
	// drifting.
	from := task.NextRun
	if from.IsZero() {
		from = started
	}
	var nextPtr *time.Time
	if next, ok := schedule.NextRun(task.Schedule, from); ok {
		nextPtr = &next
	}

	if err := s.store.CompleteRun(ctx, task, run, nextPtr); err != nil {
		slog.Error("complete_run failed", "task", task.ID, "error", err)
		s.journal.Record(journal.Entry{
			Kind:    journal.KindError,
			Summary: "scheduled task state update failed",
			Detail:  truncate(err.Error(), 500),
			UserKey: task.UserKey,
		})
		return
	}

	slog.Info("scheduled task executed",
		"task", task.ID, "tool", task.ToolName, "success", success,
		"runs", task.RunCount, "status", string(task.Status))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
