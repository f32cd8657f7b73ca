package autonomy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultApprovalTimeout bounds how long a pending approval may wait before
// it is treated as a rejection.
const DefaultApprovalTimeout = 300 * time.Second

// AskFunc asks the user to confirm a tool invocation. Implementations are
// supplied by the transport (inline keyboard, console prompt) and must not
// block other users' turns. The returned bool is the verdict; an error means
// the question could not be delivered at all.
type AskFunc func(ctx context.Context, userKey, toolName string, args map[string]any) (bool, error)

// Gate decides, per tool invocation, whether to proceed automatically or to
// wait for human approval. The level is mutable at runtime.
type Gate struct {
	mu      sync.RWMutex
	level   Level
	ask     AskFunc
	timeout time.Duration
}

// NewGate creates a gate at the given level with no approval callback
// registered.
func NewGate(level Level) *Gate {
	return &Gate{level: level, timeout: DefaultApprovalTimeout}
}

// Level returns the current autonomy level.
func (g *Gate) Level() Level {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.level
}

// SetLevel changes the autonomy level at runtime.
func (g *Gate) SetLevel(l Level) {
	g.mu.Lock()
	g.level = l
	g.mu.Unlock()
	slog.Info("autonomy level changed", "level", l.String())
}

// SetAskFunc registers the transport's approval callback.
func (g *Gate) SetAskFunc(f AskFunc) {
	g.mu.Lock()
	g.ask = f
	g.mu.Unlock()
}

// SetTimeout overrides the approval wait bound.
func (g *Gate) SetTimeout(d time.Duration) {
	g.mu.Lock()
	g.timeout = d
	g.mu.Unlock()
}

// RequestApproval returns true when the invocation may proceed. Calls that
// the level auto-approves return immediately. When approval is required but
// no callback is registered, or the question cannot be delivered, the gate
// fails open with a logged warning; a timeout while waiting fails closed.
func (g *Gate) RequestApproval(ctx context.Context, userKey, toolName string, args map[string]any, risk Risk) bool {
	g.mu.RLock()
	level, ask, timeout := g.level, g.ask, g.timeout
	g.mu.RUnlock()

	if !level.NeedsApproval(risk) {
		return true
	}

	if ask == nil {
		slog.Warn("approval required but no callback registered, auto-approving",
			"tool", toolName, "risk", risk.String(), "level", level.String())
		return true
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	approved, err := ask(waitCtx, userKey, toolName, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Info("approval timed out, rejecting", "tool", toolName, "user", userKey)
			return false
		}
		slog.Warn("approval channel failed, auto-approving",
			"tool", toolName, "error", err)
		return true
	}
	return approved
}
