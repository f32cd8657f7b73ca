package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/tools"
)

// ToolResult is the normalized outcome of one tool invocation. Content is
// always human-readable text.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Success    bool
}

// maxJournalDetail caps how much tool output lands in the journal, to bound
// context growth when the digest is injected.
const maxJournalDetail = 500

// rejectionNotice is fed back to the model on a denied approval. The wording
// deliberately invites a different approach instead of a bare failure.
const rejectionNotice = "The user declined to approve this action. Do not retry it as-is; " +
	"consider a different approach or ask the user how they would like to proceed."

// Dispatcher resolves tool calls by name, applies the autonomy gate, invokes
// the tool, normalizes the outcome and records it to the journal.
type Dispatcher struct {
	registry *tools.Registry
	gate     *autonomy.Gate
	journal  *journal.Journal
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(registry *tools.Registry, gate *autonomy.Gate, jnl *journal.Journal) *Dispatcher {
	return &Dispatcher{registry: registry, gate: gate, journal: jnl}
}

// Execute runs one tool call for userKey. skipApproval bypasses the gate;
// the scheduler sets it because no user is present to answer. sourceType and
// sourceID describe where the call originated (channel name and chat id) and
// are injected into the tool arguments along with the user key.
//
// Execute never returns an error: every failure mode becomes a failed
// ToolResult so a single bad call cannot abort the turn.
func (d *Dispatcher) Execute(ctx context.Context, userKey string, call provider.ToolCall, sourceType, sourceID string, skipApproval bool) ToolResult {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		content := fmt.Sprintf("Tool %q not found. Available tools: %s",
			call.Name, strings.Join(d.registry.Names(), ", "))
		return d.finish(userKey, call, content, false)
	}

	risk := tools.ToolRisk(tool)
	if !skipApproval {
		if !d.gate.RequestApproval(ctx, userKey, call.Name, call.Arguments, risk) {
			return d.finish(userKey, call, rejectionNotice, false)
		}
	}

	args := make(map[string]any, len(call.Arguments)+3)
	for k, v := range call.Arguments {
		args[k] = v
	}
	args[tools.ParamUserKey] = userKey
	args[tools.ParamSourceType] = sourceType
	args[tools.ParamSourceID] = sourceID

	content, err := d.invoke(ctx, tool, args)
	if err != nil {
		return d.finish(userKey, call, fmt.Sprintf("Tool %q failed: %v", call.Name, err), false)
	}
	// Tools report user-facing problems as "Error: ..." text with a nil
	// error.
	if strings.HasPrefix(content, "Error") {
		return d.finish(userKey, call, content, false)
	}
	return d.finish(userKey, call, content, true)
}

// invoke runs the tool, converting panics into errors so a buggy tool cannot
// take down the loop.
func (d *Dispatcher) invoke(ctx context.Context, tool tools.Tool, args map[string]any) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

// finish wraps the content with a success marker, journals the outcome and
// builds the result. The prefix lets transcript consumers scan outcomes
// without re-parsing the success flag.
func (d *Dispatcher) finish(userKey string, call provider.ToolCall, content string, success bool) ToolResult {
	prefix := "[OK] "
	kind := journal.KindToolOK
	if !success {
		prefix = "[ERROR] "
		kind = journal.KindToolFail
		slog.Warn("tool call failed", "tool", call.Name, "user", userKey, "detail", truncate(content, 200))
	} else {
		slog.Debug("tool call succeeded", "tool", call.Name, "user", userKey)
	}

	d.journal.Record(journal.Entry{
		Kind:    kind,
		Summary: "tool " + call.Name,
		Detail:  truncate(content, maxJournalDetail),
		UserKey: userKey,
	})

	return ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    prefix + content,
		Success:    success,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
