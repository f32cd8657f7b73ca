// Package agent implements the orchestration loop: repeated LLM calls and
// sequential tool dispatch for a single user turn, bounded by an iteration
// limit.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valetd/valet/internal/approval"
	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/session"
	"github.com/valetd/valet/internal/taskstore"
	"github.com/valetd/valet/internal/tools"
)

// DefaultMaxIterations bounds the think-act-observe cycle per turn.
const DefaultMaxIterations = 25

const defaultSystemPrompt = `You are Valet, an autonomous personal assistant. You can run tools to
act on the user's behalf, and you can schedule tools to run later. Be
concise. When a tool fails, explain what happened and suggest an
alternative instead of silently retrying.`

// LoopOptions configures a Loop. Bus, Provider, Registry, Gate and Journal
// are required.
type LoopOptions struct {
	Bus       *bus.MessageBus
	Provider  provider.LLMProvider
	Registry  *tools.Registry
	Gate      *autonomy.Gate
	Journal   *journal.Journal
	Approvals *approval.Manager
	Sessions  *session.Manager
	TaskStore *taskstore.Store

	Model         string
	MaxIterations int
	MaxTokens     int
	MaxHistory    int
	SystemPrompt  string
}

// Loop drives turns: one inbound message through LLM calls and tool dispatch
// to a terminated reply. Turns for different users run concurrently; within
// a turn, tool calls execute strictly in request order.
type Loop struct {
	bus        *bus.MessageBus
	provider   provider.LLMProvider
	registry   *tools.Registry
	gate       *autonomy.Gate
	journal    *journal.Journal
	approvals  *approval.Manager
	sessions   *session.Manager
	store      *taskstore.Store
	dispatcher *Dispatcher

	model         string
	maxIterations int
	maxTokens     int
	maxHistory    int
	systemPrompt  string
	startedAt     time.Time

	memMu sync.Mutex
	mem   map[string]*session.Session
}

// NewLoop creates a loop from options, applying defaults.
func NewLoop(opts LoopOptions) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 100
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.Model == "" && opts.Provider != nil {
		opts.Model = opts.Provider.DefaultModel()
	}
	return &Loop{
		bus:           opts.Bus,
		provider:      opts.Provider,
		registry:      opts.Registry,
		gate:          opts.Gate,
		journal:       opts.Journal,
		approvals:     opts.Approvals,
		sessions:      opts.Sessions,
		store:         opts.TaskStore,
		dispatcher:    NewDispatcher(opts.Registry, opts.Gate, opts.Journal),
		model:         opts.Model,
		maxIterations: opts.MaxIterations,
		maxTokens:     opts.MaxTokens,
		maxHistory:    opts.MaxHistory,
		systemPrompt:  opts.SystemPrompt,
		startedAt:     time.Now(),
	}
}

// Run consumes inbound messages until ctx is cancelled. Approval replies are
// intercepted here so a pending approval never ties up the consumer; every
// other message gets its own goroutine so one user's turn cannot block
// another's.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("agent loop started", "model", l.model, "max_iterations", l.maxIterations)
	for {
		msg, err := l.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		if l.interceptApproval(msg) {
			continue
		}
		go l.handleInbound(ctx, msg)
	}
}

// interceptApproval routes "approve:<id>" / "deny:<id>" replies to the
// approval manager. Returns true when the message was consumed.
func (l *Loop) interceptApproval(msg *bus.InboundMessage) bool {
	if l.approvals == nil {
		return false
	}
	text := strings.TrimSpace(strings.ToLower(msg.Content))
	var verdict bool
	var id string
	switch {
	case strings.HasPrefix(text, "approve:"):
		verdict, id = true, strings.TrimPrefix(text, "approve:")
	case strings.HasPrefix(text, "deny:"):
		verdict, id = false, strings.TrimPrefix(text, "deny:")
	default:
		return false
	}
	id = strings.TrimSpace(id)
	if err := l.approvals.Respond(id, verdict); err != nil {
		l.deliver(msg, fmt.Sprintf("No pending approval with id %s.", id))
		return true
	}
	slog.Info("approval resolved", "id", id, "approved", verdict, "user", msg.UserKey())
	return true
}

func (l *Loop) handleInbound(ctx context.Context, msg *bus.InboundMessage) {
	if reply, handled := l.controlCommand(ctx, msg); handled {
		l.deliver(msg, reply)
		return
	}
	reply := l.runTurn(ctx, msg)
	if reply != "" {
		l.deliver(msg, reply)
	}
}

// controlCommand handles slash commands without involving the model.
func (l *Loop) controlCommand(ctx context.Context, msg *bus.InboundMessage) (string, bool) {
	text := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case "/autonomy":
		if len(fields) == 1 {
			return fmt.Sprintf("Autonomy level: %s (valid: paranoid, careful, balanced, autonomous)", l.gate.Level()), true
		}
		level, err := autonomy.ParseLevel(fields[1])
		if err != nil {
			return fmt.Sprintf("Unknown level %q. Valid: paranoid, careful, balanced, autonomous.", fields[1]), true
		}
		l.gate.SetLevel(level)
		return fmt.Sprintf("Autonomy level set to %s.", level), true

	case "/tasks":
		if l.store == nil {
			return "Task scheduling is not enabled.", true
		}
		tasks, err := l.store.ListForUser(ctx, msg.UserKey(), 20)
		if err != nil {
			return fmt.Sprintf("Could not list tasks: %v", err), true
		}
		if len(tasks) == 0 {
			return "No scheduled tasks.", true
		}
		var out strings.Builder
		for _, t := range tasks {
			next := "-"
			if !t.NextRun.IsZero() {
				next = t.NextRun.Format(time.RFC3339)
			}
			fmt.Fprintf(&out, "%s  %-10s %s, next: %s\n", t.ID, t.Status, t.ToolName, next)
		}
		return out.String(), true

	case "/status":
		return fmt.Sprintf("up %s, autonomy %s, %d tools, inbound queue %d",
			time.Since(l.startedAt).Round(time.Second), l.gate.Level(),
			len(l.registry.Names()), l.bus.InboundSize()), true
	}
	return "", false
}

// runTurn executes one full turn and returns the final reply text. The
// think-act-observe cycle repeats until the model answers with text, the
// iteration budget runs out, or the provider fails.
func (l *Loop) runTurn(ctx context.Context, msg *bus.InboundMessage) string {
	userKey := msg.UserKey()
	sess := l.session(userKey)
	sess.Append(provider.Message{Role: "user", Content: msg.Content})
	defer l.saveSession(sess)

	for i := 0; i < l.maxIterations; i++ {
		// One-shot perception: unseen operational events are injected as a
		// system message exactly once per user.
		if digest := l.journal.DigestForInjection(userKey); digest != "" {
			sess.Append(provider.Message{Role: "system", Content: digest})
		}

		messages := append([]provider.Message{{Role: "system", Content: l.systemPrompt}},
			sess.History(l.maxHistory)...)

		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:  messages,
			Tools:     l.registry.Definitions(),
			Model:     l.model,
			MaxTokens: l.maxTokens,
		})
		if err != nil {
			// Provider failure is turn-fatal: surfaced, never retried here.
			slog.Error("provider call failed", "error", err, "user", userKey)
			l.journal.Record(journal.Entry{
				Kind:    journal.KindError,
				Summary: "LLM call failed",
				Detail:  truncate(err.Error(), maxJournalDetail),
				UserKey: userKey,
			})
			return fmt.Sprintf("Something went wrong talking to the model: %v", err)
		}

		if len(resp.ToolCalls) > 0 {
			sess.Append(provider.Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			// Strictly sequential: later calls in the batch may depend on
			// side effects of earlier ones.
			for _, call := range resp.ToolCalls {
				result := l.dispatcher.Execute(ctx, userKey, call, msg.Channel, msg.ChatID, false)
				sess.Append(provider.Message{
					Role:       "tool",
					Content:    result.Content,
					ToolCallID: call.ID,
					Name:       call.Name,
				})
			}
			continue
		}

		if resp.Content != "" {
			sess.Append(provider.Message{Role: "assistant", Content: resp.Content})
			return resp.Content
		}
		return "(The model returned an empty response.)"
	}

	return fmt.Sprintf("I hit the limit of %d tool iterations for this request. Ask me to continue if you want me to keep going.", l.maxIterations)
}

// ProcessDirect runs a single turn synchronously and returns the reply. Used
// by the CLI where no transport is listening on the bus.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	parts := strings.SplitN(sessionKey, ":", 2)
	channel, sender := "cli", sessionKey
	if len(parts) == 2 {
		channel, sender = parts[0], parts[1]
	}
	msg := &bus.InboundMessage{
		Channel:   channel,
		SenderID:  sender,
		ChatID:    sender,
		Content:   content,
		Timestamp: time.Now(),
	}
	if reply, handled := l.controlCommand(ctx, msg); handled {
		return reply, nil
	}
	return l.runTurn(ctx, msg), nil
}

// ExecuteScheduled dispatches a tool call with approval bypassed. Scheduled
// tasks run unattended; there is no user present to answer a prompt.
func (l *Loop) ExecuteScheduled(ctx context.Context, userKey string, call provider.ToolCall) (string, bool) {
	result := l.dispatcher.Execute(ctx, userKey, call, "scheduler", "", true)
	return result.Content, result.Success
}

// deliver publishes the reply. The delivery outcome is journaled by the
// transport once the send result is known, not here at publish time.
func (l *Loop) deliver(msg *bus.InboundMessage, text string) {
	l.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		UserKey: msg.UserKey(),
		TraceID: msg.TraceID,
		Content: text,
	})
}

func (l *Loop) session(userKey string) *session.Session {
	if l.sessions != nil {
		return l.sessions.GetOrCreate(userKey)
	}
	// No persistence configured: keep an in-memory transcript anyway.
	l.memMu.Lock()
	defer l.memMu.Unlock()
	if l.mem == nil {
		l.mem = make(map[string]*session.Session)
	}
	if s, ok := l.mem[userKey]; ok {
		return s
	}
	s := session.NewSession(userKey)
	l.mem[userKey] = s
	return s
}

func (l *Loop) saveSession(sess *session.Session) {
	sess.Trim(l.maxHistory)
	if l.sessions != nil {
		if err := l.sessions.Save(sess); err != nil {
			slog.Warn("session save failed", "key", sess.Key, "error", err)
		}
	}
}
