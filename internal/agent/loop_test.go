package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valetd/valet/internal/approval"
	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/journal"
	"github.com/valetd/valet/internal/provider"
	"github.com/valetd/valet/internal/tools"
)

// mockProvider replays scripted responses in order. When the script is
// exhausted it returns the last response again.
type mockProvider struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	err       error
	requests  []*provider.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.ChatResponse{Content: "done"}, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *mockProvider) DefaultModel() string { return "mock-model" }

// echoTool records invocations and echoes its "text" argument.
type echoTool struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (t *echoTool) Name() string                   { return "echo" }
func (t *echoTool) Description() string            { return "Echo the given text." }
func (t *echoTool) Risk() autonomy.Risk            { return autonomy.RiskSafe }
func (t *echoTool) Parameters() map[string]any     { return map[string]any{"type": "object"} }
func (t *echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()
	return tools.GetString(params, "text", ""), nil
}

func newTestLoop(t *testing.T, prov provider.LLMProvider, level autonomy.Level) (*Loop, *bus.MessageBus, *journal.Journal, *tools.Registry) {
	t.Helper()
	msgBus := bus.NewMessageBus()
	jnl := journal.New(50)
	registry := tools.NewRegistry()
	loop := NewLoop(LoopOptions{
		Bus:       msgBus,
		Provider:  prov,
		Registry:  registry,
		Gate:      autonomy.NewGate(level),
		Journal:   jnl,
		Approvals: approval.NewManager(),
	})
	return loop, msgBus, jnl, registry
}

func toolCallResponse(calls ...provider.ToolCall) *provider.ChatResponse {
	return &provider.ChatResponse{ToolCalls: calls}
}

func TestTurnEndToEnd(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{
		toolCallResponse(provider.ToolCall{ID: "tc1", Name: "echo", Arguments: map[string]any{"text": "hi"}}),
		{Content: "all done"},
	}}
	loop, _, jnl, registry := newTestLoop(t, prov, autonomy.Autonomous)
	echo := &echoTool{}
	registry.Register(echo)

	reply, err := loop.ProcessDirect(context.Background(), "please echo", "cli:u1")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "all done" {
		t.Errorf("reply = %q", reply)
	}
	if len(echo.calls) != 1 {
		t.Fatalf("echo invoked %d times", len(echo.calls))
	}
	if echo.calls[0][tools.ParamUserKey] != "cli:u1" {
		t.Error("caller identity not injected into tool args")
	}

	// Second provider call must carry the tool-role result in order.
	second := prov.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "tc1" {
		t.Errorf("tool result not appended correctly: %+v", last)
	}
	if !strings.HasPrefix(last.Content, "[OK] ") {
		t.Errorf("tool result missing success prefix: %q", last.Content)
	}

	// Exactly one delivery-outcome entry is recorded per turn... ProcessDirect
	// returns the reply instead of delivering, so only tool_ok is journaled.
	entries := jnl.ForUser("cli:u1", 0)
	var toolOK int
	for _, e := range entries {
		if e.Kind == journal.KindToolOK {
			toolOK++
		}
	}
	if toolOK != 1 {
		t.Errorf("tool_ok entries = %d, want 1", toolOK)
	}
}

func TestUnknownToolListsAvailable(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{
		toolCallResponse(provider.ToolCall{ID: "tc1", Name: "teleport", Arguments: nil}),
		{Content: "ok"},
	}}
	loop, _, jnl, registry := newTestLoop(t, prov, autonomy.Autonomous)
	registry.Register(&echoTool{})

	if _, err := loop.ProcessDirect(context.Background(), "go", "cli:u1"); err != nil {
		t.Fatal(err)
	}

	second := prov.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.HasPrefix(last.Content, "[ERROR] ") || !strings.Contains(last.Content, "echo") {
		t.Errorf("unknown-tool result should fail and list names: %q", last.Content)
	}

	fails := 0
	for _, e := range jnl.ForUser("cli:u1", 0) {
		if e.Kind == journal.KindToolFail {
			fails++
		}
	}
	if fails != 1 {
		t.Errorf("tool_fail entries = %d, want 1", fails)
	}
}

func TestRejectedApprovalInvitesDifferentApproach(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{
		toolCallResponse(provider.ToolCall{ID: "tc1", Name: "echo", Arguments: map[string]any{"text": "x"}}),
		{Content: "understood"},
	}}
	loop, _, _, registry := newTestLoop(t, prov, autonomy.Paranoid)
	echo := &echoTool{}
	registry.Register(echo)
	loop.gate.SetAskFunc(func(ctx context.Context, userKey, tool string, args map[string]any) (bool, error) {
		return false, nil
	})

	if _, err := loop.ProcessDirect(context.Background(), "go", "cli:u1"); err != nil {
		t.Fatal(err)
	}
	if len(echo.calls) != 0 {
		t.Error("rejected tool must not execute")
	}
	last := prov.requests[1].Messages[len(prov.requests[1].Messages)-1]
	if !strings.Contains(last.Content, "different approach") {
		t.Errorf("rejection text should invite another approach: %q", last.Content)
	}
}

func TestProviderFailureAbortsTurn(t *testing.T) {
	prov := &mockProvider{err: errors.New("upstream 500")}
	loop, _, jnl, _ := newTestLoop(t, prov, autonomy.Autonomous)

	reply, err := loop.ProcessDirect(context.Background(), "hi", "cli:u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "upstream 500") {
		t.Errorf("provider failure must be user-visible: %q", reply)
	}
	if len(prov.requests) != 1 {
		t.Errorf("provider failure must not be retried, calls = %d", len(prov.requests))
	}
	if got := jnl.RecentErrors(time.Time{}, 10); len(got) == 0 {
		t.Error("provider failure should be journaled")
	}
}

func TestIterationLimit(t *testing.T) {
	// The provider keeps asking for tools forever.
	prov := &mockProvider{responses: []*provider.ChatResponse{
		toolCallResponse(provider.ToolCall{ID: "tc", Name: "echo", Arguments: map[string]any{"text": "x"}}),
	}}
	msgBus := bus.NewMessageBus()
	registry := tools.NewRegistry()
	registry.Register(&echoTool{})
	loop := NewLoop(LoopOptions{
		Bus:           msgBus,
		Provider:      prov,
		Registry:      registry,
		Gate:          autonomy.NewGate(autonomy.Autonomous),
		Journal:       journal.New(500),
		MaxIterations: 3,
	})

	reply, err := loop.ProcessDirect(context.Background(), "loop forever", "cli:u1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "limit of 3") {
		t.Errorf("expected iteration-limit notice, got %q", reply)
	}
	if len(prov.requests) != 3 {
		t.Errorf("provider called %d times, want 3", len(prov.requests))
	}
}

func TestSequentialBatchOrder(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{
		toolCallResponse(
			provider.ToolCall{ID: "a", Name: "echo", Arguments: map[string]any{"text": "first"}},
			provider.ToolCall{ID: "b", Name: "echo", Arguments: map[string]any{"text": "second"}},
		),
		{Content: "ok"},
	}}
	loop, _, _, registry := newTestLoop(t, prov, autonomy.Autonomous)
	echo := &echoTool{}
	registry.Register(echo)

	if _, err := loop.ProcessDirect(context.Background(), "go", "cli:u1"); err != nil {
		t.Fatal(err)
	}
	if len(echo.calls) != 2 || echo.calls[0]["text"] != "first" || echo.calls[1]["text"] != "second" {
		t.Fatalf("batch executed out of order: %v", echo.calls)
	}
	msgs := prov.requests[1].Messages
	n := len(msgs)
	if msgs[n-2].ToolCallID != "a" || msgs[n-1].ToolCallID != "b" {
		t.Error("tool results appended out of request order")
	}
}

func TestDigestInjectedOncePerUser(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{{Content: "hello"}}}
	loop, _, jnl, _ := newTestLoop(t, prov, autonomy.Autonomous)

	jnl.Record(journal.Entry{Kind: journal.KindToolFail, Summary: "scheduled exec failed", UserKey: "cli:u1"})

	loop.ProcessDirect(context.Background(), "first turn", "cli:u1")
	loop.ProcessDirect(context.Background(), "second turn", "cli:u1")

	countDigests := func(req *provider.ChatRequest) int {
		n := 0
		for _, m := range req.Messages {
			if m.Role == "system" && strings.Contains(m.Content, "scheduled exec failed") {
				n++
			}
		}
		return n
	}
	if countDigests(prov.requests[0]) != 1 {
		t.Error("first turn should carry the digest")
	}
	if countDigests(prov.requests[1]) != 1 {
		// The digest stays in the transcript from turn one but must not be
		// re-injected as a fresh system message.
		t.Error("digest re-delivered on second turn")
	}
}

func TestControlCommands(t *testing.T) {
	prov := &mockProvider{}
	loop, _, _, _ := newTestLoop(t, prov, autonomy.Balanced)

	reply, _ := loop.ProcessDirect(context.Background(), "/autonomy", "cli:u1")
	if !strings.Contains(reply, "balanced") {
		t.Errorf("/autonomy should report the level: %q", reply)
	}
	reply, _ = loop.ProcessDirect(context.Background(), "/autonomy paranoid", "cli:u1")
	if !strings.Contains(reply, "paranoid") || loop.gate.Level() != autonomy.Paranoid {
		t.Errorf("/autonomy paranoid failed: %q", reply)
	}
	reply, _ = loop.ProcessDirect(context.Background(), "/status", "cli:u1")
	if !strings.Contains(reply, "autonomy paranoid") {
		t.Errorf("/status = %q", reply)
	}
	if len(prov.requests) != 0 {
		t.Error("control commands must not reach the model")
	}
}

func TestDeliveryOutcomeJournaledOnceByTransport(t *testing.T) {
	prov := &mockProvider{responses: []*provider.ChatResponse{{Content: "hello there"}}}
	loop, msgBus, jnl, _ := newTestLoop(t, prov, autonomy.Autonomous)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	go msgBus.DispatchOutbound(ctx)

	// Stand-in transport: journals the outcome when the send result is known,
	// the way the real channels do.
	sent := make(chan *bus.OutboundMessage, 1)
	msgBus.Subscribe("telegram", func(m *bus.OutboundMessage) {
		jnl.Record(journal.Entry{Kind: journal.KindDeliveryOK, Summary: "reply delivered", UserKey: m.UserKey})
		sent <- m
	})

	msgBus.PublishInbound(&bus.InboundMessage{
		Channel: "telegram", SenderID: "7", ChatID: "group-99", Content: "hi",
	})

	var out *bus.OutboundMessage
	select {
	case out = <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message delivered")
	}

	// Sender identity rides along so group-chat failures reach the right
	// user's digest.
	if out.UserKey != "telegram:7" {
		t.Errorf("outbound user key = %q, want telegram:7", out.UserKey)
	}
	if out.ChatID != "group-99" {
		t.Errorf("outbound chat id = %q", out.ChatID)
	}

	// Exactly one delivery-outcome entry: the loop must not journal a second
	// one at publish time.
	deliveries := 0
	for _, e := range jnl.ForUser("telegram:7", 0) {
		if e.Kind == journal.KindDeliveryOK || e.Kind == journal.KindDeliveryFail {
			deliveries++
		}
	}
	if deliveries != 1 {
		t.Errorf("delivery-outcome entries = %d, want 1", deliveries)
	}
}

func TestRunInterceptsApprovalReplies(t *testing.T) {
	prov := &mockProvider{}
	loop, msgBus, _, _ := newTestLoop(t, prov, autonomy.Balanced)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	id := loop.approvals.Create(&approval.Request{UserKey: "telegram:7", Tool: "exec"})

	done := make(chan bool, 1)
	go func() {
		approved, err := loop.approvals.Wait(context.Background(), id)
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		done <- approved
	}()

	time.Sleep(10 * time.Millisecond)
	msgBus.PublishInbound(&bus.InboundMessage{
		Channel: "telegram", SenderID: "7", ChatID: "7",
		Content: fmt.Sprintf("approve:%s", id),
	})

	select {
	case approved := <-done:
		if !approved {
			t.Error("approve reply should resolve to true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval reply was not intercepted")
	}
}
