package channels

import (
	"context"
	"testing"

	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/journal"
)

func TestParseApprovalCallback(t *testing.T) {
	tests := []struct {
		data     string
		id       string
		approved bool
		wantErr  bool
	}{
		{"appr:ab12cd34:yes", "ab12cd34", true, false},
		{"appr:ab12cd34:no", "ab12cd34", false, false},
		{"appr:ab12cd34:maybe", "", false, true},
		{"other:ab12cd34:yes", "", false, true},
		{"appr:yes", "", false, true},
		{"", "", false, true},
	}
	for _, tt := range tests {
		id, approved, err := ParseApprovalCallback(tt.data)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseApprovalCallback(%q): expected error", tt.data)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseApprovalCallback(%q): %v", tt.data, err)
			continue
		}
		if id != tt.id || approved != tt.approved {
			t.Errorf("ParseApprovalCallback(%q) = (%q, %v)", tt.data, id, approved)
		}
	}
}

func TestChatIDFromUserKey(t *testing.T) {
	id, err := chatIDFromUserKey("telegram:123456")
	if err != nil || id != 123456 {
		t.Errorf("chatIDFromUserKey = (%d, %v)", id, err)
	}
	if _, err := chatIDFromUserKey("console:local"); err == nil {
		t.Error("expected error for non-telegram user key")
	}
	if _, err := chatIDFromUserKey("telegram:notanumber"); err == nil {
		t.Error("expected error for non-numeric chat id")
	}
}

func TestConsoleSendJournalsDeliveryOutcome(t *testing.T) {
	jnl := journal.New(10)
	ch := NewConsoleChannel(bus.NewMessageBus(), jnl)

	err := ch.Send(context.Background(), &bus.OutboundMessage{
		Channel: "console",
		ChatID:  "group-42",
		UserKey: "console:local",
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	entries := jnl.ForUser("console:local", 0)
	if len(entries) != 1 || entries[0].Kind != journal.KindDeliveryOK {
		t.Fatalf("expected exactly one delivery_ok entry, got %+v", entries)
	}
	// The outcome is keyed by the recipient's user key, not the chat id.
	if entries[0].UserKey != "console:local" {
		t.Errorf("delivery entry keyed %q", entries[0].UserKey)
	}
}

func TestSummarizeArgsHidesInjectedParams(t *testing.T) {
	out := summarizeArgs(map[string]any{
		"command":   "ls -la",
		"_user_key": "telegram:1",
	})
	if out != "command: ls -la" {
		t.Errorf("summarizeArgs = %q", out)
	}
	if got := summarizeArgs(nil); got != "(no arguments)" {
		t.Errorf("summarizeArgs(nil) = %q", got)
	}
}
