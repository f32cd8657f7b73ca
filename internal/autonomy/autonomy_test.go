package autonomy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNeedsApprovalTable(t *testing.T) {
	cases := []struct {
		level Level
		risk  Risk
		want  bool
	}{
		{Paranoid, RiskSafe, true},
		{Paranoid, RiskModerate, true},
		{Paranoid, RiskDangerous, true},
		{Careful, RiskSafe, false},
		{Careful, RiskModerate, true},
		{Careful, RiskDangerous, true},
		{Balanced, RiskSafe, false},
		{Balanced, RiskModerate, false},
		{Balanced, RiskDangerous, true},
		{Autonomous, RiskSafe, false},
		{Autonomous, RiskModerate, false},
		{Autonomous, RiskDangerous, false},
	}
	for _, tc := range cases {
		if got := tc.level.NeedsApproval(tc.risk); got != tc.want {
			t.Errorf("%s/%s: needsApproval=%v, want %v", tc.level, tc.risk, got, tc.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, l := range Levels() {
		parsed, err := ParseLevel(l.String())
		if err != nil || parsed != l {
			t.Errorf("ParseLevel(%q) = %v, %v", l.String(), parsed, err)
		}
	}
	if _, err := ParseLevel("yolo"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := ParseRisk("harmless"); err == nil {
		t.Error("expected error for unknown risk")
	}
}

func TestGateAutoApprove(t *testing.T) {
	g := NewGate(Autonomous)
	g.SetAskFunc(func(ctx context.Context, userKey, tool string, args map[string]any) (bool, error) {
		t.Fatal("callback must not fire when the level auto-approves")
		return false, nil
	})
	if !g.RequestApproval(context.Background(), "u1", "exec", nil, RiskDangerous) {
		t.Error("autonomous level should approve everything")
	}
}

func TestGateFailsOpenWithoutCallback(t *testing.T) {
	g := NewGate(Paranoid)
	if !g.RequestApproval(context.Background(), "u1", "exec", nil, RiskSafe) {
		t.Error("gate without a callback should fail open")
	}
}

func TestGateCallbackVerdict(t *testing.T) {
	g := NewGate(Balanced)
	verdict := false
	g.SetAskFunc(func(ctx context.Context, userKey, tool string, args map[string]any) (bool, error) {
		return verdict, nil
	})
	if g.RequestApproval(context.Background(), "u1", "exec", nil, RiskDangerous) {
		t.Error("rejected verdict should propagate")
	}
	verdict = true
	if !g.RequestApproval(context.Background(), "u1", "exec", nil, RiskDangerous) {
		t.Error("approved verdict should propagate")
	}
}

func TestGateTimeoutFailsClosed(t *testing.T) {
	g := NewGate(Paranoid)
	g.SetTimeout(20 * time.Millisecond)
	g.SetAskFunc(func(ctx context.Context, userKey, tool string, args map[string]any) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	if g.RequestApproval(context.Background(), "u1", "exec", nil, RiskSafe) {
		t.Error("timed-out approval must be treated as rejection")
	}
}

func TestGateDeliveryErrorFailsOpen(t *testing.T) {
	g := NewGate(Paranoid)
	g.SetAskFunc(func(ctx context.Context, userKey, tool string, args map[string]any) (bool, error) {
		return false, errors.New("chat unreachable")
	})
	if !g.RequestApproval(context.Background(), "u1", "exec", nil, RiskSafe) {
		t.Error("delivery failure should fail open")
	}
}
