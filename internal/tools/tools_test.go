package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valetd/valet/internal/autonomy"
)

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(NewWebFetchTool())
	r.Register(NewReadFileTool())
	r.Register(NewListDirTool())

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	var names []string
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("definition type = %q", d.Type)
		}
		names = append(names, d.Function.Name)
	}
	want := []string{"list_dir", "read_file", "web_fetch"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("definitions order %v, want %v", names, want)
		}
	}
}

func TestToolRiskDefault(t *testing.T) {
	if ToolRisk(NewReadFileTool()) != autonomy.RiskSafe {
		t.Error("read_file should be safe")
	}
	if ToolRisk(NewExecTool(0, "")) != autonomy.RiskDangerous {
		t.Error("exec should be dangerous")
	}
	if ToolRisk(NewWriteFileTool(nil)) != autonomy.RiskModerate {
		t.Error("write_file should be moderate")
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"s":    "value",
		"n":    float64(7),
		"b":    true,
		"list": []any{"a", "b", 3},
	}
	if GetString(params, "s", "") != "value" {
		t.Error("GetString")
	}
	if GetString(params, "missing", "dflt") != "dflt" {
		t.Error("GetString default")
	}
	if GetInt(params, "n", 0) != 7 {
		t.Error("GetInt should handle float64")
	}
	if !GetBool(params, "b", false) {
		t.Error("GetBool")
	}
	got := GetStringSlice(params, "list")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("GetStringSlice = %v", got)
	}
}

func TestExecDenyPatterns(t *testing.T) {
	tool := NewExecTool(5*time.Second, "")
	for _, cmd := range []string{"rm -rf /", "sudo reboot", "mkfs /dev/sda1"} {
		out, err := tool.Execute(context.Background(), map[string]any{"command": cmd})
		if err != nil {
			t.Fatalf("deny should be a soft error: %v", err)
		}
		if !strings.Contains(out, "refused") {
			t.Errorf("command %q should be refused, got %q", cmd, out)
		}
	}
}

func TestExecRunsCommand(t *testing.T) {
	tool := NewExecTool(5*time.Second, "")
	out, err := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output = %q", out)
	}
}

func TestWriteFileWorkspaceRestriction(t *testing.T) {
	root := t.TempDir()
	tool := NewWriteFileTool(func() string { return root })

	inside := filepath.Join(root, "notes", "a.txt")
	out, err := tool.Execute(context.Background(), map[string]any{"path": inside, "content": "hi"})
	if err != nil || !strings.Contains(out, "Successfully wrote") {
		t.Fatalf("write inside workspace: %q, %v", out, err)
	}
	if data, _ := os.ReadFile(inside); string(data) != "hi" {
		t.Error("content not written")
	}

	outside := filepath.Join(t.TempDir(), "b.txt")
	out, _ = tool.Execute(context.Background(), map[string]any{"path": outside, "content": "hi"})
	if !strings.Contains(out, "outside workspace") {
		t.Errorf("write outside workspace should be refused, got %q", out)
	}
}

func TestReadFileMissing(t *testing.T) {
	tool := NewReadFileTool()
	out, err := tool.Execute(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "nope.txt")})
	if err != nil {
		t.Fatalf("missing file should be a soft error: %v", err)
	}
	if !strings.Contains(out, "not found") {
		t.Errorf("got %q", out)
	}
}
