// Package tools provides the tool framework and the builtin tools the
// orchestration loop can dispatch.
package tools

import (
	"context"
	"sort"

	"github.com/valetd/valet/internal/autonomy"
	"github.com/valetd/valet/internal/provider"
)

// Caller-identity keys injected into every tool invocation. Tools are free
// to ignore them.
const (
	ParamUserKey    = "_user_key"
	ParamSourceType = "_source_type"
	ParamSourceID   = "_source_id"
)

// Tool is the interface every dispatchable tool implements.
type Tool interface {
	// Name returns the identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool. The string result is always human-readable
	// text; an error means the invocation itself failed.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// RiskyTool is an optional interface for tools that declare a risk level.
type RiskyTool interface {
	Tool
	Risk() autonomy.Risk
}

// ToolRisk returns a tool's declared risk, defaulting to safe for
// unclassified tools.
func ToolRisk(t Tool) autonomy.Risk {
	if rt, ok := t.(RiskyTool); ok {
		return rt.Risk()
	}
	return autonomy.RiskSafe
}

// Registry maps tool names to implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registered tools in OpenAI function format, in
// name order.
func (r *Registry) Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		tool := r.tools[name]
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value. JSON numbers arrive
// as float64.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetStringSlice extracts a list-of-strings parameter.
func GetStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
