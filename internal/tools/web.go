package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valetd/valet/internal/autonomy"
)

// maxFetchBytes caps how much of a response body is returned to the model.
const maxFetchBytes = 64 * 1024

// WebFetchTool fetches a URL and returns the response body as text.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a WebFetchTool with a bounded request timeout.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Risk() autonomy.Risk { return autonomy.RiskSafe }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL via HTTP GET and return the response body (truncated to 64KB)."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	url := GetString(params, "url", "")
	if url == "" {
		return "Error: url is required", nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "Error: only http and https URLs are supported", nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Sprintf("Error: invalid URL: %v", err), nil
	}
	req.Header.Set("User-Agent", "valet/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching URL: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), nil
	}
	truncated := false
	if len(body) > maxFetchBytes {
		body = body[:maxFetchBytes]
		truncated = true
	}

	var out strings.Builder
	out.WriteString(fmt.Sprintf("HTTP %d\n\n", resp.StatusCode))
	out.Write(body)
	if truncated {
		out.WriteString("\n\n[truncated]")
	}
	return out.String(), nil
}
