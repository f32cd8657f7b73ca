package config

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFileCandidates reads KEY=VALUE pairs from the first-party env file
// locations into the process environment. A variable already present in the
// environment always wins over the file, so env files can hold defaults
// (API keys, tokens) without shadowing per-invocation overrides.
//
// Locations, in order: $VALET_ENV_FILE if set, then ~/.config/valet/env,
// ~/.valet/env and ~/.valet/.env. Missing files are skipped silently.
func LoadEnvFileCandidates() {
	var paths []string
	if p := strings.TrimSpace(os.Getenv("VALET_ENV_FILE")); p != "" {
		paths = append(paths, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "valet", "env"),
			filepath.Join(home, ".valet", "env"),
			filepath.Join(home, ".valet", ".env"),
		)
	}

	loaded := map[string]bool{}
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if loaded[p] {
			continue
		}
		loaded[p] = true

		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		applyEnvPairs(string(data))
	}
}

// applyEnvPairs parses dotenv-style content: blank lines and # comments are
// skipped, an optional "export " prefix is tolerated, and single or double
// quotes around the value are stripped.
func applyEnvPairs(content string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 {
			if q := val[0]; (q == '"' || q == '\'') && val[len(val)-1] == q {
				val = val[1 : len(val)-1]
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, val)
	}
}
