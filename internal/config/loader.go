package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// ConfigFilePath returns the JSON config location, honouring
// VALET_CONFIG_FILE.
func ConfigFilePath() string {
	if explicit := strings.TrimSpace(os.Getenv("VALET_CONFIG_FILE")); explicit != "" {
		return explicit
	}
	return filepath.Join(DefaultHome(), "config.json")
}

// Load assembles the configuration: env-file candidates first (never
// overriding process env), then the JSON config file, then environment
// variables, then defaults. A missing config file is not an error.
func Load() (*Config, error) {
	LoadEnvFileCandidates()

	cfg := &Config{}

	path := ConfigFilePath()
	if data, err := os.ReadFile(path); err == nil {
		data = []byte(substituteEnv(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Environment variables win over the file.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration as indented JSON, readable only by the
// owner.
func Save(cfg *Config) error {
	path := ConfigFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references in the config file with their
// environment values. Unset variables substitute to the empty string.
func substituteEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
