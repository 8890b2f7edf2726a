package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigDir returns the flowsmith config directory path.
// Uses $XDG_CONFIG_HOME/flowsmith if set, otherwise ~/.config/flowsmith.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "flowsmith")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "flowsmith")
}

// WriteDefault writes a default config.toml with contracts_dir set to contractsDir.
// Returns the config path and "created", or "exists" when a config is already present.
func WriteDefault(contractsDir string) (string, string, error) {
	dir := ConfigDir()
	path := filepath.Join(dir, "config.toml")

	if _, err := os.Stat(path); err == nil {
		return path, "exists", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create config dir: %w", err)
	}

	d := DefaultConfig()
	content := fmt.Sprintf(`contracts_dir = %q
data_dir = %q

[provider]
model = %q
api_key_env = %q
base_url = %q
max_tokens = %d
timeout_seconds = %d

[contract]
language = %q
generated_name = %q
corrected_name = %q

[server]
addr = %q
rate_limit = %.2f
burst = %d

[archive]
enabled = true
compress = true

[history]
enabled = true

[audit]
save_corrected = true
jobs = %d
`, CompressHome(contractsDir), d.DataDir,
		d.Provider.Model, d.Provider.APIKeyEnv, d.Provider.BaseURL, d.Provider.MaxTokens, d.Provider.TimeoutSeconds,
		d.Contract.Language, d.Contract.GeneratedName, d.Contract.CorrectedName,
		d.Server.Addr, d.Server.RateLimit, d.Server.Burst,
		d.Audit.Jobs)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", fmt.Errorf("write config: %w", err)
	}

	return path, "created", nil
}

// CompressHome replaces $HOME prefix with ~/ for portable config values.
func CompressHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home+"/") {
		return "~/" + path[len(home)+1:]
	}
	if path == home {
		return "~"
	}
	return path
}
