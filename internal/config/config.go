package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// BaseURLEnv overrides provider.base_url when set.
const BaseURLEnv = "FLOWSMITH_BASE_URL"

// Config holds all flowsmith configuration.
type Config struct {
	ContractsDir string `toml:"contracts_dir"`
	DataDir      string `toml:"data_dir"`

	Provider ProviderConfig `toml:"provider"`
	Contract ContractConfig `toml:"contract"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	History  HistoryConfig  `toml:"history"`
	Audit    AuditConfig    `toml:"audit"`
}

type ProviderConfig struct {
	Model          string `toml:"model"`
	APIKeyEnv      string `toml:"api_key_env"`
	BaseURL        string `toml:"base_url"`
	MaxTokens      int    `toml:"max_tokens"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type ContractConfig struct {
	Language      string `toml:"language"`
	GeneratedName string `toml:"generated_name"`
	CorrectedName string `toml:"corrected_name"`
}

type ServerConfig struct {
	Addr      string  `toml:"addr"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

type ArchiveConfig struct {
	Enabled  bool `toml:"enabled"`
	Compress bool `toml:"compress"`
}

type HistoryConfig struct {
	Enabled bool `toml:"enabled"`
}

type AuditConfig struct {
	SaveCorrected bool `toml:"save_corrected"`
	Jobs          int  `toml:"jobs"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ContractsDir: "./contracts",
		DataDir:      "~/.local/share/flowsmith",
		Provider: ProviderConfig{
			Model:          "claude-3-opus-20240229",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			BaseURL:        "https://api.anthropic.com/v1",
			MaxTokens:      4096,
			TimeoutSeconds: 300,
		},
		Contract: ContractConfig{
			Language:      "cairo",
			GeneratedName: "lib",
			CorrectedName: "src/lib",
		},
		Server: ServerConfig{
			Addr:      ":3000",
			RateLimit: 1,
			Burst:     5,
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Compress: true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Audit: AuditConfig{
			SaveCorrected: true,
			Jobs:          2,
		},
	}
}

// Load reads config from the standard path, falling back to defaults.
func Load() (Config, error) {
	cfg := DefaultConfig()

	for _, p := range configPaths() {
		if _, err := os.Stat(p); err == nil {
			if _, err := toml.DecodeFile(p, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", p, err)
			}
			break
		}
	}

	if u := os.Getenv(BaseURLEnv); u != "" {
		cfg.Provider.BaseURL = u
	}

	cfg.ContractsDir = expandHome(cfg.ContractsDir)
	cfg.DataDir = expandHome(cfg.DataDir)

	return cfg, nil
}

func configPaths() []string {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "flowsmith", "config.toml"))
	}

	home, _ := os.UserHomeDir()
	if home != "" {
		paths = append(paths, filepath.Join(home, ".config", "flowsmith", "config.toml"))
	}

	return paths
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// ArchiveDir returns the directory holding raw model response snapshots.
func (c Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}

// HistoryPath returns the run history database path.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// APIKey returns the provider API key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	env := p.APIKeyEnv
	if env == "" {
		env = "ANTHROPIC_API_KEY"
	}
	return os.Getenv(env)
}

// Timeout is the caller-side deadline for one completion call; zero means none.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}
