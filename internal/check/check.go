package check

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/history"
	"github.com/suykerbuyk/flowsmith/internal/store"
)

// Status represents the outcome of a single check.
type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "pass"
	case Warn:
		return "warn"
	case Fail:
		return "FAIL"
	default:
		return "unknown"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name   string
	Status Status
	Detail string
}

// Report aggregates all check results.
type Report struct {
	Results []Result
}

// HasFailures returns true if any result has Fail status.
func (r Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Status == Fail {
			return true
		}
	}
	return false
}

// Format returns the human-readable report string.
func (r Report) Format() string {
	if len(r.Results) == 0 {
		return "flowsmith check\n\n  no checks ran\n"
	}

	maxName := 0
	for _, res := range r.Results {
		maxName = max(maxName, len(res.Name))
	}

	var b strings.Builder
	b.WriteString("flowsmith check\n\n")

	var passed, warnings, failures int
	for _, res := range r.Results {
		switch res.Status {
		case Pass:
			passed++
		case Warn:
			warnings++
		case Fail:
			failures++
		}
		fmt.Fprintf(&b, "  %-4s  %-*s  %s\n", res.Status, maxName, res.Name, res.Detail)
	}

	fmt.Fprintf(&b, "\n%d passed, %d warning, %d failure\n", passed, warnings, failures)
	return b.String()
}

// CheckConfig reports the resolved config path. A missing file is fine:
// defaults apply. Broken TOML never gets this far.
func CheckConfig() Result {
	cfgPath := filepath.Join(config.ConfigDir(), "config.toml")
	if _, err := os.Stat(cfgPath); err != nil {
		return Result{Name: "config", Status: Warn, Detail: config.CompressHome(cfgPath) + " not found (using defaults)"}
	}
	return Result{Name: "config", Status: Pass, Detail: config.CompressHome(cfgPath)}
}

// CheckContractsDir checks where generated and corrected contracts land.
func CheckContractsDir(path, language string) Result {
	detail := fmt.Sprintf("%s (*%s)", config.CompressHome(path), store.Extension(language))
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: "contracts", Status: Warn, Detail: detail + " not found (created on first save)"}
	}
	if !info.IsDir() {
		return Result{Name: "contracts", Status: Fail, Detail: config.CompressHome(path) + " is not a directory"}
	}
	return Result{Name: "contracts", Status: Pass, Detail: detail}
}

// CheckDataDir checks the directory holding history and archived responses.
func CheckDataDir(path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: "data", Status: Warn, Detail: config.CompressHome(path) + " not found (fresh install)"}
	}
	if !info.IsDir() {
		return Result{Name: "data", Status: Fail, Detail: config.CompressHome(path) + " is not a directory"}
	}
	snapshots, _ := filepath.Glob(filepath.Join(path, "archive", "*.txt*"))
	return Result{Name: "data", Status: Pass, Detail: fmt.Sprintf("%s (%d archived responses)", config.CompressHome(path), len(snapshots))}
}

// CheckHistory opens the history database and counts recent runs.
func CheckHistory(hcfg config.HistoryConfig, path string) Result {
	if !hcfg.Enabled {
		return Result{Name: "history", Status: Pass, Detail: "disabled"}
	}
	if _, err := os.Stat(path); err != nil {
		return Result{Name: "history", Status: Warn, Detail: "history.db not found yet"}
	}
	db, err := history.Open(path)
	if err != nil {
		return Result{Name: "history", Status: Fail, Detail: err.Error()}
	}
	defer db.Close()

	runs, err := db.Recent(context.Background(), 1000)
	if err != nil {
		return Result{Name: "history", Status: Fail, Detail: err.Error()}
	}
	return Result{Name: "history", Status: Pass, Detail: fmt.Sprintf("history.db (%d runs)", len(runs))}
}

// CheckProvider checks the API key and base URL.
func CheckProvider(pcfg config.ProviderConfig) Result {
	u, err := url.Parse(pcfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{Name: "provider", Status: Fail, Detail: fmt.Sprintf("invalid base_url %q", pcfg.BaseURL)}
	}
	keyEnv := pcfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	if pcfg.APIKey() == "" {
		return Result{Name: "provider", Status: Fail, Detail: keyEnv + " not set"}
	}
	return Result{Name: "provider", Status: Pass, Detail: fmt.Sprintf("%s via %s, %s set", pcfg.Model, u.Host, keyEnv)}
}

// Run executes all checks against the given config and returns a report.
func Run(cfg config.Config) Report {
	var results []Result

	results = append(results, CheckConfig())
	results = append(results, CheckContractsDir(cfg.ContractsDir, cfg.Contract.Language))
	results = append(results, CheckDataDir(cfg.DataDir))
	results = append(results, CheckHistory(cfg.History, cfg.HistoryPath()))
	results = append(results, CheckProvider(cfg.Provider))

	return Report{Results: results}
}
