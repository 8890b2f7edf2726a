// Package cli defines the flowsmith command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/history"
	"github.com/suykerbuyk/flowsmith/internal/llm"
	"github.com/suykerbuyk/flowsmith/internal/logging"
	"github.com/suykerbuyk/flowsmith/internal/pipeline"
	"github.com/suykerbuyk/flowsmith/internal/store"
)

// Version is the release version, set at build time via -ldflags.
var Version = "dev"

// app is the state shared by every subcommand after PersistentPreRunE.
type app struct {
	verbose bool
	cfg     config.Config
	log     *zap.Logger

	// newClient builds the completion client for one run.
	newClient func() llm.Completer
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "flowsmith",
		Short: "Generate and audit Starknet smart contracts with an LLM",
		Long: `flowsmith turns plain-language requirements (or a visual flow) into Cairo
contracts and audits existing contracts, returning a validated report and a
corrected contract.

Model responses are parsed deterministically: a fenced JSON block wins, then
the outermost braces. Anything that does not validate is reported with its
failure kind and the raw response is archived for inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging, including raw model responses")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newAuditCmd(a),
		newHistoryCmd(a),
		newCheckCmd(a),
		newInitCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	a.log, err = logging.New(a.verbose)
	if err != nil {
		return err
	}

	provider := cfg.Provider
	a.newClient = func() llm.Completer {
		return llm.New(provider, provider.APIKey())
	}
	return nil
}

// openHistory opens the history database when enabled; nil otherwise.
func (a *app) openHistory() (*history.DB, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	db, err := history.Open(a.cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return db, nil
}

// pipeline builds a fresh pipeline for one run.
func (a *app) pipeline(rec pipeline.Recorder) *pipeline.Pipeline {
	c := a.cfg
	return pipeline.New(a.newClient(), pipeline.Deps{
		Store:          store.New(c.ContractsDir, c.Contract.Language),
		MaxTokens:      c.Provider.MaxTokens,
		Model:          c.Provider.Model,
		GeneratedName:  c.Contract.GeneratedName,
		CorrectedName:  c.Contract.CorrectedName,
		SaveCorrected:  c.Audit.SaveCorrected,
		ArchiveEnabled: c.Archive.Enabled,
		ArchiveDir:     c.ArchiveDir(),
		Compress:       c.Archive.Compress,
		History:        rec,
		Logger:         a.log,
	})
}

// recorder converts a possibly nil *history.DB into a Recorder without the
// typed-nil trap.
func recorder(db *history.DB) pipeline.Recorder {
	if db == nil {
		return nil
	}
	return db
}

// runContext applies the provider deadline.
func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := a.cfg.Provider.Timeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
