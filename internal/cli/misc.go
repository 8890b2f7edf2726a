package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suykerbuyk/flowsmith/internal/check"
	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation and audit HTTP API",
		Long: `Serve the HTTP API:

  POST /generate          {requirements} or {nodes, edges, flowSummary}
  POST /generate/stream   same body, answers with a text/plain stream
  POST /audit             {contractCode}
  GET  /healthz

Each request builds its own provider client. Requests are rate limited per
client IP (server.rate_limit, server.burst).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			db, err := a.openHistory()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			s := server.New(server.Options{
				Config:    a.cfg,
				NewClient: a.newClient,
				History:   recorder(db),
				Logger:    a.log,
			})
			return s.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Diagnose configuration, directories and provider access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report := check.Run(a.cfg)
			fmt.Fprint(cmd.OutOrStdout(), report.Format())
			if report.HasFailures() {
				return errors.New("check failed")
			}
			return nil
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [contracts-dir]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := config.DefaultConfig().ContractsDir
			if len(args) == 1 {
				dir = args[0]
			}
			path, action, err := config.WriteDefault(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", action, config.CompressHome(path))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		// Skip config loading so version works with a broken config.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowsmith %s\n", Version)
		},
	}
}
