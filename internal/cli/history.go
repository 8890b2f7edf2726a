package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/suykerbuyk/flowsmith/internal/archive"
	"github.com/suykerbuyk/flowsmith/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generation and audit runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.requireHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tKIND\tSTATUS\tDETAIL")
			for _, e := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Status, detail(e))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.AddCommand(newHistoryShowCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its archived raw response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.requireHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			e, err := db.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %s\n", e.ID)
			fmt.Fprintf(out, "kind:      %s\n", e.Kind)
			fmt.Fprintf(out, "status:    %s\n", e.Status)
			fmt.Fprintf(out, "when:      %s\n", e.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "duration:  %s\n", e.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "model:     %s (%s)\n", e.Model, e.PromptVersion)
			if e.ErrorKind != "" {
				fmt.Fprintf(out, "error:     %s: %s\n", e.ErrorKind, e.Message)
			}
			if e.ContractName != "" {
				fmt.Fprintf(out, "contract:  %s (score %d)\n", e.ContractName, e.SecurityScore)
			}
			if e.FilePath != "" {
				fmt.Fprintf(out, "file:      %s\n", e.FilePath)
			}

			path := e.ArchivePath
			if path == "" {
				path, _ = archive.Find(e.ID, a.cfg.ArchiveDir())
			}
			if path == "" {
				return nil
			}
			raw, err := archive.Read(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n--- raw response (%s) ---\n%s\n", path, raw)
			return nil
		},
	}
}

func (a *app) requireHistory() (*history.DB, error) {
	db, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("history is disabled (history.enabled = false)")
	}
	return db, nil
}

func detail(e history.Entry) string {
	switch {
	case e.ErrorKind != "":
		return e.ErrorKind + ": " + e.Message
	case e.ContractName != "":
		return fmt.Sprintf("%s score %d", e.ContractName, e.SecurityScore)
	default:
		return e.FilePath
	}
}
