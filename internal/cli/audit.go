package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suykerbuyk/flowsmith/internal/config"
	"github.com/suykerbuyk/flowsmith/internal/failure"
	"github.com/suykerbuyk/flowsmith/internal/history"
	"github.com/suykerbuyk/flowsmith/internal/render"
	"github.com/suykerbuyk/flowsmith/internal/store"
	"github.com/suykerbuyk/flowsmith/internal/validate"
	"github.com/suykerbuyk/flowsmith/internal/watch"
)

type auditOptions struct {
	watch    bool
	jsonOut  bool
	htmlPath string
	style    string
	width    int
	jobs     int
}

func newAuditCmd(a *app) *cobra.Command {
	var opts auditOptions
	cmd := &cobra.Command{
		Use:   "audit <contract>...",
		Short: "Audit contract files and save the corrected code",
		Long: `Audit one or more contract files. Each report is printed to the terminal and,
unless audit.save_corrected is false, the corrected contract is written to
<contracts_dir>/src/lib.cairo.

Several files are audited concurrently (audit.jobs, or --jobs). With --watch
a single file is re-audited every time it is saved.`,
		Example: `  flowsmith audit contracts/lib.cairo
  flowsmith audit --json token.cairo > report.json
  flowsmith audit --html report.html token.cairo
  flowsmith audit --watch contracts/lib.cairo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.watch || opts.htmlPath != "") && len(args) > 1 {
				return errors.New("--watch and --html take a single contract")
			}
			if opts.jobs <= 0 {
				opts.jobs = a.cfg.Audit.Jobs
			}
			if opts.watch && a.savesOver(args[0]) {
				a.log.Warn("watched file is the corrected contract; not saving corrected code",
					zap.String("path", args[0]))
				a.cfg.Audit.SaveCorrected = false
			}

			db, err := a.openHistory()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			if opts.watch {
				path := args[0]
				w := watch.New(path, watch.DefaultDebounce, a.log)
				// Audit once up front, then on every save.
				if err := a.auditFile(cmd.Context(), db, path, opts, cmd.OutOrStdout()); err != nil {
					a.log.Error("audit failed", zap.String("path", path), zap.Error(err))
				}
				return w.Run(cmd.Context(), func(ctx context.Context) error {
					return a.auditFile(ctx, db, path, opts, cmd.OutOrStdout())
				})
			}

			if len(args) == 1 {
				return a.auditFile(cmd.Context(), db, args[0], opts, cmd.OutOrStdout())
			}
			return a.auditBatch(cmd.Context(), db, args, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "re-audit whenever the file is saved")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the validated report as JSON")
	cmd.Flags().StringVar(&opts.htmlPath, "html", "", "also write the report as HTML to this path")
	cmd.Flags().StringVar(&opts.style, "style", "auto", "terminal style: auto, dark, light, notty")
	cmd.Flags().IntVar(&opts.width, "width", 100, "terminal wrap width")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "concurrent audits (default audit.jobs)")
	return cmd
}

// auditBatch audits every path with bounded concurrency. One failing file
// does not stop the others; the combined error lists every failure.
func (a *app) auditBatch(ctx context.Context, db *history.DB, paths []string, opts auditOptions, out io.Writer) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	jobs := opts.jobs
	if jobs <= 0 {
		jobs = config.DefaultConfig().Audit.Jobs
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, path := range paths {
		g.Go(func() error {
			var buf bytes.Buffer
			err := a.auditFile(gctx, db, path, opts, &buf)

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "== %s\n", path)
			out.Write(buf.Bytes())
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (a *app) auditFile(ctx context.Context, db *history.DB, path string, opts auditOptions, out io.Writer) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return failure.IOf(err, "read contract %s", path)
	}

	ctx, cancel := a.runContext(ctx)
	defer cancel()

	res, err := a.pipeline(recorder(db)).Audit(ctx, "", string(code))
	if err != nil {
		return err
	}

	if opts.htmlPath != "" {
		if err := writeHTML(res.Report, a.cfg.Contract.Language, opts.htmlPath); err != nil {
			return err
		}
	}

	if opts.jsonOut {
		fmt.Fprintln(out, validate.Pretty(res.Payload))
		return nil
	}

	text, err := render.Terminal(res.Report, a.cfg.Contract.Language, opts.style, opts.width)
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	if res.FilePath != "" {
		fmt.Fprintf(out, "corrected contract: %s\n", res.FilePath)
	}
	fmt.Fprintf(out, "run: %s\n", res.RunID)
	return nil
}

// savesOver reports whether saving the corrected contract would overwrite
// path, which in watch mode would trigger the next audit.
func (a *app) savesOver(path string) bool {
	if !a.cfg.Audit.SaveCorrected {
		return false
	}
	name := a.cfg.Contract.CorrectedName
	if name == "" {
		name = config.DefaultConfig().Contract.CorrectedName
	}
	corrected, err := store.New(a.cfg.ContractsDir, a.cfg.Contract.Language).Path(name)
	if err != nil {
		return false
	}
	watched, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if watched == corrected {
		return true
	}
	// Symlinked or differently spelled paths to the same file.
	wi, err1 := os.Stat(watched)
	ci, err2 := os.Stat(corrected)
	return err1 == nil && err2 == nil && os.SameFile(wi, ci)
}

func writeHTML(r *validate.AuditReport, language, path string) error {
	html, err := render.HTML(r, language)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return failure.IOf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return failure.IOf(err, "write %s", path)
	}
	return nil
}
