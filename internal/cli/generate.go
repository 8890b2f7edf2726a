package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suykerbuyk/flowsmith/internal/flow"
)

func newGenerateCmd(a *app) *cobra.Command {
	var (
		flowPath string
		stream   bool
	)
	cmd := &cobra.Command{
		Use:   "generate [requirements...]",
		Short: "Generate a contract from requirements or a flow file",
		Long: `Generate a Cairo contract and save it as <contracts_dir>/lib.cairo.

Requirements come from the arguments, from a flow document (--flow, YAML or
JSON with nodes, edges and flowSummary), or from stdin when the only
argument is "-".`,
		Example: `  flowsmith generate "ERC20 token with capped supply"
  flowsmith generate --flow token-flow.yaml --stream
  echo "simple counter with increment" | flowsmith generate -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requirements, err := readRequirements(cmd.InOrStdin(), args, flowPath)
			if err != nil {
				return err
			}

			db, err := a.openHistory()
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			ctx, cancel := a.runContext(cmd.Context())
			defer cancel()

			p := a.pipeline(recorder(db))
			out := cmd.OutOrStdout()
			if stream {
				res, err := p.GenerateStream(ctx, "", requirements, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "\nsaved: %s (run %s)\n", res.FilePath, res.RunID)
				return nil
			}

			res, err := p.Generate(ctx, "", requirements)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.SourceCode)
			fmt.Fprintf(cmd.ErrOrStderr(), "saved: %s (run %s)\n", res.FilePath, res.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&flowPath, "flow", "", "flow document (YAML or JSON) to flatten into requirements")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the contract as it is generated")
	return cmd
}

func readRequirements(stdin io.Reader, args []string, flowPath string) (string, error) {
	switch {
	case flowPath != "" && len(args) > 0:
		return "", errors.New("give requirements or --flow, not both")
	case flowPath != "":
		d, err := flow.Load(flowPath)
		if err != nil {
			return "", err
		}
		return d.Flatten()
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		return "", errors.New("requirements required (arguments, --flow or -)")
	}
}
