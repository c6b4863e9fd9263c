package cli

import (
	"cohortq/internal/config"
	"cohortq/internal/engine"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cohortCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Inspect a cohort file",
	Long: `Inspect the repositories listed in a cohort file.

Examples:
  cohortq cohort identify --cohort cohort.yaml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cohortIdentifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Ask every repository for its id",
	Long: `Ask every repository of the cohort for its repository id.

Identities are cached the same way federated calls cache them, so running this
against a shared identity cache (--identity-cache) warms it for later queries.

Exit codes:
	0 = every repository identified itself
	2 = some repositories could not be identified
	3 = fatal error (cohort file unusable)
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIdentify(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func runIdentify(cfg *config.Config, stdout, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	eng := engine.NewEngine(logger)
	eng.Stdout = stdout
	eng.Stderr = stderr
	results, err := eng.Identify(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}

	failed := 0
	for _, res := range results {
		printIdentifyResult(stdout, res)
		if res.Err != nil {
			failed++
		}
	}
	fmt.Fprintf(stdout, "%d of %d repositories identified\n", len(results)-failed, len(results))
	if failed > 0 {
		return 2
	}
	return 0
}

func printIdentifyResult(w io.Writer, res engine.IdentifyResult) {
	if res.Err != nil {
		color.New(color.FgRed).Fprintf(w, "%2d  %-20s %-7s %s %s\n", res.Position, res.Name, res.HandleKind, res.Code, res.Message)
		return
	}
	color.New(color.FgGreen).Fprintf(w, "%2d  %-20s %-7s %s (%dms)\n", res.Position, res.Name, res.HandleKind, res.ID, res.ElapsedMs)
}

func init() {
	rootCmd.AddCommand(cohortCmd)
	cohortCmd.AddCommand(cohortIdentifyCmd)
	bindCohortFlags(cohortIdentifyCmd)
}
