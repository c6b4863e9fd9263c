package cli

import (
	"cohortq/internal/operations"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var operationsListQuiet bool
var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List federated operations",
	Long: `List the federated operations this build supports.

Operations are run with "cohortq query <operation>" (see "cohortq query --help").

Examples:
  # List all available operations
  cohortq operations list
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var operationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available operations",
	Long: `List all operations currently registered in this build.

Operations are sorted by ID.

Examples:
  cohortq operations list

Output:
  A vertical list of operations:
    ----------------------------------------
    OPERATION: {ID}
    ----------------------------------------
    {TITLE}
    {DESCRIPTION}
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, op := range operations.List() {
			if operationsListQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), op.ID())
			} else {
				printOperation(cmd.OutOrStdout(), op)
			}
		}
		return nil
	},
}

var operationsShowCmd = &cobra.Command{
	Use:   "show [operation]",
	Short: "Show details of an operation",
	Long: `Show the parameters of an operation by its ID.

Examples:
  cohortq operations show find-entities
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := operations.Resolve(args[0])
		if err != nil {
			return err
		}
		printOperation(cmd.OutOrStdout(), op)
		return nil
	},
}

func printOperation(w io.Writer, op operations.Operation) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "OPERATION: %s\n", op.ID())
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, op.Title())
	fmt.Fprintln(w, op.Description())
	fmt.Fprintf(w, "Default strategy: %s\n", op.DefaultStrategy())

	opts := op.Options()
	if len(opts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Parameters:")
		for _, opt := range opts {
			name := opt.Name
			if opt.Prefix {
				name += "<name>"
			}
			def := opt.Default
			if def == "" {
				def = "\"\""
			}
			fmt.Fprintf(w, "  %s\n", name)
			fmt.Fprintf(w, "    Description: %s\n", opt.Description)
			if opt.Required {
				fmt.Fprintln(w, "    Required:    yes")
			} else {
				fmt.Fprintf(w, "    Default:     %s\n", def)
			}
		}
	}
	fmt.Fprintln(w)
}

func init() {
	rootCmd.AddCommand(operationsCmd)
	operationsCmd.AddCommand(operationsListCmd)
	operationsListCmd.Flags().BoolVarP(&operationsListQuiet, "quiet", "q", false, "Only print operation IDs")
	operationsCmd.AddCommand(operationsShowCmd)
}
