package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <pipeline.yaml>",
	Short: "Load every operator of a pipeline without running it.",
	Long: `Check creates the runtime of every operator and loads its code, reporting missing runtimes,
syntax errors and missing entry points. No data is processed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		if err := p.Open(cmd.Context()); err != nil {
			p.Close()
			return err
		}
		if err := p.Close(); err != nil {
			return err
		}
		for _, op := range p.Operators {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s operator ok\n", op.Spec.Name, op.Spec.Language, op.Spec.API)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
