package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/metrics"
	"github.com/cube2222/udfbridge/outputs"
)

var output string
var metricsFile string

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml>",
	Short: "Run a pipeline and print its output.",
	Example: `udfbridge run pipeline.yaml
udfbridge run --output json --local-storage pipeline.yaml
udfbridge run --metrics-file /var/lib/node_exporter/udfbridge.prom pipeline.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (outErr error) {
		ctx := cmd.Context()

		format, err := outputs.NewFormat(output, os.Stdout)
		if err != nil {
			return err
		}

		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil && outErr == nil {
				outErr = err
			}
			if metricsFile == "" {
				return
			}
			if err := metrics.WriteToFile(metricsFile); err != nil && outErr == nil {
				outErr = fmt.Errorf("couldn't write metrics: %w", err)
			}
		}()

		if err := p.Open(ctx); err != nil {
			return err
		}
		node, err := p.Node()
		if err != nil {
			return fmt.Errorf("couldn't build pipeline: %w", err)
		}

		if err := outputs.NewOutputPrinter(node, format).Run(execution.Context{Context: ctx}); err != nil {
			return fmt.Errorf("couldn't run pipeline: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&output, "output", "o", "table", "Output format, one of: table, json.")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write call and storage metrics to this file in the prometheus text format once the run ends.")
	rootCmd.AddCommand(runCmd)
}
