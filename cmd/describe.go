package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/cube2222/udfbridge/graph"
)

var render bool

var describeCmd = &cobra.Command{
	Use:   "describe <pipeline.yaml>",
	Short: "Print the pipeline as a graphviz graph.",
	Example: `udfbridge describe pipeline.yaml | dot -Tpng > pipeline.png
udfbridge describe --render pipeline.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(args[0])
		if err != nil {
			return err
		}
		g, err := graph.Show(filepath.Base(args[0]), p.Visualize())
		if err != nil {
			return fmt.Errorf("couldn't render pipeline graph: %w", err)
		}
		if !render {
			fmt.Fprintln(cmd.OutOrStdout(), g.String())
			return nil
		}

		file, err := os.CreateTemp(os.TempDir(), "udfbridge-describe-*.png")
		if err != nil {
			return fmt.Errorf("couldn't create temporary file: %w", err)
		}
		dot := exec.CommandContext(cmd.Context(), "dot", "-Tpng")
		dot.Stdin = strings.NewReader(g.String())
		dot.Stdout = file
		dot.Stderr = cmd.ErrOrStderr()
		if err := dot.Run(); err != nil {
			file.Close()
			return fmt.Errorf("couldn't render graph: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("couldn't close temporary file: %w", err)
		}
		if err := open.Start(file.Name()); err != nil {
			return fmt.Errorf("couldn't open graph: %w", err)
		}
		return nil
	},
}

func init() {
	describeCmd.Flags().BoolVar(&render, "render", false, "Render the graph to a png with graphviz and open it.")
	rootCmd.AddCommand(describeCmd)
}
