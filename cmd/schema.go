package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cube2222/udfbridge/config"
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	Short:   "Print the JSON Schema of pipeline files.",
	Example: `udfbridge schema > pipeline.schema.json`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
