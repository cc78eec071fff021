package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cube2222/udfbridge/config"
	"github.com/cube2222/udfbridge/pipeline"
	_ "github.com/cube2222/udfbridge/runtime/starlarkudf"
	_ "github.com/cube2222/udfbridge/runtime/wasmudf"
)

var rootCmd = &cobra.Command{
	Use:   "udfbridge",
	Short: "Run user-defined operators written in embedded languages over columnar data.",
	Long: `udfbridge runs pipelines of user-defined operators. Each operator is code in a foreign
language, loaded into its own interpreter, fed tuples or arrow batches, and validated against
its output schema. Large binaries are exchanged through an S3 compatible object store.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute(ctx context.Context) {
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}

var localStorage bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&localStorage, "local-storage", false, "Keep large binaries in memory instead of the object store.")
}

// openPipeline reads the pipeline file and prepares its operators, without opening them.
func openPipeline(path string) (*pipeline.Pipeline, error) {
	cfg, err := config.ReadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read pipeline file: %w", err)
	}
	storageConfig, err := cfg.StorageConfig()
	if err != nil {
		return nil, fmt.Errorf("couldn't read storage configuration: %w", err)
	}
	if localStorage {
		storageConfig.Local = true
	}
	store, err := storageConfig.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("couldn't open large binary store: %w", err)
	}

	p, err := pipeline.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("couldn't create pipeline: %w", err)
	}
	return p, nil
}
