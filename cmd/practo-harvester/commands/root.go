package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"practo-harvester/internal/config"
	"practo-harvester/internal/observability"
)

var (
	configPath string
	cfg        *config.Config
	logger     *observability.Logger
)

var rootCmd = &cobra.Command{
	Use:           "practo-harvester",
	Short:         "practo-harvester collects doctor profiles from Practo into a local database.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		logger = observability.NewLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config.yaml")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
