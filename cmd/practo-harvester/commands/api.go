package commands

import (
	"context"

	"github.com/spf13/cobra"

	"practo-harvester/internal/app"
	"practo-harvester/internal/observability"
)

var (
	apiCity           string
	apiSpecialization string
	apiLimit          int
	apiExports        []string
)

func init() {
	apiCmd.Flags().StringVar(&apiCity, "city", "", "city to search (overrides api.city)")
	apiCmd.Flags().StringVar(&apiSpecialization, "specialization", "", "specialization filter (overrides api.specialization)")
	apiCmd.Flags().IntVar(&apiLimit, "limit", 0, "maximum doctors to fetch (overrides api.limit)")
	apiCmd.Flags().StringSliceVar(&apiExports, "export", nil, "files to export all stored doctors to after each run (.json, .csv)")
	rootCmd.AddCommand(apiCmd)
}

var apiCmd = &cobra.Command{
	Use:   "api [--city bangalore] [--limit 500]",
	Short: "Pulls doctors from the structured search API instead of crawling pages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiCity != "" {
			cfg.API.City = apiCity
		}
		if apiSpecialization != "" {
			cfg.API.Specialization = apiSpecialization
		}
		if apiLimit > 0 {
			cfg.API.Limit = apiLimit
		}

		ctx, cancel := app.GracefulShutdown(cmd.Context(), logger, 0)
		defer cancel()

		repo, err := app.OpenRepository(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeLogged(repo, "repository")

		return app.NewScheduler(cfg, logger).Start(ctx, func(ctx context.Context, log *observability.Logger) error {
			runner, err := app.NewAPIRunnerFromConfig(cfg, repo, log)
			if err != nil {
				return err
			}

			stats, err := runner.Run(ctx)
			if stats != nil {
				printRunStats(cmd.OutOrStdout(), "api", stats)
			}
			if err != nil {
				return err
			}
			return exportAll(context.WithoutCancel(ctx), repo, apiExports, log)
		})
	},
}
