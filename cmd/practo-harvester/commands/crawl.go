package commands

import (
	"context"

	"github.com/spf13/cobra"

	"practo-harvester/internal/app"
	"practo-harvester/internal/observability"
)

var (
	crawlExports []string
	maxEntities  int
)

func init() {
	crawlCmd.Flags().StringSliceVar(&crawlExports, "export", nil, "files to export all stored doctors to after each run (.json, .csv)")
	crawlCmd.Flags().IntVar(&maxEntities, "max-entities", 0, "stop after this many profiles (overrides crawl.max_entities)")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--export doctors.json,doctors.csv]",
	Short: "Walks the listing pages and saves every doctor profile found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if maxEntities > 0 {
			cfg.Crawl.MaxEntities = maxEntities
		}

		ctx, cancel := app.GracefulShutdown(cmd.Context(), logger, 0)
		defer cancel()

		repo, err := app.OpenRepository(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeLogged(repo, "repository")

		pages, browser := app.NewPageFetcher(cfg, logger)
		defer closeLogged(browser, "browser")

		return app.NewScheduler(cfg, logger).Start(ctx, func(ctx context.Context, log *observability.Logger) error {
			o, err := app.NewOrchestratorFromConfig(cfg, pages, repo, log)
			if err != nil {
				return err
			}

			stats, err := o.Run(ctx)
			if stats != nil {
				printRunStats(cmd.OutOrStdout(), "crawl", stats)
			}
			if err != nil {
				return err
			}
			return exportAll(context.WithoutCancel(ctx), repo, crawlExports, log)
		})
	},
}
