package commands

import (
	"context"

	"github.com/spf13/cobra"

	"practo-harvester/internal/app"
	"practo-harvester/internal/export"
	"practo-harvester/internal/observability"
	"practo-harvester/internal/storage"
)

func init() {
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export <doctors.json|doctors.csv>...",
	Short: "Exports every stored doctor to JSON and/or CSV files.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.OpenRepository(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeLogged(repo, "repository")

		return exportAll(cmd.Context(), repo, args, logger)
	},
}

func exportAll(ctx context.Context, repo storage.Reader, paths []string, log *observability.Logger) error {
	if len(paths) == 0 {
		return nil
	}

	records, err := repo.All(ctx)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := export.ToFile(path, records); err != nil {
			return err
		}
		log.Info("Exported doctors", "path", path, "records", len(records))
	}
	return nil
}
