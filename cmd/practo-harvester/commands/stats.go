package commands

import (
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"practo-harvester/internal/app"
)

var statsTop int

func init() {
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "how many specializations to list")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats [--top 10]",
	Short: "Shows how many doctors are stored, grouped by specialization.",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.OpenRepository(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeLogged(repo, "repository")

		records, err := repo.All(cmd.Context())
		if err != nil {
			return err
		}

		bySpec := map[string]int{}
		withFees, withRating := 0, 0
		for _, rec := range records {
			spec := rec.Specialization
			if spec == "" {
				spec = "(unknown)"
			}
			bySpec[spec]++
			if rec.Fees != "" {
				withFees++
			}
			if rec.Rating > 0 {
				withRating++
			}
		}

		specs := make([]string, 0, len(bySpec))
		for spec := range bySpec {
			specs = append(specs, spec)
		}
		sort.Slice(specs, func(i, j int) bool {
			if bySpec[specs[i]] != bySpec[specs[j]] {
				return bySpec[specs[i]] > bySpec[specs[j]]
			}
			return specs[i] < specs[j]
		})
		if statsTop > 0 && len(specs) > statsTop {
			specs = specs[:statsTop]
		}

		t := newTable(cmd.OutOrStdout())
		t.SetTitle("Stored doctors (%s)", cfg.Storage.Driver)
		t.AppendHeader(table.Row{"Specialization", "Doctors"})
		for _, spec := range specs {
			t.AppendRow(table.Row{spec, bySpec[spec]})
		}
		t.AppendFooter(table.Row{"Total", len(records)})
		t.AppendFooter(table.Row{"With fees", withFees})
		t.AppendFooter(table.Row{"With rating", withRating})
		t.Render()
		return nil
	},
}
