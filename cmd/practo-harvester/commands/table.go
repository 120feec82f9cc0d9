package commands

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"practo-harvester/internal/app"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// printRunStats: итоговая таблица прогона
func printRunStats(w io.Writer, source string, stats *app.RunStats) {
	t := newTable(w)
	t.SetTitle("Run summary: %s", source)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Listing pages", stats.Pages},
		{"Discovered", stats.Discovered},
		{"Duplicates", stats.Duplicates},
		{"Accepted", stats.Accepted},
		{"Dropped (no name)", stats.Dropped},
		{"Failed", stats.Failed},
		{"Created", stats.Created},
		{"Updated", stats.Updated},
		{"Unchanged", stats.Skipped},
		{"Sink errors", stats.SinkErrors},
		{"Stopped", stats.StoppedReason},
		{"Duration", stats.Duration.Round(time.Millisecond).String()},
	})
	t.Render()
}

func closeLogged(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		logger.Error("Failed to close "+what, "error", err.Error())
	}
}
