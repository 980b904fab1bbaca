package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/ui"
)

var (
	historyConfigPath string
	historyLimit      int
	historyApp        string
)

func init() {
	historyCmd.Flags().StringVar(&historyConfigPath, "config", config.DefaultConfigPath, "path to config file")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of events to show")
	historyCmd.Flags().StringVar(&historyApp, "app", "", "only show events for this app")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent publish events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(historyConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		hist, err := history.NewStore(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("opening history db: %w", err)
		}
		defer hist.Close()

		var events []*history.Event
		if historyApp != "" {
			events, err = hist.EventsForApp(historyApp, historyLimit)
		} else {
			events, err = hist.ListEvents(historyLimit)
		}
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println(ui.Dim.Render("No publish events recorded."))
			return nil
		}

		for _, e := range events {
			when := ui.Dim.Render(e.CreatedAt.Format("2006-01-02 15:04"))
			var outcome string
			switch e.Outcome {
			case "updated", "added":
				outcome = ui.Green.Render(e.Outcome)
			case "failed":
				outcome = ui.Red.Render(e.Outcome)
			default:
				outcome = ui.Yellow.Render(e.Outcome)
			}
			line := fmt.Sprintf("%s  %-8s %s", when, outcome, ui.White.Render(e.App))
			if e.NewVersion != "" {
				line += ui.Cyan.Render("  " + e.OldVersion + " → " + e.NewVersion)
			}
			if e.Detail != "" {
				line += ui.Dim.Render("  (" + e.Detail + ")")
			}
			fmt.Println(line)
		}

		if sweep, err := hist.LastSweep(); err == nil && sweep != nil {
			fmt.Println()
			fmt.Println(ui.Dim.Render(fmt.Sprintf("Last sweep: %s (%d checked, %d updated, %d failed)",
				sweep.FinishedAt.Format("2006-01-02 15:04"), sweep.Checked, sweep.Updated, sweep.Failed)))
		}
		return nil
	},
}
