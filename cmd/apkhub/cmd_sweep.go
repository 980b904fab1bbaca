package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/inspect"
	"github.com/egorin/apkhub/internal/pipeline"
	"github.com/egorin/apkhub/internal/scheduler"
	"github.com/egorin/apkhub/internal/source"
	"github.com/egorin/apkhub/internal/ui"
)

var sweepConfigPath string

func init() {
	sweepCmd.Flags().StringVar(&sweepConfigPath, "config", config.DefaultConfigPath, "path to config file")
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one update sweep over all sourced apps and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(sweepConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		store := catalog.NewStore(cfg.CatalogPath())
		hist, err := history.NewStore(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("opening history db: %w", err)
		}
		defer hist.Close()

		pipe := pipeline.New(store, inspect.NewAAPT(), cfg.APKDir(), pipeline.WithHistory(hist))
		sched := scheduler.New(store, source.NewResolver(), pipe, 0, scheduler.WithHistory(hist))

		sum, err := sched.Sweep(context.Background())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		fmt.Println(ui.Green.Render("✓") + " Sweep complete")
		fmt.Println(ui.Cyan.Render("  Checked: ") + ui.White.Render(fmt.Sprintf("%d", sum.Checked)))
		fmt.Println(ui.Cyan.Render("  Updated: ") + ui.White.Render(fmt.Sprintf("%d", sum.Updated)))
		if sum.Failed > 0 {
			fmt.Println(ui.Red.Render("  Failed:  ") + ui.White.Render(fmt.Sprintf("%d", sum.Failed)))
		}
		return nil
	},
}
