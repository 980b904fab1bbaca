package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/egorin/apkhub/internal/bot"
	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/inspect"
	"github.com/egorin/apkhub/internal/pipeline"
	"github.com/egorin/apkhub/internal/scheduler"
	"github.com/egorin/apkhub/internal/server"
	"github.com/egorin/apkhub/internal/source"
	"github.com/egorin/apkhub/internal/wizard"
)

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath, "path to config file")
	rootCmd.AddCommand(serveCmd)
}

func getPrimaryIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return ""
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the APK Hub service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("APK Hub starting...\n")
		fmt.Printf("  data:    %s\n", cfg.DataDir)
		fmt.Printf("  listen:  %s:%d\n", cfg.Service.BindAddress, cfg.Service.Port)

		store := catalog.NewStore(cfg.CatalogPath())
		if err := store.EnsureExists(); err != nil {
			return fmt.Errorf("initializing catalog: %w", err)
		}
		if err := os.MkdirAll(cfg.APKDir(), 0755); err != nil {
			return fmt.Errorf("creating apk directory: %w", err)
		}
		if c, err := store.Load(); err == nil {
			fmt.Printf("  apps:    %d loaded\n", len(c.Apps))
		}

		hist, err := history.NewStore(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("opening history db: %w", err)
		}
		defer hist.Close()
		fmt.Printf("  history: %s\n", cfg.HistoryPath())

		pipe := pipeline.New(store, inspect.NewAAPT(), cfg.APKDir(), pipeline.WithHistory(hist))
		sched := scheduler.New(store, source.NewResolver(), pipe,
			time.Duration(cfg.Update.IntervalHours)*time.Hour,
			scheduler.WithHistory(hist))
		fmt.Printf("  sweep:   every %dh\n", cfg.Update.IntervalHours)

		var tgBot *bot.Bot
		if cfg.Bot.Token != "" {
			engine := wizard.NewEngine(store, pipe, cfg.Bot.AdminID, cfg.Domain)
			tgBot = bot.New(cfg, store, engine, sched)
			tgBot.SetHistory(hist)
			pipe.SetNotifier(tgBot)
			sched.SetNotifier(tgBot)
			fmt.Printf("  bot:     enabled (admin %d)\n", cfg.Bot.AdminID)
		} else {
			fmt.Printf("  bot:     disabled (no token)\n")
		}

		srv := server.New(cfg, store, server.WithSweeper(sched))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			addr := srv.Addr()
			if strings.HasPrefix(addr, "0.0.0.0:") {
				if ip := getPrimaryIP(); ip != "" {
					fmt.Printf("\nListening on http://%s (http://%s)\n", addr, ip+addr[len("0.0.0.0"):])
				} else {
					fmt.Printf("\nListening on http://%s\n", addr)
				}
			} else {
				fmt.Printf("\nListening on http://%s\n", addr)
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			return sched.Run(ctx)
		})
		if tgBot != nil {
			g.Go(func() error {
				return tgBot.Run(ctx)
			})
		}
		g.Go(func() error {
			<-ctx.Done()
			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
