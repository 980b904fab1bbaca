package main

import (
	"fmt"
	"os"

	"github.com/egorin/apkhub/internal/ui"
	"github.com/egorin/apkhub/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "apkhub",
	Short:   "APK Hub — self-hosted APK catalog and update service",
	Version: version.Version,
}

func init() {
	rootCmd.Long = ui.Green.Render("APK Hub") + " " + ui.Cyan.Render(version.Version) + "\n" +
		ui.Dim.Render("Serves a curated APK catalog over HTTP, keeps packages fresh from their upstream sources, and takes operator commands over Telegram.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
