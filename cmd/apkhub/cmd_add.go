package main

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/config"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/inspect"
	"github.com/egorin/apkhub/internal/pipeline"
	"github.com/egorin/apkhub/internal/ui"
)

var addConfigPath string

var titlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func init() {
	addCmd.Flags().StringVar(&addConfigPath, "config", config.DefaultConfigPath, "path to config file")
	rootCmd.AddCommand(addCmd)
}

type addAnswers struct {
	Title        string
	Description  string
	Category     string
	NewCategory  string
	Method       string
	SourceUpdate string
	Confirmed    bool
}

var addCmd = &cobra.Command{
	Use:   "add <apk-file-or-url>",
	Short: "Add an app to the catalog from a local APK or a download URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]
		name, err := sourceFilename(src)
		if err != nil {
			return err
		}

		cfg, err := config.Load(addConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		store := catalog.NewStore(cfg.CatalogPath())
		if err := store.EnsureExists(); err != nil {
			return fmt.Errorf("initializing catalog: %w", err)
		}
		c, err := store.Load()
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}

		hist, err := history.NewStore(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("opening history db: %w", err)
		}
		defer hist.Close()

		answers := &addAnswers{}
		if err := buildAddForm(c, answers).Run(); err != nil {
			return err
		}
		if !answers.Confirmed {
			fmt.Println(ui.Dim.Render("Aborted."))
			return nil
		}
		category := answers.Category
		if category == "__new__" {
			category = answers.NewCategory
		}

		pipe := pipeline.New(store, inspect.NewAAPT(), cfg.APKDir(), pipeline.WithHistory(hist))

		ctx := context.Background()
		fmt.Println(ui.Dim.Render("Fetching " + src + "..."))
		staged, err := pipe.Stage(ctx, src, name)
		if err != nil {
			return fmt.Errorf("staging package: %w", err)
		}
		defer staged.Discard()

		app := catalog.App{
			Title:        answers.Title,
			Description:  answers.Description,
			URL:          strings.TrimRight(cfg.Domain, "/") + "/apks/" + answers.Title + ".apk",
			Category:     category,
			SourceMethod: answers.Method,
		}
		if answers.Method == catalog.MethodDirect {
			app.SourceUpdate = answers.SourceUpdate
		}

		ver := staged.Version
		if err := pipe.Add(ctx, app, staged); err != nil {
			return err
		}
		pipe.RecordOutcome(&app, pipeline.Result{Outcome: pipeline.OutcomeAdded, NewVersion: ver}, "cli")

		fmt.Println(ui.Green.Render("✓") + " Added " + ui.White.Render(answers.Title) +
			ui.Dim.Render(" (version "+ver+")"))
		return nil
	},
}

func buildAddForm(c *catalog.Catalog, answers *addAnswers) *huh.Form {
	categoryOpts := []huh.Option[string]{
		huh.NewOption("New category...", "__new__"),
	}
	for _, cat := range c.Categories() {
		categoryOpts = append(categoryOpts, huh.NewOption(cat, cat))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("Letters, digits, '_' and '-' only. Also names the published file.").
				Value(&answers.Title).
				Validate(func(s string) error {
					if !titlePattern.MatchString(s) {
						return fmt.Errorf("title may only contain letters, digits, '_' and '-'")
					}
					if c.FindByTitle(s) >= 0 {
						return fmt.Errorf("an app with this title already exists")
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Value(&answers.Description).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("description cannot be empty")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Category").
				Options(categoryOpts...).
				Value(&answers.Category),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("New category name").
				Value(&answers.NewCategory).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("category name cannot be empty")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return answers.Category != "__new__" }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Update method").
				Options(
					huh.NewOption("Manual (no automatic updates)", catalog.MethodManual),
					huh.NewOption("Direct URL", catalog.MethodDirect),
				).
				Value(&answers.Method),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Update source URL").
				Description("Checked on every sweep for new builds.").
				Value(&answers.SourceUpdate).
				Validate(func(s string) error {
					u, err := url.Parse(s)
					if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
						return fmt.Errorf("must be an http(s) URL")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return answers.Method != catalog.MethodDirect }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Add this app to the catalog?").
				Value(&answers.Confirmed),
		),
	).WithTheme(huh.ThemeCatppuccin())
}

func sourceFilename(src string) (string, error) {
	name := filepath.Base(src)
	if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		name = path.Base(u.Path)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".apk") {
		return "", fmt.Errorf("%s does not look like an .apk", src)
	}
	return name, nil
}
