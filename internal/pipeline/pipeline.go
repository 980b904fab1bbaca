// Package pipeline downloads candidate packages, applies the publish
// decision table, and performs the catalog+file update.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	getter "github.com/hashicorp/go-getter/v2"

	"github.com/egorin/apkhub/internal/appver"
	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/history"
	"github.com/egorin/apkhub/internal/inspect"
)

const downloadTimeout = 5 * time.Minute

// Outcome tags the result of a publish attempt.
type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeAdded
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeAdded:
		return "added"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// SkipReason says why a candidate was not published.
type SkipReason string

const (
	SkipHashMatch SkipReason = "hash-match" // identical bytes already installed
	SkipDowngrade SkipReason = "downgrade"  // candidate version below installed
	SkipRebuild   SkipReason = "rebuild"    // same version, different bytes
)

// Result is the outcome of one publish attempt.
type Result struct {
	Outcome    Outcome
	Skip       SkipReason
	OldVersion string
	NewVersion string
	Err        error
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

// Notifier delivers fire-and-forget operator notifications. Implementations
// must not block on failure.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Pipeline owns the apk directory and drives candidate packages through
// download, verification, and publication.
type Pipeline struct {
	store     *catalog.Store
	inspector inspect.Inspector
	apkDir    string
	notifier  Notifier
	history   *history.Store
	getter    *getter.Client
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithHistory sets the publish-history store.
func WithHistory(h *history.Store) Option {
	return func(p *Pipeline) { p.history = h }
}

// SetNotifier wires the notification sink after construction. The bot both
// implements Notifier and depends on the pipeline, so it is attached late.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// New creates a Pipeline publishing into apkDir.
func New(store *catalog.Store, inspector inspect.Inspector, apkDir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		inspector: inspector,
		apkDir:    apkDir,
		getter:    &getter.Client{DisableSymlinks: true},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Staged is one downloaded candidate in an isolated temp directory. Whoever
// holds it must either consume it through the pipeline or call Discard.
type Staged struct {
	dir     string
	Path    string
	Version string
}

// Filename returns the staged file's base name.
func (st *Staged) Filename() string {
	return filepath.Base(st.Path)
}

// Discard removes the staging directory. Safe to call more than once.
func (st *Staged) Discard() {
	if st.dir != "" {
		os.RemoveAll(st.dir)
		st.dir = ""
	}
}

// Stage downloads url into a fresh temp directory under filename and
// extracts the candidate's version. Fails on empty downloads; never touches
// the catalog or the apk directory.
func (p *Pipeline) Stage(ctx context.Context, url, filename string) (*Staged, error) {
	dir, err := os.MkdirTemp("", "apkhub-stage-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	st := &Staged{dir: dir, Path: filepath.Join(dir, filename)}

	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req := &getter.Request{
		Src:             url,
		Dst:             st.Path,
		GetMode:         getter.ModeFile,
		DisableSymlinks: true,
	}
	if _, err := p.getter.Get(dlCtx, req); err != nil {
		st.Discard()
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}

	info, err := os.Stat(st.Path)
	if err != nil || info.Size() == 0 {
		st.Discard()
		return nil, fmt.Errorf("downloaded file is missing or empty")
	}

	st.Version = p.inspector.Version(ctx, st.Path)
	return st, nil
}

// Publish resolves one scheduler- or operator-triggered update end to end:
// stage the candidate from downloadURL, run the decision table, and replace
// the installed file and catalog record when the candidate wins. The staging
// directory is released on every exit path.
func (p *Pipeline) Publish(ctx context.Context, app *catalog.App, downloadURL, trigger string) Result {
	log.Printf("[pipeline] %s: downloading %s", app.Title, downloadURL)

	st, err := p.Stage(ctx, downloadURL, app.TargetFilename())
	if err != nil {
		res := failed(err)
		p.record(app, res, trigger)
		p.notify(ctx, fmt.Sprintf("❌ Update failed: %s\n%v", app.Title, err))
		return res
	}
	defer st.Discard()

	res := p.PublishStaged(ctx, app, st, false)
	p.record(app, res, trigger)

	switch res.Outcome {
	case OutcomeUpdated:
		p.notify(ctx, fmt.Sprintf("🔄 Updated: %s\nVersion: %s → %s", app.Title, res.OldVersion, res.NewVersion))
	case OutcomeAdded:
		p.notify(ctx, fmt.Sprintf("🆕 Added: %s\nVersion: %s", app.Title, res.NewVersion))
	case OutcomeFailed:
		p.notify(ctx, fmt.Sprintf("❌ Update failed: %s\n%v", app.Title, res.Err))
	case OutcomeSkipped:
		// Deliberate silence: skips are routine and would drown the channel.
		log.Printf("[pipeline] %s: skipped (%s)", app.Title, res.Skip)
	}
	return res
}

// PublishStaged applies the decision table to an already-staged candidate.
// With force set the table is bypassed entirely: the wizard passes force
// only after the operator explicitly confirmed a downgrade or rebuild.
//
// The staged package is consumed (its file moved into place) on Updated and
// Added. On Skipped it is left intact so an interactive caller can confirm
// and retry with force; such callers own the discard.
func (p *Pipeline) PublishStaged(ctx context.Context, app *catalog.App, st *Staged, force bool) Result {
	target := filepath.Join(p.apkDir, app.TargetFilename())
	newVer := st.Version
	oldVer := p.InstalledVersion(ctx, app)

	if _, err := os.Stat(target); err == nil && !force {
		oldHash, err := sha256File(target)
		if err != nil {
			return failed(fmt.Errorf("hashing installed file: %w", err))
		}
		newHash, err := sha256File(st.Path)
		if err != nil {
			return failed(fmt.Errorf("hashing staged file: %w", err))
		}
		if oldHash == newHash {
			return Result{Outcome: OutcomeSkipped, Skip: SkipHashMatch, OldVersion: oldVer, NewVersion: newVer}
		}

		switch appver.Compare(newVer, oldVer) {
		case -1:
			// Never auto-replace with an older version.
			return Result{Outcome: OutcomeSkipped, Skip: SkipDowngrade, OldVersion: oldVer, NewVersion: newVer}
		case 0:
			return Result{Outcome: OutcomeSkipped, Skip: SkipRebuild, OldVersion: oldVer, NewVersion: newVer}
		}
	}

	firstInstall := app.Version == ""
	if _, err := os.Stat(target); err == nil {
		firstInstall = false
	}

	if err := p.replace(app, st, target, newVer); err != nil {
		return failed(err)
	}

	outcome := OutcomeUpdated
	if firstInstall {
		outcome = OutcomeAdded
	}
	log.Printf("[pipeline] %s: %s %s → %s", app.Title, outcome, oldVer, newVer)
	return Result{Outcome: outcome, OldVersion: oldVer, NewVersion: newVer}
}

// replace moves the staged file into the canonical path and records the new
// version in the catalog.
func (p *Pipeline) replace(app *catalog.App, st *Staged, target, newVer string) error {
	if err := os.MkdirAll(p.apkDir, 0755); err != nil {
		return fmt.Errorf("creating apk directory: %w", err)
	}
	if err := moveFile(st.Path, target); err != nil {
		return fmt.Errorf("installing package: %w", err)
	}
	os.Chmod(target, 0644)
	st.Discard()

	err := p.store.Mutate(func(c *catalog.Catalog) error {
		i := c.FindByTitle(app.Title)
		if i < 0 {
			return fmt.Errorf("app %q not in catalog", app.Title)
		}
		c.Apps[i].Version = newVer
		c.Apps[i].LastUpdated = catalog.Now()
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording new version: %w", err)
	}
	app.Version = newVer
	return nil
}

// Add publishes a brand-new catalog entry from a staged package. The staged
// file is consumed on success.
func (p *Pipeline) Add(ctx context.Context, app catalog.App, st *Staged) error {
	app.Version = st.Version
	app.LastUpdated = catalog.Now()
	target := filepath.Join(p.apkDir, app.TargetFilename())

	err := p.store.Mutate(func(c *catalog.Catalog) error {
		if c.FindByTitle(app.Title) >= 0 {
			return fmt.Errorf("app %q already exists", app.Title)
		}
		if err := os.MkdirAll(p.apkDir, 0755); err != nil {
			return fmt.Errorf("creating apk directory: %w", err)
		}
		if err := moveFile(st.Path, target); err != nil {
			return fmt.Errorf("installing package: %w", err)
		}
		os.Chmod(target, 0644)
		c.Apps = append(c.Apps, app)
		return nil
	})
	if err != nil {
		return err
	}
	st.Discard()
	log.Printf("[pipeline] %s: added %s", app.Title, app.Version)
	return nil
}

// Remove deletes the app's installed file, if any, and drops its catalog
// entry.
func (p *Pipeline) Remove(app catalog.App) error {
	target := filepath.Join(p.apkDir, app.TargetFilename())
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing package file: %w", err)
	}
	err := p.store.Mutate(func(c *catalog.Catalog) error {
		i := c.FindByTitle(app.Title)
		if i < 0 {
			return fmt.Errorf("app %q not in catalog", app.Title)
		}
		c.Apps = append(c.Apps[:i], c.Apps[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[pipeline] %s: removed", app.Title)
	return nil
}

// InstalledVersion returns the version of the app's installed file when it
// exists and inspection succeeds, falling back to the catalog record, then
// to the unknown sentinel.
func (p *Pipeline) InstalledVersion(ctx context.Context, app *catalog.App) string {
	target := filepath.Join(p.apkDir, app.TargetFilename())
	if _, err := os.Stat(target); err == nil {
		if v := p.inspector.Version(ctx, target); v != appver.Unknown {
			return v
		}
	}
	if app.Version != "" {
		return app.Version
	}
	return appver.Unknown
}

func (p *Pipeline) notify(ctx context.Context, text string) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, text)
	}
}

func (p *Pipeline) record(app *catalog.App, res Result, trigger string) {
	if p.history == nil {
		return
	}
	e := &history.Event{
		App:        app.Title,
		Outcome:    res.Outcome.String(),
		OldVersion: res.OldVersion,
		NewVersion: res.NewVersion,
		Trigger:    trigger,
	}
	if res.Skip != "" {
		e.Detail = string(res.Skip)
	}
	if res.Err != nil {
		e.Detail = res.Err.Error()
	}
	if err := p.history.RecordEvent(e); err != nil {
		log.Printf("[pipeline] recording history: %v", err)
	}
}

// RecordOutcome exposes history recording for interactive callers that drive
// PublishStaged directly.
func (p *Pipeline) RecordOutcome(app *catalog.App, res Result, trigger string) {
	p.record(app, res, trigger)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// moveFile renames src over dst, falling back to copy+remove when the
// staging directory sits on another filesystem.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
