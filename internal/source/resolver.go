// Package source resolves a catalog entry's update descriptor to a concrete
// download URL.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/egorin/apkhub/internal/catalog"
)

// Reason classifies why a resolution failed.
type Reason string

const (
	ReasonMissingFilter Reason = "missing_filter"
	ReasonNoAssetMatch  Reason = "no_asset_match"
	ReasonAPIError      Reason = "api_error"
	ReasonBadCommand    Reason = "bad_command"
	ReasonUnknownMethod Reason = "unknown_method"
)

// ResolveError is a failed resolution attempt. Resolution failures are
// always recoverable: a sweep logs them and moves on.
type ResolveError struct {
	App    string
	Reason Reason
	Err    error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %s (%s): %v", e.App, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving %s: %s", e.App, e.Reason)
}

func (e *ResolveError) Unwrap() error { return e.Err }

const (
	apiTimeout     = 30 * time.Second
	commandTimeout = 30 * time.Second
)

// Resolver turns source descriptors into download URLs. It never mutates the
// catalog.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a Resolver with a bounded timeout for metadata calls.
func NewResolver() *Resolver {
	return &Resolver{client: &http.Client{Timeout: apiTimeout}}
}

// Resolve returns the concrete download URL for the app's declared source.
func (r *Resolver) Resolve(ctx context.Context, app *catalog.App) (string, error) {
	switch app.SourceMethod {
	case catalog.MethodDirect:
		return app.SourceUpdate, nil
	case catalog.MethodGitHubRelease:
		return r.resolveRelease(ctx, app, parseGitHubAssets)
	case catalog.MethodGitLabRelease:
		return r.resolveRelease(ctx, app, parseGitLabAssets)
	case catalog.MethodCustom:
		return resolveCustom(ctx, app)
	default:
		return "", &ResolveError{App: app.Title, Reason: ReasonUnknownMethod,
			Err: fmt.Errorf("sourceMethod %q", app.SourceMethod)}
	}
}

// asset is one downloadable release artifact, in either forge's shape.
type asset struct {
	Name string
	URL  string
}

// assetParser decodes a release-metadata API response into assets.
// GitHub and GitLab publish different JSON shapes; each gets its own
// concrete parse function.
type assetParser func(body []byte) ([]asset, error)

func parseGitHubAssets(body []byte) ([]asset, error) {
	var rel struct {
		Assets []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, err
	}
	assets := make([]asset, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		assets = append(assets, asset{Name: a.Name, URL: a.BrowserDownloadURL})
	}
	return assets, nil
}

func parseGitLabAssets(body []byte) ([]asset, error) {
	var rel struct {
		Assets struct {
			Assets []struct {
				Name string `json:"name"`
				URL  string `json:"url"`
			} `json:"assets"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, err
	}
	assets := make([]asset, 0, len(rel.Assets.Assets))
	for _, a := range rel.Assets.Assets {
		assets = append(assets, asset{Name: a.Name, URL: a.URL})
	}
	return assets, nil
}

func (r *Resolver) resolveRelease(ctx context.Context, app *catalog.App, parse assetParser) (string, error) {
	if app.SourceFilter == "" {
		return "", &ResolveError{App: app.Title, Reason: ReasonMissingFilter,
			Err: fmt.Errorf("sourceFilter is required for %s", app.SourceMethod)}
	}
	filter, err := regexp.Compile(app.SourceFilter)
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonMissingFilter,
			Err: fmt.Errorf("bad sourceFilter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.SourceUpdate, nil)
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonAPIError, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "apkhub-updater")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonAPIError, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &ResolveError{App: app.Title, Reason: ReasonAPIError,
			Err: fmt.Errorf("release API returned HTTP %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonAPIError, Err: err}
	}
	assets, err := parse(body)
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonAPIError,
			Err: fmt.Errorf("decoding release response: %w", err)}
	}

	for _, a := range assets {
		if filter.MatchString(a.Name) {
			log.Printf("[source] %s: matched asset %s", app.Title, a.Name)
			return a.URL, nil
		}
	}
	return "", &ResolveError{App: app.Title, Reason: ReasonNoAssetMatch,
		Err: fmt.Errorf("no asset matched filter %q", app.SourceFilter)}
}

// resolveCustom runs the entry's shell command and takes the first stdout
// line, which must be an http(s) URL.
func resolveCustom(ctx context.Context, app *catalog.App) (string, error) {
	if app.SourceUpdate == "" {
		return "", &ResolveError{App: app.Title, Reason: ReasonBadCommand,
			Err: fmt.Errorf("sourceUpdate is required for custom")}
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "sh", "-c", app.SourceUpdate).Output()
	if ctx.Err() == context.DeadlineExceeded {
		return "", &ResolveError{App: app.Title, Reason: ReasonBadCommand,
			Err: fmt.Errorf("command timed out after %s", commandTimeout)}
	}
	if err != nil {
		return "", &ResolveError{App: app.Title, Reason: ReasonBadCommand, Err: err}
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
		return "", &ResolveError{App: app.Title, Reason: ReasonBadCommand,
			Err: fmt.Errorf("command output is not a URL: %.50q", line)}
	}
	log.Printf("[source] %s: custom command resolved %.80s", app.Title, line)
	return line, nil
}
