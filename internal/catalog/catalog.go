// Package catalog owns the persisted APK catalog document.
//
// The catalog is a single JSON file read and rewritten from several entry
// points (HTTP API, scheduler sweeps, bot wizards). All mutation funnels
// through Store.Mutate, which holds a mutex across the whole
// load-modify-save cycle so racing writers cannot lose each other's updates.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source methods recognized in AppRecord.SourceMethod.
const (
	MethodDirect        = "direct"
	MethodGitHubRelease = "github_release"
	MethodGitLabRelease = "gitlab_release"
	MethodCustom        = "custom"
	MethodManual        = "manual"
)

// TimeLayout is the lastUpdated format used in the catalog document.
const TimeLayout = "2006-01-02T15:04:05Z"

// App is one catalog entry. Title is the unique key, matched and sorted
// case-insensitively.
type App struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	SourceUpdate string `json:"sourceUpdate,omitempty"`
	SourceMethod string `json:"sourceMethod"`
	SourceFilter string `json:"sourceFilter,omitempty"`
	Category     string `json:"category"`
	Version      string `json:"ver"`
	LastUpdated  string `json:"lastUpdated"`
}

// Catalog is the full persisted document.
type Catalog struct {
	Apps []App `json:"apps"`
}

var unsafeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// TargetFilename returns the canonical on-disk filename for the app: the
// final path segment of its public URL, or a sanitized title when no URL is
// set yet.
func (a *App) TargetFilename() string {
	if a.URL != "" {
		if idx := strings.LastIndex(a.URL, "/"); idx >= 0 {
			if name := a.URL[idx+1:]; name != "" {
				return name
			}
		}
	}
	title := a.Title
	if title == "" {
		title = "unknown"
	}
	return unsafeFilenameRe.ReplaceAllString(title, "_") + ".apk"
}

// HasSource reports whether the app declares an external update source.
// Manual entries never do and are skipped by scheduled sweeps.
func (a *App) HasSource() bool {
	return a.SourceUpdate != ""
}

// FindByTitle returns the index of the app with the exact title, or -1.
func (c *Catalog) FindByTitle(title string) int {
	for i := range c.Apps {
		if c.Apps[i].Title == title {
			return i
		}
	}
	return -1
}

// Categories returns the sorted, deduplicated category names across all apps.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for i := range c.Apps {
		cat := c.Apps[i].Category
		if cat == "" {
			cat = "Uncategorized"
		}
		if !seen[cat] {
			seen[cat] = true
			cats = append(cats, cat)
		}
	}
	sort.Strings(cats)
	return cats
}

// MatchFilename finds apps whose title plausibly matches an uploaded
// filename. The name is normalized (extension stripped, _/- replaced with
// spaces, lowercased); an app matches when its lowercased title is a
// substring of the normalized name, vice versa, or their word sets overlap.
// Returns catalog indices; callers branch on 0 / 1 / many.
func (c *Catalog) MatchFilename(filename string) []int {
	base := filename
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	normalized := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	nameWords := wordSet(normalized)

	var matches []int
	for i := range c.Apps {
		title := strings.ToLower(c.Apps[i].Title)
		if title == "" {
			continue
		}
		if strings.Contains(normalized, title) || strings.Contains(title, normalized) {
			matches = append(matches, i)
			continue
		}
		if intersects(wordSet(title), nameWords) {
			matches = append(matches, i)
		}
	}
	return matches
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func intersects(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}

// Now returns the current UTC time in the catalog's lastUpdated format.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Store persists the catalog document and serializes writers.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a Store for the catalog file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the catalog file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads and parses the catalog document.
func (s *Store) Load() (*Catalog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return &c, nil
}

// Save writes the catalog document, re-sorting entries by lowercase title
// first. The sorted form is an invariant of the file, not a transient view.
// The write goes through a temp file and rename so readers never observe a
// half-written document.
func (s *Store) Save(c *Catalog) error {
	sort.SliceStable(c.Apps, func(i, j int) bool {
		return strings.ToLower(c.Apps[i].Title) < strings.ToLower(c.Apps[j].Title)
	})

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing catalog: %w", err)
	}
	os.Chmod(tmpName, 0644)
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

// Mutate runs fn on a freshly loaded catalog and saves the result, holding
// the store lock across the whole cycle. Returning an error from fn aborts
// without saving. Callers must not perform network or subprocess work inside
// fn; do that first and pass the result in.
func (s *Store) Mutate(fn func(*Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return s.Save(c)
}

// EnsureExists writes an empty catalog document if none is present.
func (s *Store) EnsureExists() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.Save(&Catalog{Apps: []App{}})
}
