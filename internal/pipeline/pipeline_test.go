package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorin/apkhub/internal/appver"
	"github.com/egorin/apkhub/internal/catalog"
)

// lineInspector reports the first line of the file as its version, so tests
// can vary version and bytes independently.
type lineInspector struct{}

func (lineInspector) Version(_ context.Context, path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return appver.Unknown
	}
	line, _, _ := strings.Cut(string(data), "\n")
	if line == "" {
		return appver.Unknown
	}
	return line
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.messages = append(n.messages, text)
}

func newTestPipeline(t *testing.T, apps ...catalog.App) (*Pipeline, *catalog.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := catalog.NewStore(filepath.Join(dir, "apps.json"))
	require.NoError(t, store.Save(&catalog.Catalog{Apps: apps}))
	apkDir := filepath.Join(dir, "apks")
	return New(store, lineInspector{}, apkDir), store, apkDir
}

func stageFile(t *testing.T, name, content string) *Staged {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	line, _, _ := strings.Cut(content, "\n")
	return &Staged{dir: dir, Path: path, Version: line}
}

func TestPublishStagedFirstInstall(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, store, apkDir := newTestPipeline(t, app)

	res := p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.0.0"), false)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeAdded, res.Outcome)
	assert.Equal(t, "1.0.0", res.NewVersion)

	info, err := os.Stat(filepath.Join(apkDir, "demo.apk"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", c.Apps[0].Version)
	assert.NotEmpty(t, c.Apps[0].LastUpdated)
}

func TestPublishStagedUpgrade(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, _, _ := newTestPipeline(t, app)

	res := p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.0.0"), false)
	require.Equal(t, OutcomeAdded, res.Outcome)

	res = p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.1.0"), false)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, "1.0.0", res.OldVersion)
	assert.Equal(t, "1.1.0", res.NewVersion)
}

func TestPublishStagedSkipsIdenticalBytes(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, _, apkDir := newTestPipeline(t, app)

	require.Equal(t, OutcomeAdded, p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.0.0"), false).Outcome)
	before, err := os.Stat(filepath.Join(apkDir, "demo.apk"))
	require.NoError(t, err)

	st := stageFile(t, "demo.apk", "1.0.0")
	res := p.PublishStaged(context.Background(), &app, st, false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipHashMatch, res.Skip)

	after, err := os.Stat(filepath.Join(apkDir, "demo.apk"))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	// Skipped leaves the staged file for the caller.
	_, err = os.Stat(st.Path)
	assert.NoError(t, err)
	st.Discard()
}

func TestPublishStagedSkipsDowngrade(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, store, _ := newTestPipeline(t, app)

	require.Equal(t, OutcomeAdded, p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "2.0.0"), false).Outcome)

	res := p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.5.0"), false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipDowngrade, res.Skip)
	assert.Equal(t, "2.0.0", res.OldVersion)
	assert.Equal(t, "1.5.0", res.NewVersion)

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", c.Apps[0].Version)
}

func TestPublishStagedSkipsRebuild(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, _, _ := newTestPipeline(t, app)

	require.Equal(t, OutcomeAdded, p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.0.0\nbuild-a"), false).Outcome)

	res := p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.0.0\nbuild-b"), false)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipRebuild, res.Skip)
}

func TestPublishStagedForceBypassesTable(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, store, _ := newTestPipeline(t, app)

	require.Equal(t, OutcomeAdded, p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "2.0.0"), false).Outcome)

	res := p.PublishStaged(context.Background(), &app, stageFile(t, "demo.apk", "1.5.0"), true)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", c.Apps[0].Version)
}

func TestPublishDownloadsAndNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("3.1.4"))
	}))
	defer srv.Close()

	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, _, apkDir := newTestPipeline(t, app)
	n := &recordingNotifier{}
	p.notifier = n

	res := p.Publish(context.Background(), &app, srv.URL+"/demo.apk", "test")
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeAdded, res.Outcome)
	assert.Equal(t, "3.1.4", res.NewVersion)

	data, err := os.ReadFile(filepath.Join(apkDir, "demo.apk"))
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", string(data))

	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Added: Demo")
}

func TestPublishFailureNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk"}
	p, _, _ := newTestPipeline(t, app)
	n := &recordingNotifier{}
	p.notifier = n

	res := p.Publish(context.Background(), &app, srv.URL+"/demo.apk", "test")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Update failed: Demo")
}

func TestInstalledVersionFallbacks(t *testing.T) {
	app := catalog.App{Title: "Demo", URL: "https://example.com/demo.apk", Version: "0.9.0"}
	p, _, apkDir := newTestPipeline(t, app)

	// No installed file yet: catalog record wins.
	assert.Equal(t, "0.9.0", p.InstalledVersion(context.Background(), &app))

	// Installed file wins over the catalog record.
	require.NoError(t, os.MkdirAll(apkDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(apkDir, "demo.apk"), []byte("1.2.0"), 0644))
	assert.Equal(t, "1.2.0", p.InstalledVersion(context.Background(), &app))

	// Nothing known at all.
	unknown := catalog.App{Title: "Ghost", URL: "https://example.com/ghost.apk"}
	assert.Equal(t, appver.Unknown, p.InstalledVersion(context.Background(), &unknown))
}

func TestAddAndRemove(t *testing.T) {
	p, store, apkDir := newTestPipeline(t)

	app := catalog.App{Title: "Fresh", URL: "https://example.com/apks/Fresh.apk", Category: "Tools"}
	require.NoError(t, p.Add(context.Background(), app, stageFile(t, "Fresh.apk", "1.0.0")))

	c, err := store.Load()
	require.NoError(t, err)
	require.Len(t, c.Apps, 1)
	assert.Equal(t, "1.0.0", c.Apps[0].Version)
	_, err = os.Stat(filepath.Join(apkDir, "Fresh.apk"))
	require.NoError(t, err)

	// Duplicate titles are rejected.
	err = p.Add(context.Background(), app, stageFile(t, "Fresh.apk", "1.0.1"))
	assert.Error(t, err)

	require.NoError(t, p.Remove(app))
	c, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, c.Apps)
	_, err = os.Stat(filepath.Join(apkDir, "Fresh.apk"))
	assert.True(t, os.IsNotExist(err))
}

func TestStageRejectsEmptyDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p, _, _ := newTestPipeline(t)
	_, err := p.Stage(context.Background(), srv.URL+"/empty.apk", "empty.apk")
	assert.Error(t, err)
}
