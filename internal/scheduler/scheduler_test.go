package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egorin/apkhub/internal/appver"
	"github.com/egorin/apkhub/internal/catalog"
	"github.com/egorin/apkhub/internal/pipeline"
	"github.com/egorin/apkhub/internal/source"
)

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

func TestSweepUpdatesSourcedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.apk":
			w.Write([]byte("2.0.0"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := catalog.NewStore(filepath.Join(dir, "apps.json"))
	require.NoError(t, store.Save(&catalog.Catalog{Apps: []catalog.App{
		{Title: "Good", URL: "https://apps.example.com/apks/Good.apk",
			SourceMethod: catalog.MethodDirect, SourceUpdate: srv.URL + "/good.apk"},
		{Title: "Manual", URL: "https://apps.example.com/apks/Manual.apk",
			SourceMethod: catalog.MethodManual},
		{Title: "Broken", URL: "https://apps.example.com/apks/Broken.apk",
			SourceMethod: catalog.MethodDirect, SourceUpdate: srv.URL + "/gone.apk"},
	}}))

	apkDir := filepath.Join(dir, "apks")
	pipe := pipeline.New(store, lineInspector{}, apkDir)
	s := New(store, source.NewResolver(), pipe, time.Hour)

	sum, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Checked)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.Failed)

	c, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", c.Apps[c.FindByTitle("Good")].Version)

	_, err = os.Stat(filepath.Join(apkDir, "Good.apk"))
	require.NoError(t, err)
}

func TestSweepSecondRunSkipsUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.0.0"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := catalog.NewStore(filepath.Join(dir, "apps.json"))
	require.NoError(t, store.Save(&catalog.Catalog{Apps: []catalog.App{
		{Title: "Good", URL: "https://apps.example.com/apks/Good.apk",
			SourceMethod: catalog.MethodDirect, SourceUpdate: srv.URL + "/good.apk"},
	}}))

	pipe := pipeline.New(store, lineInspector{}, filepath.Join(dir, "apks"))
	s := New(store, source.NewResolver(), pipe, time.Hour)

	sum, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)

	sum, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 0, sum.Updated)
	assert.Equal(t, 0, sum.Failed)
}

func TestSweepRefusesOverlap(t *testing.T) {
	dir := t.TempDir()
	store := catalog.NewStore(filepath.Join(dir, "apps.json"))
	require.NoError(t, store.Save(&catalog.Catalog{}))

	pipe := pipeline.New(store, lineInspector{}, filepath.Join(dir, "apks"))
	s := New(store, source.NewResolver(), pipe, time.Hour)

	s.sweepMu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Sweep(context.Background())
		assert.ErrorIs(t, err, ErrSweepInProgress)
	}()
	wg.Wait()
	s.sweepMu.Unlock()

	_, err := s.Sweep(context.Background())
	require.NoError(t, err)
}
